package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestFindByIDForUpdateLocksRowOnPostgres(t *testing.T) {
	db, mock := openMockPostgres(t)

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "subscription_id", "user_id", "delivery_date", "address", "delivery_time",
		"status", "version", "created_at", "status_updated_at", "confirmed_at",
	}).AddRow(int64(1), int64(10), int64(100), day, "12 Baker Street", "18:00:00",
		"SHIPPED", int64(4), day, day, nil)
	mock.ExpectQuery(`FROM deliveries d WHERE d\.id = \$1 FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	got, err := Provide().FindByID(context.Background(), db, 1, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, deliverydomain.StatusShipped, got.Status)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, "18:00", got.DeliveryTime.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusZeroRowsIsConcurrentUpdate(t *testing.T) {
	db, mock := openMockPostgres(t)

	mock.ExpectExec(`UPDATE deliveries`).
		WithArgs("DELIVERED", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := Provide().UpdateStatus(context.Background(), db, deliverydomain.StatusUpdate{
		ID:              1,
		ExpectedVersion: 3,
		Status:          deliverydomain.StatusDelivered,
		StatusUpdatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, deliverydomain.ErrConcurrentUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorsPropagate(t *testing.T) {
	db, mock := openMockPostgres(t)

	boom := errors.New("connection reset")
	mock.ExpectQuery(`FROM deliveries d`).WillReturnError(boom)

	_, err := Provide().FindByStatusIn(context.Background(), db,
		[]deliverydomain.Status{deliverydomain.StatusPreparing}, 0, 10)
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
