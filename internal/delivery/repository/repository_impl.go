package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	dbutil "github.com/smallbiznis/mealdelivery/pkg/db"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
	"gorm.io/gorm"
)

const deliveryColumns = `d.id, d.subscription_id, d.user_id, d.delivery_date, d.address, d.delivery_time,
	 d.status, d.version, d.created_at, d.status_updated_at, d.confirmed_at`

type repo struct{}

func Provide() deliverydomain.Repository {
	return &repo{}
}

type deliveryRow struct {
	ID              snowflake.ID
	SubscriptionID  snowflake.ID
	UserID          snowflake.ID
	DeliveryDate    time.Time
	Address         string
	DeliveryTime    timeofday.Null
	Status          deliverydomain.Status
	Version         int64
	CreatedAt       time.Time
	StatusUpdatedAt time.Time
	ConfirmedAt     *time.Time
}

func (r deliveryRow) toDomain() *deliverydomain.Delivery {
	return &deliverydomain.Delivery{
		ID:              r.ID,
		SubscriptionID:  r.SubscriptionID,
		UserID:          r.UserID,
		DeliveryDate:    r.DeliveryDate.UTC(),
		Address:         r.Address,
		DeliveryTime:    r.DeliveryTime.Ptr(),
		Status:          r.Status,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.UTC(),
		StatusUpdatedAt: r.StatusUpdatedAt.UTC(),
		ConfirmedAt:     utcPtr(r.ConfirmedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date time.Time) (*deliverydomain.Delivery, error) {
	var rows []deliveryRow
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM deliveries d
		 WHERE d.subscription_id = ? AND d.delivery_date = ?
		 ORDER BY d.id ASC
		 LIMIT 2`,
		subscriptionID,
		date,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		return rows[0].toDomain(), nil
	default:
		return nil, fmt.Errorf("%w: subscription %s on %s", deliverydomain.ErrDuplicateDelivery,
			subscriptionID, date.Format(deliverydomain.DateLayout))
	}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*deliverydomain.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries d WHERE d.id = ?`
	if forUpdate && dbutil.SupportsRowLocks(db) {
		query += ` FOR UPDATE`
	}

	var rows []deliveryRow
	if err := db.WithContext(ctx).Raw(query, id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

func (r *repo) FindByStatusIn(ctx context.Context, db *gorm.DB, statuses []deliverydomain.Status, afterID snowflake.ID, limit int) ([]deliverydomain.Delivery, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	codes := make([]string, 0, len(statuses))
	for _, status := range statuses {
		codes = append(codes, string(status))
	}

	var rows []deliveryRow
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM deliveries d
		 WHERE d.status IN ? AND d.id > ?
		 ORDER BY d.id ASC
		 LIMIT ?`,
		codes,
		afterID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	items := make([]deliverydomain.Delivery, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row.toDomain())
	}
	return items, nil
}

// FindForUserOnDate returns the user's earliest delivery for date. Users with
// several subscriptions still get a single row.
func (r *repo) FindForUserOnDate(ctx context.Context, db *gorm.DB, userID snowflake.ID, date time.Time) (*deliverydomain.Delivery, error) {
	var rows []deliveryRow
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM deliveries d
		 WHERE d.user_id = ? AND d.delivery_date = ?
		 ORDER BY d.id ASC
		 LIMIT 1`,
		userID,
		date,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toDomain(), nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, delivery *deliverydomain.Delivery) error {
	if delivery.Version == 0 {
		delivery.Version = 1
	}
	err := db.WithContext(ctx).Exec(
		`INSERT INTO deliveries (
			id, subscription_id, user_id, delivery_date, address, delivery_time,
			status, version, created_at, status_updated_at, confirmed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		delivery.ID,
		delivery.SubscriptionID,
		delivery.UserID,
		delivery.DeliveryDate,
		delivery.Address,
		timeofday.NullFrom(delivery.DeliveryTime),
		delivery.Status,
		delivery.Version,
		delivery.CreatedAt,
		delivery.StatusUpdatedAt,
		delivery.ConfirmedAt,
	).Error
	if dbutil.IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: subscription %s on %s", deliverydomain.ErrDuplicateDelivery,
			delivery.SubscriptionID, delivery.DeliveryDate.Format(deliverydomain.DateLayout))
	}
	return err
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, update deliverydomain.StatusUpdate) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE deliveries
		 SET status = ?, status_updated_at = ?, confirmed_at = COALESCE(confirmed_at, ?), version = version + 1
		 WHERE id = ? AND version = ?`,
		update.Status,
		update.StatusUpdatedAt,
		update.ConfirmedAt,
		update.ID,
		update.ExpectedVersion,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return deliverydomain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repo) UpdatePreferences(ctx context.Context, db *gorm.DB, update deliverydomain.PreferencesUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if update.DeliveryTime != nil {
		sets = append(sets, "delivery_time = ?")
		args = append(args, *update.DeliveryTime)
	}
	if update.Address != nil {
		sets = append(sets, "address = ?")
		args = append(args, *update.Address)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "version = version + 1")
	args = append(args, update.ID, update.ExpectedVersion, deliverydomain.StatusPreparing)

	result := db.WithContext(ctx).Exec(
		`UPDATE deliveries SET `+strings.Join(sets, ", ")+`
		 WHERE id = ? AND version = ? AND status = ?`,
		args...,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return deliverydomain.ErrConcurrentUpdate
	}
	return nil
}

func (r *repo) StatusDefined(ctx context.Context, db *gorm.DB, status deliverydomain.Status) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM delivery_statuses WHERE code = ?`,
		string(status),
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date time.Time) ([]deliverydomain.MealRef, error) {
	var meals []deliverydomain.MealRef
	err := db.WithContext(ctx).Raw(
		`SELECT m.id, m.name
		 FROM scheduled_meals sm
		 JOIN meals m ON m.id = sm.meal_id
		 WHERE sm.subscription_id = ? AND sm.scheduled_date = ?
		 ORDER BY sm.position ASC, sm.id ASC`,
		subscriptionID,
		date,
	).Scan(&meals).Error
	if err != nil {
		return nil, err
	}
	return meals, nil
}

func (r *repo) GetOwner(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*deliverydomain.DeliveryOwner, error) {
	var rows []deliverydomain.DeliveryOwner
	err := db.WithContext(ctx).Raw(
		`SELECT u.id AS user_id, u.email AS user_email, u.full_name AS user_name, COALESCE(p.name, '') AS plan_name
		 FROM subscriptions s
		 JOIN users u ON u.id = s.user_id
		 LEFT JOIN plans p ON p.id = s.plan_id
		 WHERE s.id = ?`,
		subscriptionID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter deliverydomain.ListFilter) ([]*deliverydomain.Delivery, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != 0 {
		where = append(where, "d.user_id = ?")
		args = append(args, filter.UserID)
	}
	if email := strings.TrimSpace(filter.UserEmail); email != "" {
		where = append(where, "LOWER(u.email) LIKE ?")
		args = append(args, "%"+strings.ToLower(email)+"%")
	}
	if filter.SubscriptionID != 0 {
		where = append(where, "d.subscription_id = ?")
		args = append(args, filter.SubscriptionID)
	}
	if filter.Status != "" {
		where = append(where, "d.status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Date != nil {
		where = append(where, "d.delivery_date = ?")
		args = append(args, *filter.Date)
	}
	if filter.StartDate != nil {
		where = append(where, "d.delivery_date >= ?")
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		where = append(where, "d.delivery_date <= ?")
		args = append(args, *filter.EndDate)
	}
	if filter.Cursor != nil {
		where = append(where, "(d.delivery_date < ? OR (d.delivery_date = ? AND d.id < ?))")
		args = append(args, filter.Cursor.DeliveryDate, filter.Cursor.DeliveryDate, filter.Cursor.ID)
	}

	query := `SELECT ` + deliveryColumns + ` FROM deliveries d JOIN users u ON u.id = d.user_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY d.delivery_date DESC, d.id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []deliveryRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]*deliverydomain.Delivery, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}
