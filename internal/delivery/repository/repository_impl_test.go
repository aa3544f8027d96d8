package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	deliverydomain "github.com/smallbiznis/mealdelivery/internal/delivery/domain"
	"github.com/smallbiznis/mealdelivery/internal/testutil"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDelivery(id, subscriptionID, userID int64, date time.Time, at string, now time.Time) *deliverydomain.Delivery {
	d := &deliverydomain.Delivery{
		ID:              snowflake.ID(id),
		SubscriptionID:  snowflake.ID(subscriptionID),
		UserID:          snowflake.ID(userID),
		DeliveryDate:    date,
		Address:         "12 Baker Street",
		Status:          deliverydomain.StatusPreparing,
		CreatedAt:       now,
		StatusUpdatedAt: now,
	}
	if at != "" {
		d.DeliveryTime = timeofday.Ptr(timeofday.MustParse(at))
	}
	return d
}

func TestInsertAndFindByKey(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	day := testutil.Day(2024, time.January, 15)
	now := time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC)

	require.NoError(t, r.Insert(ctx, db, newDelivery(1, 10, 100, day, "18:00", now)))

	got, err := r.FindByKey(ctx, db, 10, day)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snowflake.ID(1), got.ID)
	assert.Equal(t, deliverydomain.StatusPreparing, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.DeliveryTime)
	assert.Equal(t, "18:00", got.DeliveryTime.String())
	assert.Nil(t, got.ConfirmedAt)
	assert.True(t, day.Equal(got.DeliveryDate))

	missing, err := r.FindByKey(ctx, db, 10, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertDuplicateKey(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	day := testutil.Day(2024, time.January, 15)
	now := time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC)

	require.NoError(t, r.Insert(ctx, db, newDelivery(1, 10, 100, day, "18:00", now)))
	err := r.Insert(ctx, db, newDelivery(2, 10, 100, day, "18:00", now))
	require.Error(t, err)
	assert.ErrorIs(t, err, deliverydomain.ErrDuplicateDelivery)
	assert.ErrorIs(t, err, deliverydomain.ErrIntegrityViolation)
}

func TestFindByKeyReportsDuplicateRows(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	require.NoError(t, db.Exec(`DROP INDEX ux_deliveries_subscription_date`).Error)

	day := testutil.Day(2024, time.January, 15)
	now := time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, db, newDelivery(1, 10, 100, day, "18:00", now)))
	require.NoError(t, r.Insert(ctx, db, newDelivery(2, 10, 100, day, "18:00", now)))

	_, err := r.FindByKey(ctx, db, 10, day)
	assert.ErrorIs(t, err, deliverydomain.ErrIntegrityViolation)
}

func TestUpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	day := testutil.Day(2024, time.January, 15)
	now := time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, db, newDelivery(1, 10, 100, day, "18:00", now)))

	confirmedAt := time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)
	require.NoError(t, r.UpdateStatus(ctx, db, deliverydomain.StatusUpdate{
		ID:              1,
		ExpectedVersion: 1,
		Status:          deliverydomain.StatusConfirmed,
		StatusUpdatedAt: confirmedAt,
		ConfirmedAt:     &confirmedAt,
	}))

	err := r.UpdateStatus(ctx, db, deliverydomain.StatusUpdate{
		ID:              1,
		ExpectedVersion: 1,
		Status:          deliverydomain.StatusShipped,
		StatusUpdatedAt: confirmedAt,
	})
	assert.ErrorIs(t, err, deliverydomain.ErrConcurrentUpdate)

	later := confirmedAt.Add(time.Hour)
	require.NoError(t, r.UpdateStatus(ctx, db, deliverydomain.StatusUpdate{
		ID:              1,
		ExpectedVersion: 2,
		Status:          deliverydomain.StatusPreparing,
		StatusUpdatedAt: later,
		ConfirmedAt:     &later,
	}))

	got, err := r.FindByID(ctx, db, 1, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, deliverydomain.StatusPreparing, got.Status)
	assert.Equal(t, int64(3), got.Version)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, confirmedAt.Equal(*got.ConfirmedAt), "confirmed_at is never overwritten")
}

func TestUpdatePreferencesRequiresPreparing(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	day := testutil.Day(2024, time.January, 15)
	now := time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC)
	require.NoError(t, r.Insert(ctx, db, newDelivery(1, 10, 100, day, "18:00", now)))

	address := "221B Baker Street"
	newTime := timeofday.MustParse("19:30")
	require.NoError(t, r.UpdatePreferences(ctx, db, deliverydomain.PreferencesUpdate{
		ID:              1,
		ExpectedVersion: 1,
		DeliveryTime:    &newTime,
		Address:         &address,
	}))

	got, err := r.FindByID(ctx, db, 1, true)
	require.NoError(t, err)
	assert.Equal(t, address, got.Address)
	assert.Equal(t, "19:30", got.DeliveryTime.String())
	assert.Equal(t, int64(2), got.Version)

	require.NoError(t, r.UpdateStatus(ctx, db, deliverydomain.StatusUpdate{
		ID: 1, ExpectedVersion: 2, Status: deliverydomain.StatusShipped, StatusUpdatedAt: now,
	}))
	err = r.UpdatePreferences(ctx, db, deliverydomain.PreferencesUpdate{
		ID: 1, ExpectedVersion: 3, Address: &address,
	})
	assert.ErrorIs(t, err, deliverydomain.ErrConcurrentUpdate)
}

func TestFindByStatusInPagesByID(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	day := testutil.Day(2024, time.January, 15)
	now := time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC)
	testutil.Delivery(t, db, 1, 10, 100, day, "18:00", "PREPARING", now)
	testutil.Delivery(t, db, 2, 11, 100, day, "18:00", "SHIPPED", now)
	testutil.Delivery(t, db, 3, 12, 100, day, "18:00", "DELIVERED", now)
	testutil.Delivery(t, db, 4, 13, 100, day, "", "PREPARING", now)

	statuses := []deliverydomain.Status{deliverydomain.StatusPreparing, deliverydomain.StatusShipped}
	first, err := r.FindByStatusIn(ctx, db, statuses, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, snowflake.ID(1), first[0].ID)
	assert.Equal(t, snowflake.ID(2), first[1].ID)

	second, err := r.FindByStatusIn(ctx, db, statuses, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, snowflake.ID(4), second[0].ID)
	assert.Nil(t, second[0].DeliveryTime)
}

func TestUnknownStoredStatusIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	testutil.Delivery(t, db, 1, 10, 100, testutil.Day(2024, time.January, 15), "18:00", "LOST", time.Now().UTC())

	_, err := r.FindByID(ctx, db, 1, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, deliverydomain.ErrIntegrityViolation)
}

func TestListFiltersAndCursor(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	address := "1 Main Street"
	testutil.User(t, db, 100, "alice@example.com", "Alice", &address)
	testutil.User(t, db, 200, "bob@example.com", "Bob", &address)

	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	testutil.Delivery(t, db, 1, 10, 100, testutil.Day(2024, time.January, 14), "18:00", "CONFIRMED", now)
	testutil.Delivery(t, db, 2, 10, 100, testutil.Day(2024, time.January, 15), "18:00", "DELIVERED", now)
	testutil.Delivery(t, db, 3, 10, 100, testutil.Day(2024, time.January, 16), "18:00", "PREPARING", now)
	testutil.Delivery(t, db, 4, 20, 200, testutil.Day(2024, time.January, 16), "18:00", "PREPARING", now)

	page, err := r.List(ctx, db, deliverydomain.ListFilter{UserID: 100, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, snowflake.ID(3), page[0].ID)
	assert.Equal(t, snowflake.ID(2), page[1].ID)

	rest, err := r.List(ctx, db, deliverydomain.ListFilter{
		UserID: 100,
		Cursor: &deliverydomain.ListCursor{DeliveryDate: page[1].DeliveryDate, ID: page[1].ID},
		Limit:  2,
	})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, snowflake.ID(1), rest[0].ID)

	byEmail, err := r.List(ctx, db, deliverydomain.ListFilter{UserEmail: "BOB@"})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, snowflake.ID(4), byEmail[0].ID)

	start := testutil.Day(2024, time.January, 15)
	end := testutil.Day(2024, time.January, 15)
	ranged, err := r.List(ctx, db, deliverydomain.ListFilter{StartDate: &start, EndDate: &end})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, snowflake.ID(2), ranged[0].ID)

	byStatus, err := r.List(ctx, db, deliverydomain.ListFilter{Status: deliverydomain.StatusPreparing})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)
}

func TestListMealsAndOwner(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	r := Provide()

	testutil.User(t, db, 100, "alice@example.com", "Alice", nil)
	testutil.Plan(t, db, 7, "Family")
	testutil.Subscription(t, db, 10, 100, 7, "18:00", "ACTIVE")
	testutil.Meal(t, db, 1, "Salmon")
	testutil.Meal(t, db, 2, "Pasta")
	day := testutil.Day(2024, time.January, 15)
	testutil.ScheduleMeal(t, db, 50, 10, 2, day, 0)
	testutil.ScheduleMeal(t, db, 51, 10, 1, day, 1)

	meals, err := r.ListMeals(ctx, db, 10, day)
	require.NoError(t, err)
	require.Len(t, meals, 2)
	assert.Equal(t, "Pasta", meals[0].Name)
	assert.Equal(t, "Salmon", meals[1].Name)

	owner, err := r.GetOwner(ctx, db, 10)
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "alice@example.com", owner.UserEmail)
	assert.Equal(t, "Family", owner.PlanName)

	none, err := r.GetOwner(ctx, db, 99)
	require.NoError(t, err)
	assert.Nil(t, none)

	defined, err := r.StatusDefined(ctx, db, deliverydomain.StatusPreparing)
	require.NoError(t, err)
	assert.True(t, defined)
}
