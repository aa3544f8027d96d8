package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// User inserts a users row. A nil address stores NULL.
func User(t testing.TB, db *gorm.DB, id int64, email, name string, address *string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO users (id, email, full_name, address) VALUES (?, ?, ?, ?)`,
		id, email, name, address,
	).Error)
}

func Plan(t testing.TB, db *gorm.DB, id int64, name string) {
	t.Helper()
	require.NoError(t, db.Exec(`INSERT INTO plans (id, name) VALUES (?, ?)`, id, name).Error)
}

// Subscription inserts a subscriptions row. An empty preferredTime stores NULL.
func Subscription(t testing.TB, db *gorm.DB, id, userID, planID int64, preferredTime, status string) {
	t.Helper()
	var pref any
	if preferredTime != "" {
		pref = preferredTime
	}
	var plan any
	if planID != 0 {
		plan = planID
	}
	require.NoError(t, db.Exec(
		`INSERT INTO subscriptions (id, user_id, plan_id, preferred_time, start_date, status) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, plan, pref, Day(2024, time.January, 1), status,
	).Error)
}

func Meal(t testing.TB, db *gorm.DB, id int64, name string) {
	t.Helper()
	require.NoError(t, db.Exec(`INSERT INTO meals (id, name) VALUES (?, ?)`, id, name).Error)
}

func ScheduleMeal(t testing.TB, db *gorm.DB, id, subscriptionID, mealID int64, date time.Time, position int) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO scheduled_meals (id, subscription_id, meal_id, scheduled_date, position) VALUES (?, ?, ?, ?, ?)`,
		id, subscriptionID, mealID, date, position,
	).Error)
}

// Delivery inserts a deliveries row directly, bypassing the store.
func Delivery(t testing.TB, db *gorm.DB, id, subscriptionID, userID int64, date time.Time, deliveryTime, status string, at time.Time) {
	t.Helper()
	var dt any
	if deliveryTime != "" {
		dt = deliveryTime + ":00"
	}
	require.NoError(t, db.Exec(
		`INSERT INTO deliveries (id, subscription_id, user_id, delivery_date, address, delivery_time, status, version, created_at, status_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		id, subscriptionID, userID, date, "1 Test Street", dt, status, at, at,
	).Error)
}

// Count returns the number of rows in table.
func Count(t testing.TB, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table(table).Count(&n).Error)
	return n
}
