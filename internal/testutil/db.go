// Package testutil bootstraps in-memory databases for package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// schema mirrors internal/migration/migrations in SQLite syntax.
var schema = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		address TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE plans (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE subscriptions (
		id INTEGER PRIMARY KEY,
		user_id INTEGER NOT NULL,
		plan_id INTEGER,
		preferred_time TEXT,
		start_date DATE NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'PAUSED', 'CANCELLED')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE meals (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE scheduled_meals (
		id INTEGER PRIMARY KEY,
		subscription_id INTEGER NOT NULL,
		meal_id INTEGER NOT NULL,
		scheduled_date DATE NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE delivery_statuses (
		code TEXT PRIMARY KEY,
		sort_order INTEGER NOT NULL
	)`,
	`INSERT INTO delivery_statuses (code, sort_order) VALUES
		('PREPARING', 1), ('SHIPPED', 2), ('DELIVERED', 3), ('CONFIRMED', 4)`,
	`CREATE TABLE deliveries (
		id INTEGER PRIMARY KEY,
		subscription_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		delivery_date DATE NOT NULL,
		address TEXT NOT NULL,
		delivery_time TEXT,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		status_updated_at DATETIME NOT NULL,
		confirmed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_deliveries_subscription_date ON deliveries (subscription_id, delivery_date)`,
	`CREATE INDEX ix_deliveries_status_id ON deliveries (status, id)`,
	`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
}

// OpenDB returns a private in-memory SQLite database with the full schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name, dbSeq.Add(1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection serializes writers and keeps the shared cache alive
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// Day returns the UTC midnight used to store calendar dates.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
