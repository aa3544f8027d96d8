package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListActive pages ACTIVE subscriptions in id order after afterID.
	ListActive(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]Subscription, error)
	// ListScheduledMeals returns the meals for date in canonical order.
	ListScheduledMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date time.Time) ([]ScheduledMeal, error)
	GetByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
}
