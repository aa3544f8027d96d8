package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
	"gorm.io/gorm"
)

// Repository is the delivery store. Every method runs on the handle it is
// given so callers control transaction scope.
type Repository interface {
	FindByKey(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date time.Time) (*Delivery, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Delivery, error)
	FindByStatusIn(ctx context.Context, db *gorm.DB, statuses []Status, afterID snowflake.ID, limit int) ([]Delivery, error)
	FindForUserOnDate(ctx context.Context, db *gorm.DB, userID snowflake.ID, date time.Time) (*Delivery, error)
	Insert(ctx context.Context, db *gorm.DB, delivery *Delivery) error
	UpdateStatus(ctx context.Context, db *gorm.DB, update StatusUpdate) error
	UpdatePreferences(ctx context.Context, db *gorm.DB, update PreferencesUpdate) error
	StatusDefined(ctx context.Context, db *gorm.DB, status Status) (bool, error)
	ListMeals(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, date time.Time) ([]MealRef, error)
	GetOwner(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*DeliveryOwner, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Delivery, error)
}

// StatusUpdate is a compare-and-set on the delivery version. ConfirmedAt is
// only applied when the stored value is still NULL.
type StatusUpdate struct {
	ID              snowflake.ID
	ExpectedVersion int64
	Status          Status
	StatusUpdatedAt time.Time
	ConfirmedAt     *time.Time
}

// PreferencesUpdate is a compare-and-set that also requires PREPARING.
type PreferencesUpdate struct {
	ID              snowflake.ID
	ExpectedVersion int64
	DeliveryTime    *timeofday.TimeOfDay
	Address         *string
}

// ListFilter narrows List; zero values are ignored.
type ListFilter struct {
	UserID         snowflake.ID
	UserEmail      string
	SubscriptionID snowflake.ID
	Status         Status
	Date           *time.Time
	StartDate      *time.Time
	EndDate        *time.Time
	Cursor         *ListCursor
	Limit          int
}

// ListCursor positions keyset pagination over (delivery_date DESC, id DESC).
type ListCursor struct {
	DeliveryDate time.Time
	ID           snowflake.ID
}
