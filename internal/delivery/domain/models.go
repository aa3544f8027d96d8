// Package domain contains the delivery model, its state machine and the
// store and service contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
)

// Delivery is one day's shipment for one subscription.
type Delivery struct {
	ID              snowflake.ID         `gorm:"primaryKey"`
	SubscriptionID  snowflake.ID         `gorm:"not null;uniqueIndex:ux_deliveries_subscription_date"`
	UserID          snowflake.ID         `gorm:"not null;index"`
	DeliveryDate    time.Time            `gorm:"type:date;not null;uniqueIndex:ux_deliveries_subscription_date"`
	Address         string               `gorm:"type:text;not null"`
	DeliveryTime    *timeofday.TimeOfDay `gorm:"type:time"`
	Status          Status               `gorm:"type:text;not null;index"`
	Version         int64                `gorm:"not null;default:1"`
	CreatedAt       time.Time            `gorm:"not null"`
	StatusUpdatedAt time.Time            `gorm:"not null"`
	ConfirmedAt     *time.Time           `gorm:""`
}

// TableName sets the database table name.
func (Delivery) TableName() string { return "deliveries" }

// MealRef is a meal scheduled for the delivery's date.
type MealRef struct {
	ID   snowflake.ID `json:"id"`
	Name string       `json:"name"`
}

// DeliveryOwner is the subscriber context used by admin projections.
type DeliveryOwner struct {
	UserID    snowflake.ID
	UserEmail string
	UserName  string
	PlanName  string
}

// DateOf truncates t to its calendar day in loc and returns that day as a
// UTC midnight, the form delivery dates are stored in.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
