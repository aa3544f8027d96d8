// Package domain contains the subscription read models used to plan deliveries.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
)

func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case SubscriptionStatusActive:
		return SubscriptionStatusActive, nil
	case SubscriptionStatusPaused:
		return SubscriptionStatusPaused, nil
	case SubscriptionStatusCancelled:
		return SubscriptionStatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown subscription status %q", raw)
	}
}

// Subscription is a subscriber's meal plan joined with the owner context the
// generator needs.
type Subscription struct {
	ID            snowflake.ID
	UserID        snowflake.ID
	PlanID        *snowflake.ID
	PreferredTime *timeofday.TimeOfDay
	StartDate     time.Time
	Status        SubscriptionStatus
	CreatedAt     time.Time

	// OwnerFound is false when the users row is missing.
	OwnerFound  bool
	UserEmail   string
	UserAddress *string
	PlanName    string
}

// ScheduledMeal is a meal planned for a subscription on one date.
type ScheduledMeal struct {
	ID             snowflake.ID
	SubscriptionID snowflake.ID
	MealID         snowflake.ID
	MealName       string
	ScheduledDate  time.Time
	Position       int
}
