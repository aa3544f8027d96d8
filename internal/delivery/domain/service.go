package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/mealdelivery/pkg/db/pagination"
)

// Service is the synchronous delivery lifecycle API.
type Service interface {
	UpdatePreferences(ctx context.Context, req UpdatePreferencesRequest) (DeliveryView, error)
	Confirm(ctx context.Context, deliveryID string) (DeliveryView, error)
	AdminOverride(ctx context.Context, req AdminOverrideRequest) (DeliveryView, error)
	GetCurrent(ctx context.Context, userID string) (DeliveryView, error)
	GetByID(ctx context.Context, deliveryID string) (DeliveryView, error)
	GetHistory(ctx context.Context, req HistoryRequest) (HistoryResponse, error)
	ListForAdmin(ctx context.Context, req AdminListRequest) (AdminListResponse, error)
	GetStatusHistory(ctx context.Context, deliveryID string) ([]StatusEvent, error)
}

type UpdatePreferencesRequest struct {
	DeliveryID   string
	DeliveryTime *string
	Address      *string
}

type AdminOverrideRequest struct {
	DeliveryID string
	Status     string
	ActorID    string
}

type HistoryRequest struct {
	pagination.Pagination
	UserID    string
	StartDate *time.Time
	EndDate   *time.Time
	Status    string
}

type AdminListRequest struct {
	pagination.Pagination
	Status    string
	Date      *time.Time
	UserID    string
	UserEmail string
}

// DeliveryView is the read projection returned by every lifecycle call.
type DeliveryView struct {
	ID              string     `json:"id"`
	SubscriptionID  string     `json:"subscription_id"`
	DeliveryDate    string     `json:"delivery_date"`
	DeliveryTime    *string    `json:"delivery_time"`
	Address         string     `json:"address"`
	Status          Status     `json:"status"`
	StatusUpdatedAt time.Time  `json:"status_updated_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Meals           []MealRef  `json:"meals"`
}

type HistoryItem struct {
	ID           string    `json:"id"`
	DeliveryDate string    `json:"delivery_date"`
	DeliveryTime *string   `json:"delivery_time"`
	Status       Status    `json:"status"`
	Confirmed    bool      `json:"confirmed"`
	MealCount    int       `json:"meal_count"`
	UpdatedAt    time.Time `json:"status_updated_at"`
}

type HistoryResponse struct {
	pagination.PageInfo
	Deliveries []HistoryItem `json:"deliveries"`
}

type AdminDeliveryView struct {
	DeliveryView
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
	PlanName  string `json:"plan_name"`
}

type AdminListResponse struct {
	pagination.PageInfo
	Deliveries []AdminDeliveryView `json:"deliveries"`
}

// StatusEvent is one entry of a delivery's status timeline.
type StatusEvent struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by"`
	Note      string    `json:"note,omitempty"`
}

const DateLayout = "2006-01-02"
