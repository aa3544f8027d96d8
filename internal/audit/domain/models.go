package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeUser   ActorType = "user"
	ActorTypeAdmin  ActorType = "admin"
)

const TargetTypeDelivery = "delivery"

const (
	ActionDeliveryAdminOverride      = "delivery.status.admin_override"
	ActionDeliveryConfirmed          = "delivery.confirmed"
	ActionDeliveryPreferencesUpdated = "delivery.preferences.updated"
)

// AuditLog is one persisted audit_logs row.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	ActorType  string            `gorm:"type:text;not null"`
	ActorID    *string           `gorm:"type:text"`
	Action     string            `gorm:"type:text;not null"`
	TargetType string            `gorm:"type:text;not null"`
	TargetID   string            `gorm:"type:text;not null"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Event is a lifecycle notification about one delivery.
type Event struct {
	Kind       string
	DeliveryID snowflake.ID
	ActorType  ActorType
	ActorID    string
	Detail     map[string]any
}
