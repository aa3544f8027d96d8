package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Sink records lifecycle events. Delivery is best effort and failures never
// reach the caller.
type Sink interface {
	RecordEvent(ctx context.Context, event Event)
}

// Reader lists the audit trail of one delivery, oldest first. When actions
// is non-empty only those actions are returned.
type Reader interface {
	ListForDelivery(ctx context.Context, deliveryID snowflake.ID, actions ...string) ([]AuditLog, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]AuditLog, error)
}

type ListFilter struct {
	TargetType string
	TargetID   string
	Actions    []string
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrInvalidTarget = errors.New("invalid_target")
)
