package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("delivery_not_found")
	ErrInvalidState       = errors.New("invalid_delivery_state")
	ErrValidation         = errors.New("validation_error")
	ErrDependencyMissing  = errors.New("dependency_missing")
	ErrIntegrityViolation = errors.New("integrity_violation")
	ErrConcurrentUpdate   = errors.New("delivery_concurrent_update")

	ErrUnknownStatus     = fmt.Errorf("unknown_delivery_status: %w", ErrIntegrityViolation)
	ErrDuplicateDelivery = fmt.Errorf("duplicate_delivery: %w", ErrIntegrityViolation)
	ErrShipWindowWraps   = fmt.Errorf("ship_window_wraps_midnight: %w", ErrIntegrityViolation)
)

// StateError reports an operation rejected by the delivery's current status.
type StateError struct {
	Op      string
	Current Status
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s (current status: %s)", e.Message, e.Current)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
