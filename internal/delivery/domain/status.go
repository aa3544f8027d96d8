package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the closed set of delivery states.
type Status string

const (
	StatusPreparing Status = "PREPARING"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusConfirmed Status = "CONFIRMED"
)

// Statuses lists every valid status in lifecycle order.
var Statuses = []Status{StatusPreparing, StatusShipped, StatusDelivered, StatusConfirmed}

// ParseStatus accepts the wire strings case-insensitively.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(raw))) {
	case StatusPreparing:
		return StatusPreparing, nil
	case StatusShipped:
		return StatusShipped, nil
	case StatusDelivered:
		return StatusDelivered, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Rank orders statuses along the forward-only lifecycle.
func (s Status) Rank() int {
	switch s {
	case StatusPreparing:
		return 1
	case StatusShipped:
		return 2
	case StatusDelivered:
		return 3
	case StatusConfirmed:
		return 4
	default:
		return 0
	}
}

// Progressable reports whether the progression engine may move s forward.
func (s Status) Progressable() bool {
	switch s {
	case StatusPreparing, StatusShipped:
		return true
	case StatusDelivered, StatusConfirmed:
		return false
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Value implements driver.Valuer and refuses to persist unknown values.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

// Scan implements sql.Scanner; unknown stored values are integrity errors.
func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrUnknownStatus, src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
