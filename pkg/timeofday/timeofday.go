// Package timeofday models a wall-clock time without a date, stored as
// seconds since midnight.
package timeofday

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const secondsPerDay = 24 * 60 * 60

var ErrInvalidTimeOfDay = errors.New("invalid_time_of_day")

// TimeOfDay is the number of seconds elapsed since 00:00:00.
type TimeOfDay int32

// New builds a TimeOfDay from hour, minute and second components.
func New(hour, minute, second int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d:%02d", ErrInvalidTimeOfDay, hour, minute, second)
	}
	return TimeOfDay(hour*3600 + minute*60 + second), nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(value string) TimeOfDay {
	t, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse accepts "HH:MM" or "HH:MM:SS".
func Parse(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		// postgres may return fractional seconds, e.g. 18:00:00.000000
		if i == 2 {
			part, _, _ = strings.Cut(part, ".")
		}
		if len(part) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
		}
		nums[i] = n
	}
	return New(nums[0], nums[1], nums[2])
}

// Of extracts the time-of-day of t in t's own location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return (int(t) % 3600) / 60 }
func (t TimeOfDay) Second() int { return int(t) % 60 }

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Second
}

// Before reports whether t is strictly earlier than other.
func (t TimeOfDay) Before(other TimeOfDay) bool { return t < other }

// After reports whether t is strictly later than other.
func (t TimeOfDay) After(other TimeOfDay) bool { return t > other }

// Sub subtracts d and reports false when the result would fall before
// midnight of the same day.
func (t TimeOfDay) Sub(d time.Duration) (TimeOfDay, bool) {
	secs := int(t) - int(d/time.Second)
	if secs < 0 {
		return TimeOfDay((secs%secondsPerDay + secondsPerDay) % secondsPerDay), false
	}
	return TimeOfDay(secs), true
}

// On anchors t to the calendar day of date, interpreted in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// String renders HH:MM, or HH:MM:SS when seconds are present.
func (t TimeOfDay) String() string {
	if t.Second() != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
	}
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), t.Second()), nil
}

// Scan implements sql.Scanner.
func (t *TimeOfDay) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*t = parsed
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*t = parsed
	case time.Time:
		*t = Of(v)
	case time.Duration:
		return t.Scan(int64(v / time.Second))
	case int64:
		if v < 0 || v >= secondsPerDay {
			return fmt.Errorf("%w: %d", ErrInvalidTimeOfDay, v)
		}
		*t = TimeOfDay(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrInvalidTimeOfDay, src)
	}
	return nil
}

// MarshalText renders the HH:MM form.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the HH:MM form.
func (t *TimeOfDay) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Ptr returns a pointer to t.
func Ptr(t TimeOfDay) *TimeOfDay { return &t }

// Null is a nullable TimeOfDay, mirroring sql.NullString.
type Null struct {
	Time  TimeOfDay
	Valid bool
}

// Scan implements sql.Scanner; a NULL column leaves Valid false.
func (n *Null) Scan(src any) error {
	if src == nil {
		n.Time, n.Valid = 0, false
		return nil
	}
	if err := n.Time.Scan(src); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Value implements driver.Valuer.
func (n Null) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Time.Value()
}

// Ptr returns nil for an invalid Null.
func (n Null) Ptr() *TimeOfDay {
	if !n.Valid {
		return nil
	}
	return Ptr(n.Time)
}

// NullFrom wraps an optional TimeOfDay.
func NullFrom(t *TimeOfDay) Null {
	if t == nil {
		return Null{}
	}
	return Null{Time: *t, Valid: true}
}
