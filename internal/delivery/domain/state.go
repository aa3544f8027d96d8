package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/mealdelivery/pkg/timeofday"
)

// ShippingLead is how long before the delivery time an order leaves the kitchen.
const ShippingLead = 2 * time.Hour

var (
	EarliestDeliveryTime = timeofday.MustParse("06:00")
	LatestDeliveryTime   = timeofday.MustParse("23:00")
)

const (
	minAddressLength = 5
	maxAddressLength = 255
)

// Decision is the outcome of evaluating one delivery against the clock.
type Decision struct {
	From        Status
	To          Status
	CatchUp     bool
	MissingTime bool
}

// Transition reports whether the decision changes the status.
func (d Decision) Transition() bool {
	return d.To != "" && d.To != d.From
}

// Evaluate decides the automatic next status of d at now. The delivery time
// is anchored to the delivery date in loc, so a delivery left over from an
// earlier day is already past its target and catches up.
func Evaluate(d Delivery, now time.Time, loc *time.Location) (Decision, error) {
	decision := Decision{From: d.Status}

	switch d.Status {
	case StatusPreparing, StatusShipped:
	case StatusDelivered, StatusConfirmed:
		return decision, nil
	default:
		return decision, fmt.Errorf("%w: %q", ErrUnknownStatus, string(d.Status))
	}

	if d.DeliveryTime == nil {
		decision.MissingTime = true
		return decision, nil
	}

	target := d.DeliveryTime.On(d.DeliveryDate, loc)
	if now.After(target) {
		decision.To = StatusDelivered
		decision.CatchUp = true
		return decision, nil
	}

	switch d.Status {
	case StatusPreparing:
		if _, sameDay := d.DeliveryTime.Sub(ShippingLead); !sameDay {
			return decision, fmt.Errorf("delivery time %s is earlier than the %s shipping lead: %w",
				d.DeliveryTime, ShippingLead, ErrShipWindowWraps)
		}
		if !now.Before(target.Add(-ShippingLead)) {
			decision.To = StatusShipped
		}
	case StatusShipped:
		if !now.Before(target) {
			decision.To = StatusDelivered
		}
	}
	return decision, nil
}

// EnsureCanUpdatePreferences allows time and address edits only before shipment.
func EnsureCanUpdatePreferences(current Status) error {
	const op = "update_preferences"
	switch current {
	case StatusPreparing:
		return nil
	case StatusShipped:
		return &StateError{Op: op, Current: current, Message: "Cannot update delivery preferences. Delivery has already shipped"}
	case StatusDelivered:
		return &StateError{Op: op, Current: current, Message: "Cannot update delivery preferences. Delivery has already been delivered"}
	case StatusConfirmed:
		return &StateError{Op: op, Current: current, Message: "Cannot update delivery preferences. Delivery has been confirmed"}
	default:
		return &StateError{Op: op, Current: current, Message: "Cannot update delivery preferences"}
	}
}

// EnsureCanConfirm allows confirmation of delivered orders. An already
// confirmed delivery is reported through alreadyConfirmed, not an error.
func EnsureCanConfirm(current Status) (alreadyConfirmed bool, err error) {
	const op = "confirm"
	switch current {
	case StatusDelivered:
		return false, nil
	case StatusConfirmed:
		return true, nil
	case StatusPreparing:
		return false, &StateError{Op: op, Current: current, Message: "Cannot confirm delivery. Delivery must be in 'Delivered' status (currently being prepared)"}
	case StatusShipped:
		return false, &StateError{Op: op, Current: current, Message: "Cannot confirm delivery. Delivery must be in 'Delivered' status (currently in transit)"}
	default:
		return false, &StateError{Op: op, Current: current, Message: "Cannot confirm delivery. Delivery must be in 'Delivered' status"}
	}
}

// ParseDeliveryTime parses and range-checks a requested delivery time.
func ParseDeliveryTime(raw string) (timeofday.TimeOfDay, error) {
	t, err := ParseDeliveryTimeFormat(raw)
	if err != nil {
		return 0, err
	}
	if err := ValidateDeliveryTime(t); err != nil {
		return 0, err
	}
	return t, nil
}

// ParseDeliveryTimeFormat only checks the HH:MM syntax.
func ParseDeliveryTimeFormat(raw string) (timeofday.TimeOfDay, error) {
	t, err := timeofday.Parse(raw)
	if err != nil {
		return 0, newValidationError("deliveryTime", "Invalid delivery time format: %q (expected HH:MM)", strings.TrimSpace(raw))
	}
	return t, nil
}

// ValidateDeliveryTime enforces the accepted delivery window, inclusive.
func ValidateDeliveryTime(t timeofday.TimeOfDay) error {
	if t.Before(EarliestDeliveryTime) || t.After(LatestDeliveryTime) {
		return newValidationError("deliveryTime", "Delivery time must be between %s and %s", EarliestDeliveryTime, LatestDeliveryTime)
	}
	return nil
}

// NormalizeAddress trims the address and rejects blank or oversized values.
func NormalizeAddress(raw string) (string, error) {
	address := strings.TrimSpace(raw)
	if address == "" {
		return "", newValidationError("address", "Address cannot be empty")
	}
	if n := utf8.RuneCountInString(address); n < minAddressLength || n > maxAddressLength {
		return "", newValidationError("address", "Address must be between %d and %d characters", minAddressLength, maxAddressLength)
	}
	return address, nil
}
