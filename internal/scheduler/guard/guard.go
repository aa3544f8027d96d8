package guard

import (
	"errors"

	subscriptiondomain "github.com/smallbiznis/mealdelivery/internal/subscription/domain"
)

var (
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrOwnerMissing          = errors.New("subscription_owner_missing")
)

// EnsureSubscriptionCanGenerate rejects subscriptions that must not receive
// deliveries.
func EnsureSubscriptionCanGenerate(status subscriptiondomain.SubscriptionStatus) error {
	if status != subscriptiondomain.SubscriptionStatusActive {
		return ErrSubscriptionNotActive
	}
	return nil
}

// EnsureOwnerPresent fails when the joined user row was not found.
func EnsureOwnerPresent(ownerFound bool) error {
	if !ownerFound {
		return ErrOwnerMissing
	}
	return nil
}
