package guard

import (
	"testing"

	subscriptiondomain "github.com/smallbiznis/mealdelivery/internal/subscription/domain"
)

func TestEnsureSubscriptionCanGenerate(t *testing.T) {
	if err := EnsureSubscriptionCanGenerate(subscriptiondomain.SubscriptionStatusActive); err != nil {
		t.Fatalf("expected active subscription to pass, got %v", err)
	}
	for _, status := range []subscriptiondomain.SubscriptionStatus{
		subscriptiondomain.SubscriptionStatusPaused,
		subscriptiondomain.SubscriptionStatusCancelled,
	} {
		if err := EnsureSubscriptionCanGenerate(status); err != ErrSubscriptionNotActive {
			t.Fatalf("expected %s to be rejected, got %v", status, err)
		}
	}
}

func TestEnsureOwnerPresent(t *testing.T) {
	if err := EnsureOwnerPresent(true); err != nil {
		t.Fatalf("expected owner to pass, got %v", err)
	}
	if err := EnsureOwnerPresent(false); err != ErrOwnerMissing {
		t.Fatalf("expected ErrOwnerMissing, got %v", err)
	}
}
