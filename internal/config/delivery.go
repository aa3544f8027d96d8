package config

import (
	"fmt"
	"strings"
	"time"
)

// Location resolves the configured delivery timezone. Calendar days and
// delivery times-of-day are interpreted in this location.
func (c DeliveryConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load delivery timezone %q: %w", name, err)
	}
	return loc, nil
}

// Placeholder returns the address used when a subscriber has none on file.
func (c DeliveryConfig) Placeholder() string {
	if p := strings.TrimSpace(c.PlaceholderAddress); p != "" {
		return p
	}
	return DefaultPlaceholderAddress
}
