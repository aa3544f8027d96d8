// Package masking redacts personal data before it is written to the audit trail.
package masking

import (
	"strings"
	"unicode/utf8"
)

const maskToken = "****"

// keep is how many trailing runes stay readable.
const keep = 4

// MaskValue redacts s while keeping a short suffix for support lookups.
func MaskValue(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	n := utf8.RuneCountInString(trimmed)
	if n <= keep {
		return maskToken
	}
	runes := []rune(trimmed)
	return maskToken + string(runes[n-keep:])
}

// MaskKeys returns a copy of input where string values under the given keys
// are masked. Nested maps are walked.
func MaskKeys(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}

	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[strings.ToLower(strings.TrimSpace(key))] = struct{}{}
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		_, mask := sensitive[strings.ToLower(trimmedKey)]
		switch cast := value.(type) {
		case string:
			if mask {
				out[trimmedKey] = MaskValue(cast)
				continue
			}
			out[trimmedKey] = cast
		case map[string]any:
			out[trimmedKey] = MaskKeys(cast, keys...)
		default:
			out[trimmedKey] = value
		}
	}
	return out
}
