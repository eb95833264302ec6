package common

import (
	"fmt"
	"time"
)

// Persisted timestamps use ISO 8601 in UTC so the control-plane UI can
// round-trip them verbatim.

// ISOUTC formats a time as an ISO 8601 UTC string
func ISOUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NowISO returns the current time as an ISO 8601 UTC string
func NowISO() string {
	return ISOUTC(time.Now())
}

// ParseISO parses an ISO 8601 timestamp. Fractional seconds and a missing
// zone designator are both tolerated.
func ParseISO(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, lastErr)
}
