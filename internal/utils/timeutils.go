package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// AgeDays returns the whole number of days between then and now, truncated toward zero.
// A zero then yields ok=false.
func AgeDays(then, now time.Time) (days int, ok bool) {
	if then.IsZero() {
		return 0, false
	}
	return int(now.Sub(then).Hours() / 24), true
}
