package timeparser

import (
	"fmt"
	"time"
)

// DayLayout is the format of a UTC day bucket key.
const DayLayout = "2006-01-02"

// TimestampLayout is a fixed-width UTC layout, so stored timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// DayBucket returns the UTC calendar day key for t.
func DayBucket(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp attempts to parse a stored event timestamp with multiple formats
func ParseTimestamp(s string) (time.Time, error) {
	formats := []string{
		TimestampLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", s, lastErr)
}

// ParseDay parses a YYYY-MM-DD day key.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day '%s': %w", s, err)
	}
	return t, nil
}

// DayRange resolves an inclusive [from, to] day range. Empty bounds default to
// the window of days ending today.
func DayRange(from, to string, now time.Time, days int) (string, string, error) {
	if to == "" {
		to = DayBucket(now)
	} else if _, err := ParseDay(to); err != nil {
		return "", "", err
	}
	if from == "" {
		end, _ := ParseDay(to)
		from = DayBucket(end.AddDate(0, 0, -days))
	} else if _, err := ParseDay(from); err != nil {
		return "", "", err
	}
	if from > to {
		return "", "", fmt.Errorf("day range start %s is after end %s", from, to)
	}
	return from, to, nil
}

// IsOlderThan reports whether t lies more than maxAge before now.
func IsOlderThan(t, now time.Time, maxAge time.Duration) bool {
	return now.Sub(t) > maxAge
}
