package models

import (
	"fmt"
	"time"
)

// dateLayout is the layout of all-day values such as "2024-05-01".
const dateLayout = "2006-01-02"

// Event represents a calendar event in normalized form.
// It is independent of both the calendar provider and the destination table,
// and is treated as an immutable value: pass it by value, never mutate it.
type Event struct {
	Start    string  // ISO-8601 timestamp or date-only value
	End      string  // ISO-8601 timestamp or date-only value
	Title    string  // Summary or title of the event
	Location *string // Meeting link or free text; nil when the source has no such field
	GCalID   string  // Identifier of the originating source event; empty when unknown
}

// HasLocation reports whether the event carries a non-empty location.
func (e Event) HasLocation() bool {
	return e.Location != nil && *e.Location != ""
}

// LocationOrEmpty returns the location, or "" when it is absent.
func (e Event) LocationOrEmpty() string {
	if e.Location == nil {
		return ""
	}
	return *e.Location
}

// String returns a short description used in log lines.
func (e Event) String() string {
	return fmt.Sprintf("%q (%s, id=%s)", e.Title, e.Start, e.GCalID)
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// NormalizeTimestamp converts an RFC 3339 timestamp into its UTC form
// ("2024-05-01T07:00:00Z"). Date-only values are returned untouched.
func NormalizeTimestamp(value string) (string, error) {
	if _, err := time.Parse(dateLayout, value); err == nil {
		return value, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t.UTC().Format(time.RFC3339), nil
}

// ParseTimestamp parses either an RFC 3339 timestamp or a date-only value.
// The second return value is true for date-only values, which are
// interpreted as midnight in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, false, nil
}
