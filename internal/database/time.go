package database

import (
	"database/sql"
	"errors"
	"time"
)

// TimeLayout is the fixed-width UTC layout every timestamp column uses so
// lexical comparison matches chronological order in both dialects.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(TimeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// ParseNullTime converts a nullable timestamp column into a pointer.
func ParseNullTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t, err := ParseTime(value.String)
	if err != nil {
		return nil
	}
	return &t
}

// NullableTime returns nil for a nil pointer so the column is stored as NULL.
func NullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return FormatTime(*value)
}

// NullableString returns nil for empty strings so the column is stored as NULL.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// NullableInt64 returns nil for a nil pointer.
func NullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

// BoolToInt stores booleans as 0/1 in both dialects.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
