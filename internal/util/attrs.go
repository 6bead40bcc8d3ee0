package util

import (
	"fmt"
	"strings"
	"time"
)

// String returns the attribute as a trimmed string. ok is false when the
// column is absent, nil, or blank.
func String(attrs map[string]any, column string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs[column]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(toString(v))
	return s, s != ""
}

func OptionalString(attrs map[string]any, column string) *string {
	s, ok := String(attrs, column)
	if !ok {
		return nil
	}
	return &s
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses an attribute holding either a time.Time or a timestamp string.
func Time(attrs map[string]any, column string) (time.Time, bool, error) {
	if attrs == nil {
		return time.Time{}, false, nil
	}
	v, ok := attrs[column]
	if !ok || v == nil {
		return time.Time{}, false, nil
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC(), true, nil
	}
	s := strings.TrimSpace(toString(v))
	if s == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("column %s: unrecognised timestamp %q", column, s)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
