package backend

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateCollection checks that name is a plain identifier.
func ValidateCollection(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// ValidateField checks that name is a plain identifier.
func ValidateField(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

// ValidateKey rejects empty keys and keys containing separators or whitespace.
func ValidateKey(key string) error {
	if key == "" || len(key) > 256 || strings.ContainsAny(key, ": \t\r\n`") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// ValidateWrite runs every check an Upsert needs.
func ValidateWrite(collection, key string, fields map[string]any) error {
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	for name := range fields {
		if err := ValidateField(name); err != nil {
			return err
		}
	}
	return nil
}

// String reads a string field. Absent, null and non-string values report false.
func String(fields map[string]any, name string) (string, bool) {
	s, ok := fields[name].(string)
	return s, ok
}

// Bool reads a boolean field; anything other than true is false.
func Bool(fields map[string]any, name string) bool {
	b, ok := fields[name].(bool)
	return ok && b
}

// Time reads a timestamp field. It accepts time.Time, RFC 3339 strings and
// unix milliseconds, which covers what the supported stores decode to.
func Time(fields map[string]any, name string) (time.Time, bool) {
	switch v := fields[name].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		return t, err == nil
	case int64:
		return time.UnixMilli(v), true
	case int:
		return time.UnixMilli(int64(v)), true
	case uint64:
		return time.UnixMilli(int64(v)), true
	case float64:
		return time.UnixMilli(int64(v)), true
	default:
		return time.Time{}, false
	}
}
