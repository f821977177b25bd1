package database

import (
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// normalizeValue converts driver types into the plain values the rest of
// the application reads: datetimes become time.Time and record IDs become
// their string form.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case models.CustomDateTime:
		return val.Time
	case *models.CustomDateTime:
		if val == nil {
			return nil
		}
		return val.Time
	case models.RecordID:
		return val.String()
	case *models.RecordID:
		if val == nil {
			return nil
		}
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// recordKey extracts the key part of a record ID such as "users:u1" or
// "users:⟨3f2a-...⟩".
func recordKey(v any) (string, bool) {
	var s string
	switch id := v.(type) {
	case models.RecordID:
		s = id.String()
	case *models.RecordID:
		if id == nil {
			return "", false
		}
		s = id.String()
	case string:
		s = id
	default:
		return "", false
	}

	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimPrefix(s, "⟨")
	s = strings.TrimSuffix(s, "⟩")
	s = strings.Trim(s, "`")
	return s, s != ""
}

// decodeRecord turns a live query or SELECT row into a key and fields.
// The id column is dropped from the fields.
func decodeRecord(row any) (string, map[string]any, error) {
	m, ok := row.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("unexpected record type %T", row)
	}
	key, ok := recordKey(m["id"])
	if !ok {
		return "", nil, fmt.Errorf("record without id: %v", m)
	}
	fields := make(map[string]any, len(m))
	for k, v := range m {
		if k == "id" {
			continue
		}
		fields[k] = normalizeValue(v)
	}
	return key, fields, nil
}
