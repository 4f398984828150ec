package models

import (
	"strings"
)

// Reserved record fields
const (
	FieldRaw       = "__raw"
	FieldFile      = "__file"
	FieldTimestamp = "timestamp"
)

// Record is a single parsed log entry. Values are either string or []string
// (the latter when a capture group repeats with a numeric suffix).
type Record map[string]any

// Get returns the value of a field as a string. List values are joined
// with a comma. The second return value is false when the field is
// absent or empty.
func (r Record) Get(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, val != ""
	case []string:
		joined := strings.Join(val, ",")
		return joined, joined != ""
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		joined := strings.Join(parts, ",")
		return joined, joined != ""
	default:
		return "", false
	}
}

// File returns the originating file path.
func (r Record) File() string {
	s, _ := r[FieldFile].(string)
	return s
}

// Stripped returns a shallow copy without the internal-only fields.
func (r Record) Stripped() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if k == FieldRaw || k == FieldFile {
			continue
		}
		out[k] = v
	}
	return out
}
