package storage

import (
	"time"

	"github.com/google/uuid"
)

// NormalizeForJSON converts known internal types to JSON-friendly values.
// Dates render as 2006-01-02 when they carry no clock part, otherwise as
// RFC 3339; uuid.UUID renders as its canonical string.
func NormalizeForJSON(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format("2006-01-02")
		}
		return x.Format(time.RFC3339)
	case uuid.UUID:
		return x.String()
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = NormalizeForJSON(vv)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = NormalizeForJSON(vv)
		}
		return out
	default:
		return v
	}
}
