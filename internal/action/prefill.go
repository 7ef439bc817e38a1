// File: internal/action/prefill.go
package action

import (
	"fmt"
	"strings"
	"time"
)

// sanitizePrefillPayload bounds and normalizes a prefill payload before it is
// handed to the frontend: scalar values pass through, timestamps become
// RFC 3339 strings, and nesting, key and array limits are enforced.
func (e *Executor) sanitizePrefillPayload(payload map[string]any) (map[string]any, error) {
	return e.sanitizePrefillMap(payload, 0)
}

func (e *Executor) sanitizePrefillMap(payload map[string]any, depth int) (map[string]any, error) {
	if depth > e.cfg.MaxPrefillDepth {
		return nil, fmt.Errorf("prefill payload is too deep")
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("prefill payload must include at least one field")
	}
	if len(payload) > e.cfg.MaxPrefillKeys {
		return nil, fmt.Errorf("prefill payload has too many fields")
	}

	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("prefill field names must be non-empty strings")
		}
		clean, err := e.sanitizePrefillValue(value, depth)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		out[key] = clean
	}
	return out, nil
}

func (e *Executor) sanitizePrefillValue(value any, depth int) (any, error) {
	if depth > e.cfg.MaxPrefillDepth {
		return nil, fmt.Errorf("prefill payload is too deep")
	}

	switch v := value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case []any:
		if len(v) > e.cfg.MaxPrefillItems {
			return nil, fmt.Errorf("prefill arrays may include at most %d entries", e.cfg.MaxPrefillItems)
		}
		out := make([]any, len(v))
		for i, entry := range v {
			clean, err := e.sanitizePrefillValue(entry, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	case map[string]any:
		return e.sanitizePrefillMap(v, depth+1)
	default:
		return nil, fmt.Errorf("prefill payload includes unsupported data of type %T", value)
	}
}
