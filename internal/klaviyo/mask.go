package klaviyo

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// sensitiveMarkers flag map keys whose values must never reach a log
// line in full.
var sensitiveMarkers = []string{"key", "token", "password", "auth"}

func isSensitiveKey(k string) bool {
	lower := strings.ToLower(k)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// maskValue hides the middle of a secret. Short secrets are fully
// replaced so their length leaks nothing.
func maskValue(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// maskPayload returns a log-safe copy of an arbitrary decoded JSON
// value. String values under sensitive keys are masked; sensitive
// non-strings are replaced outright. The input is never mutated.
func maskPayload(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				if s, ok := val.(string); ok {
					out[k] = maskValue(s)
				} else {
					out[k] = "********"
				}
				continue
			}
			out[k] = maskPayload(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = maskPayload(item)
		}
		return out
	default:
		return v
	}
}

// maskQuery renders query parameters for logging with sensitive values
// hidden.
func maskQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	masked := url.Values{}
	for k, vals := range q {
		for _, v := range vals {
			if isSensitiveKey(k) {
				v = maskValue(v)
			}
			masked.Add(k, v)
		}
	}
	return masked.Encode()
}

// maskBody renders a request body for logging. Values that are not
// plain JSON containers fall back to their formatted representation.
func maskBody(body any) string {
	if body == nil {
		return ""
	}
	return fmt.Sprintf("%v", maskPayload(normalize(body)))
}

// normalize converts typed request structs into the generic map form
// maskPayload walks. Non-convertible values pass through unchanged.
func normalize(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
