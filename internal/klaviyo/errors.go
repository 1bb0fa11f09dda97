package klaviyo

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UpstreamError reports a non-2xx response from the API. Detail
// aggregates every entry of the JSON:API errors array when the payload
// carries one. RateLimited marks responses that asked us to slow down;
// those drive the retry loop and only surface once retries run out.
type UpstreamError struct {
	Status      int
	Method      string
	Endpoint    string
	Detail      string
	RateLimited bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("klaviyo: %s %s returned %d: %s", e.Method, e.Endpoint, e.Status, e.Detail)
}

// NoResponseError reports a dispatched request that produced no response
// at all. Distinguished from UpstreamError because no status code exists.
type NoResponseError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("klaviyo: no response from %s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *NoResponseError) Unwrap() error { return e.Err }

// SetupError reports a request that could not even be built or
// serialized. Nothing was sent.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("klaviyo: request setup failed: %v", e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is an upstream response that asked
// the caller to back off.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.RateLimited
}

// rateLimitMarkers are the phrases that identify a throttling condition
// hiding inside a 400 payload. The API mostly answers 429, but some
// gateway paths wrap the same condition in a generic bad-request.
var rateLimitMarkers = []string{"rate limit", "throttle", "too many requests"}

// classifyRateLimit recognizes throttling from the status code or, for
// 400s, from the response text.
func classifyRateLimit(status int, body []byte) bool {
	if status == 429 {
		return true
	}
	if status != 400 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// apiError is one entry of a JSON:API errors array.
type apiError struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// parseErrorDetail condenses an error payload into one readable line.
// JSON:API errors arrays are joined entry by entry; anything else falls
// back to the trimmed raw text.
func parseErrorDetail(body []byte) string {
	var payload struct {
		Errors []apiError `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		parts := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			switch {
			case e.Title != "" && e.Detail != "":
				parts = append(parts, e.Title+": "+e.Detail)
			case e.Detail != "":
				parts = append(parts, e.Detail)
			case e.Title != "":
				parts = append(parts, e.Title)
			case e.Code != "":
				parts = append(parts, e.Code)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "(empty error body)"
	}
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	return text
}
