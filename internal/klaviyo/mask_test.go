package klaviyo

import (
	"net/url"
	"strings"
	"testing"
)

func TestIsSensitiveKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"api_key", true},
		{"Authorization", true},
		{"ACCESS_TOKEN", true},
		{"password", true},
		{"email", false},
		{"profile_id", false},
		{"name", false},
	}
	for _, tt := range tests {
		if got := isSensitiveKey(tt.key); got != tt.want {
			t.Errorf("isSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestMaskValue(t *testing.T) {
	if got := maskValue("short"); got != "********" {
		t.Errorf("maskValue(short) = %q, want ********", got)
	}
	got := maskValue("pk_abcdef1234567890")
	if got != "pk_a...7890" {
		t.Errorf("maskValue(long) = %q, want pk_a...7890", got)
	}
	if strings.Contains(got, "abcdef12345") {
		t.Errorf("maskValue leaked middle of secret: %q", got)
	}
}

func TestMaskPayloadNested(t *testing.T) {
	in := map[string]any{
		"data": map[string]any{
			"attributes": map[string]any{
				"email":   "user@example.com",
				"api_key": "pk_abcdef1234567890",
			},
		},
		"sessions": []any{
			map[string]any{"refresh_token": "rt_000011112222"},
		},
		"auth_attempts": float64(3),
	}

	masked := maskPayload(in)
	out, ok := masked.(map[string]any)
	if !ok {
		t.Fatalf("maskPayload returned %T, want map", masked)
	}

	attrs := out["data"].(map[string]any)["attributes"].(map[string]any)
	if attrs["email"] != "user@example.com" {
		t.Errorf("email = %v, want passthrough", attrs["email"])
	}
	if attrs["api_key"] != "pk_a...7890" {
		t.Errorf("api_key = %v, want pk_a...7890", attrs["api_key"])
	}

	tok := out["sessions"].([]any)[0].(map[string]any)
	if tok["refresh_token"] != "rt_0...2222" {
		t.Errorf("refresh_token = %v, want rt_0...2222", tok["refresh_token"])
	}

	if out["auth_attempts"] != "********" {
		t.Errorf("sensitive non-string = %v, want ********", out["auth_attempts"])
	}

	// Source must be untouched.
	orig := in["data"].(map[string]any)["attributes"].(map[string]any)
	if orig["api_key"] != "pk_abcdef1234567890" {
		t.Errorf("maskPayload mutated input: %v", orig["api_key"])
	}
}

func TestMaskQuery(t *testing.T) {
	q := url.Values{}
	q.Set("filter", "equals(email,\"a@b.c\")")
	q.Set("page_token", "tok_abcdefgh12345678")

	got := maskQuery(q)
	if strings.Contains(got, "tok_abcdefgh12345678") {
		t.Errorf("maskQuery leaked token: %q", got)
	}
	if !strings.Contains(got, "filter=") {
		t.Errorf("maskQuery dropped benign param: %q", got)
	}

	if got := maskQuery(nil); got != "" {
		t.Errorf("maskQuery(nil) = %q, want empty", got)
	}
}

func TestMaskBodyTypedStruct(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Token string `json:"token"`
	}
	got := maskBody(payload{Name: "weekly", Token: "tk_999988887777"})
	if strings.Contains(got, "tk_999988887777") {
		t.Errorf("maskBody leaked token from struct: %q", got)
	}
	if !strings.Contains(got, "weekly") {
		t.Errorf("maskBody dropped benign field: %q", got)
	}
}
