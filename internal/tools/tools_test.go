package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wrenfield/klaviyo-mcp/internal/klaviyo"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestRegistry builds a registry whose client points at the given
// handler, with retry delays short enough for tests.
func newTestRegistry(t *testing.T, handler http.HandlerFunc) *Registry {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := klaviyo.NewClient(klaviyo.Config{
		BaseURL:  srv.URL,
		APIKey:   "pk_test_1234567890",
		Revision: "2024-10-15",
	}, discardLogger, klaviyo.WithRetryConfig(klaviyo.RetryConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
		MaxRetries:   1,
	}))
	return NewRegistry(client, discardLogger)
}

func TestCatalogListedSorted(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {})

	list := r.List()
	if len(list) != 39 {
		t.Errorf("catalog size = %d, want 39", len(list))
	}
	names := make([]string, len(list))
	for i, tool := range list {
		names[i] = tool.Name
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("catalog not sorted: %v", names)
	}
	for _, want := range []string{"get_profile", "send_campaign", "generate_signup_qr", "query_metric_aggregate"} {
		if r.Get(want) == nil {
			t.Errorf("catalog missing %s", want)
		}
	}
}

func TestCatalogSchemasDescribed(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {})

	for _, tool := range r.List() {
		if tool.Description == "" {
			t.Errorf("%s has no description", tool.Name)
		}
		if typ, _ := tool.InputSchema["type"].(string); typ != "object" {
			t.Errorf("%s schema type = %q, want object", tool.Name, typ)
		}
	}
}

func TestValidateArgs(t *testing.T) {
	s := schema(map[string]any{
		"name":  prop("string", ""),
		"count": prop("integer", ""),
		"rate":  prop("number", ""),
		"live":  prop("boolean", ""),
		"meta":  prop("object", ""),
		"ids":   prop("array", ""),
	}, "name")

	tests := []struct {
		desc    string
		args    map[string]any
		wantErr bool
	}{
		{"all valid", map[string]any{"name": "x", "count": 3.0, "rate": 0.5, "live": true, "meta": map[string]any{}, "ids": []any{"a"}}, false},
		{"missing required", map[string]any{"count": 3.0}, true},
		{"string as number", map[string]any{"name": "x", "rate": "fast"}, true},
		{"fractional integer", map[string]any{"name": "x", "count": 3.5}, true},
		{"whole float as integer", map[string]any{"name": "x", "count": 7.0}, false},
		{"bool as string", map[string]any{"name": true}, true},
		{"unknown arg ignored", map[string]any{"name": "x", "extra": 1.0}, false},
	}
	for _, tt := range tests {
		err := validateArgs(s, tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.desc, err, tt.wantErr)
		}
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {})

	_, err := r.Execute(context.Background(), "launch_rockets", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("err = %v, want unknown tool", err)
	}
}

func TestExecuteMissingRequired(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("request should not reach the server")
	})

	_, err := r.Execute(context.Background(), "get_profile", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), `missing required argument "id"`) {
		t.Errorf("err = %v, want missing required id", err)
	}
}

func TestExecuteWrongArgType(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("request should not reach the server")
	})

	_, err := r.Execute(context.Background(), "list_profiles", map[string]any{"page_size": "ten"})
	if err == nil || !strings.Contains(err.Error(), "must be of type integer") {
		t.Errorf("err = %v, want type error", err)
	}
}

func TestGetProfileRequest(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", req.Method)
		}
		if req.URL.Path != "/profiles/PR123" {
			t.Errorf("path = %s, want /profiles/PR123", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Klaviyo-API-Key pk_test_1234567890" {
			t.Errorf("auth header = %q", got)
		}
		if got := req.Header.Get("revision"); got != "2024-10-15" {
			t.Errorf("revision header = %q", got)
		}
		w.Header().Set("Content-Type", "application/vnd.api+json")
		io.WriteString(w, `{"data":{"type":"profile","id":"PR123","attributes":{"email":"a@example.com"}}}`)
	})

	res, err := r.Execute(context.Background(), "get_profile", map[string]any{"id": "PR123"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Error("result marked as error")
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("content = %+v, want one text block", res.Content)
	}
	if !strings.Contains(res.Content[0].Text, "PR123") {
		t.Errorf("text does not mention the profile id: %s", res.Content[0].Text)
	}
}

func TestCreateProfileEnvelope(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		data, _ := body["data"].(map[string]any)
		if typ, _ := data["type"].(string); typ != "profile" {
			t.Errorf("data.type = %q, want profile", typ)
		}
		attrs, _ := data["attributes"].(map[string]any)
		if email, _ := attrs["email"].(string); email != "new@example.com" {
			t.Errorf("email = %q, want new@example.com", email)
		}
		if _, present := attrs["first_name"]; present {
			t.Error("empty optional attribute should be omitted")
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"data":{"type":"profile","id":"PRNEW"}}`)
	})

	res, err := r.Execute(context.Background(), "create_profile", map[string]any{"email": "new@example.com"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content[0].Text, "PRNEW") {
		t.Errorf("text = %s, want new profile id", res.Content[0].Text)
	}
}

func TestUpdateProfileRequiresAttributes(t *testing.T) {
	var requests atomic.Int32
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
	})

	_, err := r.Execute(context.Background(), "update_profile", map[string]any{"id": "PR123"})
	if err == nil || !strings.Contains(err.Error(), "no attributes to update") {
		t.Errorf("err = %v, want no attributes to update", err)
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("server saw %d requests, want 0", n)
	}
}

func TestAddProfilesToListRejectsEmpty(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("request should not reach the server")
	})

	_, err := r.Execute(context.Background(), "add_profiles_to_list", map[string]any{
		"list_id":     "L1",
		"profile_ids": []any{},
	})
	if err == nil || !strings.Contains(err.Error(), "must not be empty") {
		t.Errorf("err = %v, want empty profile_ids error", err)
	}
}

func TestRemoveProfilesFromListSendsDeleteBody(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", req.Method)
		}
		if req.URL.Path != "/lists/L1/relationships/profiles" {
			t.Errorf("path = %s", req.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		refs, _ := body["data"].([]any)
		if len(refs) != 2 {
			t.Errorf("refs = %d, want 2", len(refs))
		}
		w.WriteHeader(http.StatusNoContent)
	})

	res, err := r.Execute(context.Background(), "remove_profiles_from_list", map[string]any{
		"list_id":     "L1",
		"profile_ids": []any{"P1", "P2"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Error("result marked as error")
	}
}

func TestGetCampaignFallsBackToPlainFetch(t *testing.T) {
	var requests atomic.Int32
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
		if req.URL.Query().Get("include") == "campaign-messages" {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"errors":[{"title":"Server Error","detail":"include expansion failed"}]}`)
			return
		}
		io.WriteString(w, `{"data":{"type":"campaign","id":"CAMP1","attributes":{"name":"Spring Sale"}}}`)
	})

	res, err := r.Execute(context.Background(), "get_campaign", map[string]any{"id": "CAMP1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Content[0].Text, "Spring Sale") {
		t.Errorf("text = %s, want fallback campaign data", res.Content[0].Text)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("server saw %d requests, want 2 (failed include + plain fallback)", n)
	}
}

func TestListCampaignsDefaultsChannelFilter(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		if got := req.URL.Query().Get("filter"); got != "equals(messages.channel,'email')" {
			t.Errorf("filter = %q, want default email channel filter", got)
		}
		io.WriteString(w, `{"data":[]}`)
	})

	if _, err := r.Execute(context.Background(), "list_campaigns", map[string]any{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestUpdateFlowStatusValidated(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("request should not reach the server")
	})

	_, err := r.Execute(context.Background(), "update_flow_status", map[string]any{"id": "F1", "status": "paused"})
	if err == nil || !strings.Contains(err.Error(), "invalid flow status") {
		t.Errorf("err = %v, want invalid status", err)
	}
}

func TestTagResourceValidatesType(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("request should not reach the server")
	})

	_, err := r.Execute(context.Background(), "tag_resource", map[string]any{
		"tag_id":        "T1",
		"resource_type": "profiles",
		"resource_ids":  []any{"P1"},
	})
	if err == nil || !strings.Contains(err.Error(), "resource_type must be one of") {
		t.Errorf("err = %v, want resource type error", err)
	}
}

func TestQueryMetricAggregateDefaults(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/metric-aggregates" {
			t.Errorf("path = %s, want /metric-aggregates", req.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		attrs := body["data"].(map[string]any)["attributes"].(map[string]any)
		if got, _ := attrs["interval"].(string); got != "day" {
			t.Errorf("interval = %q, want day", got)
		}
		meas, _ := attrs["measurements"].([]any)
		if len(meas) != 1 || meas[0] != "count" {
			t.Errorf("measurements = %v, want [count]", meas)
		}
		filters, _ := attrs["filter"].([]any)
		if len(filters) != 2 {
			t.Fatalf("filters = %v, want 2 clauses", filters)
		}
		if !strings.Contains(filters[0].(string), "2024-01-01") || !strings.Contains(filters[1].(string), "2024-02-01") {
			t.Errorf("filters = %v, want date bounds", filters)
		}
		io.WriteString(w, `{"data":{"type":"metric-aggregate","attributes":{"data":[]}}}`)
	})

	_, err := r.Execute(context.Background(), "query_metric_aggregate", map[string]any{
		"metric_id": "M1",
		"start":     "2024-01-01T00:00:00Z",
		"end":       "2024-02-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestCreateEventNestedEnvelopes(t *testing.T) {
	r := newTestRegistry(t, func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		attrs := body["data"].(map[string]any)["attributes"].(map[string]any)
		metric := attrs["metric"].(map[string]any)["data"].(map[string]any)
		if name := metric["attributes"].(map[string]any)["name"]; name != "Placed Order" {
			t.Errorf("metric name = %v, want Placed Order", name)
		}
		profile := attrs["profile"].(map[string]any)["data"].(map[string]any)
		if email := profile["attributes"].(map[string]any)["email"]; email != "buyer@example.com" {
			t.Errorf("profile email = %v", email)
		}
		if v := attrs["value"]; v != 42.5 {
			t.Errorf("value = %v, want 42.5", v)
		}
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{}`)
	})

	_, err := r.Execute(context.Background(), "create_event", map[string]any{
		"metric_name": "Placed Order",
		"email":       "buyer@example.com",
		"value":       42.5,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestResultConstructors(t *testing.T) {
	if res := TextResult("hi"); res.Content[0].Text != "hi" || res.IsError {
		t.Errorf("TextResult = %+v", res)
	}

	res := JSONResult(map[string]any{"a": 1})
	if res.IsError || !strings.Contains(res.Content[0].Text, `"a": 1`) {
		t.Errorf("JSONResult = %+v", res)
	}

	res = ErrorResult(io.ErrUnexpectedEOF)
	if !res.IsError || res.Content[0].Text != "unexpected EOF" {
		t.Errorf("ErrorResult = %+v", res)
	}

	res = ImageResult([]byte{1, 2, 3}, "image/png")
	if res.Content[0].Type != "image" || res.Content[0].MimeType != "image/png" || res.Content[0].Data == "" {
		t.Errorf("ImageResult = %+v", res)
	}
}
