// Package tools defines the tool catalog exposed to MCP peers. Every
// tool is a thin mapping from validated arguments to one or two
// Klaviyo API calls.
package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"

	"github.com/wrenfield/klaviyo-mcp/internal/klaviyo"
)

// Content is one MCP content block in a tool result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is the outcome of one tool call as sent to the peer.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult wraps plain text in a result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) *Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Errorf("encode result: %w", err))
	}
	return TextResult(string(data))
}

// ImageResult wraps raw image bytes in a base64 image block.
func ImageResult(data []byte, mimeType string) *Result {
	return &Result{Content: []Content{{
		Type:     "image",
		Data:     base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}}}
}

// ErrorResult reports a failed call as readable text. The protocol
// layer sends these with isError set rather than as protocol errors.
func ErrorResult(err error) *Result {
	return &Result{
		Content: []Content{{Type: "text", Text: err.Error()}},
		IsError: true,
	}
}

// Tool represents one callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Handler     func(ctx context.Context, args map[string]any) (*Result, error) `json:"-"`
}

// Registry holds the tool catalog.
type Registry struct {
	tools  map[string]*Tool
	client *klaviyo.Client
	logger *slog.Logger
}

// NewRegistry creates the registry with the full catalog registered.
func NewRegistry(client *klaviyo.Client, logger *slog.Logger) *Registry {
	r := &Registry{
		tools:  make(map[string]*Tool),
		client: client,
		logger: logger,
	}
	r.registerProfileTools()
	r.registerListTools()
	r.registerSegmentTools()
	r.registerCampaignTools()
	r.registerTemplateTools()
	r.registerMetricTools()
	r.registerEventTools()
	r.registerFlowTools()
	r.registerTagTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns the catalog sorted by name so listings are stable.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a tool by name. Argument validation failures and
// handler errors are both returned as errors; the protocol layer
// decides how to surface them.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*Result, error) {
	tool := r.tools[name]
	if tool == nil {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	if err := validateArgs(tool.InputSchema, args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return tool.Handler(ctx, args)
}

// validateArgs checks the schema's required list and the primitive
// type of every provided argument. Nested object contents are the
// handler's business.
func validateArgs(schema, args map[string]any) error {
	if req, ok := schema["required"].([]string); ok {
		for _, key := range req {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required argument %q", key)
			}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for key, val := range args {
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if want == "" {
			continue
		}
		if !typeMatches(want, val) {
			return fmt.Errorf("argument %q must be of type %s", key, want)
		}
	}
	return nil
}

// typeMatches maps JSON-decoded Go values onto JSON-Schema primitive
// type names.
func typeMatches(want string, val any) bool {
	switch want {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := val.(float64)
		return ok
	case "integer":
		f, ok := val.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	}
	return true
}

// Argument extraction helpers. Validation has already confirmed types,
// so these just default missing optionals.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, def int) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return def
}

func objectArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}

func stringListArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// schema builds a JSON-Schema object description.
func schema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// prop describes one schema property.
func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// envelope builds the JSON:API request body every write endpoint
// expects.
func envelope(resourceType string, attributes map[string]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"type":       resourceType,
			"attributes": attributes,
		},
	}
}

// envelopeID is envelope with the resource id, as PATCH endpoints
// require.
func envelopeID(resourceType, id string, attributes map[string]any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"type":       resourceType,
			"id":         id,
			"attributes": attributes,
		},
	}
}

// pageQuery assembles the standard list-endpoint query parameters.
func pageQuery(args map[string]any) url.Values {
	q := url.Values{}
	if f := stringArg(args, "filter"); f != "" {
		q.Set("filter", f)
	}
	if n := intArg(args, "page_size", 0); n > 0 {
		q.Set("page[size]", strconv.Itoa(n))
	}
	if cur := stringArg(args, "page_cursor"); cur != "" {
		q.Set("page[cursor]", cur)
	}
	if s := stringArg(args, "sort"); s != "" {
		q.Set("sort", s)
	}
	return q
}
