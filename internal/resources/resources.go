// Package resources exposes Klaviyo objects as MCP resources under the
// klaviyo:// scheme. Reads go through the shared API client, so cached
// entries serve repeat fetches.
package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/wrenfield/klaviyo-mcp/internal/klaviyo"
)

const scheme = "klaviyo://"

// ErrNotFound reports a URI that matches no known resource or
// template. The protocol layer maps it to a resource-not-found error.
var ErrNotFound = errors.New("resource not found")

// Template describes one parameterized resource URI.
type Template struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Resource describes one concrete, always-present resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Contents is the payload returned by a read.
type Contents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// collections maps the URI path prefix onto a display name. Each one
// reads from the API endpoint of the same name.
var collections = []struct {
	path string
	name string
}{
	{"profiles", "Profile"},
	{"lists", "List"},
	{"segments", "Segment"},
	{"campaigns", "Campaign"},
	{"templates", "Email template"},
	{"metrics", "Metric"},
}

// Registry resolves klaviyo:// URIs to API objects.
type Registry struct {
	client *klaviyo.Client
	logger *slog.Logger
}

// NewRegistry creates a resource registry backed by the given client.
func NewRegistry(client *klaviyo.Client, logger *slog.Logger) *Registry {
	return &Registry{client: client, logger: logger}
}

// List returns the static resources.
func (r *Registry) List() []Resource {
	return []Resource{{
		URI:         scheme + "account",
		Name:        "Account",
		Description: "The Klaviyo account this server is connected to.",
		MimeType:    "application/json",
	}}
}

// Templates returns the parameterized resource templates.
func (r *Registry) Templates() []Template {
	out := make([]Template, 0, len(collections))
	for _, c := range collections {
		out = append(out, Template{
			URITemplate: scheme + c.path + "/{id}",
			Name:        c.name,
			Description: fmt.Sprintf("%s by ID.", c.name),
			MimeType:    "application/json",
		})
	}
	return out
}

// Read resolves a concrete URI and fetches its contents.
func (r *Registry) Read(ctx context.Context, uri string) (*Contents, error) {
	rest, ok := strings.CutPrefix(uri, scheme)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported scheme in %q", ErrNotFound, uri)
	}

	endpoint, err := resolve(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, uri)
	}

	res, err := r.client.Get(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	if res.FromCache {
		r.logger.Debug("resource served from cache", "uri", uri)
	}

	text, err := json.MarshalIndent(res.Data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return &Contents{URI: uri, MimeType: "application/json", Text: string(text)}, nil
}

// resolve maps the path part of a klaviyo:// URI onto an API endpoint.
func resolve(rest string) (string, error) {
	if rest == "account" {
		return "accounts", nil
	}
	collection, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", ErrNotFound
	}
	for _, c := range collections {
		if c.path == collection {
			return c.path + "/" + url.PathEscape(id), nil
		}
	}
	return "", ErrNotFound
}
