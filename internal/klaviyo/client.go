// Package klaviyo provides a resilient client for the Klaviyo REST API.
//
// Every call runs through a single executor that layers caching for
// GET requests, exponential backoff on rate limits, and optional
// fallback data on top of plain HTTP. Callers receive decoded JSON
// plus flags describing how the data was obtained.
package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wrenfield/klaviyo-mcp/internal/cache"
	"github.com/wrenfield/klaviyo-mcp/internal/config"
	"github.com/wrenfield/klaviyo-mcp/internal/httpkit"
	"github.com/wrenfield/klaviyo-mcp/internal/jsonrepair"
)

// maxResponseBytes bounds how much of a success body we will read.
// Klaviyo list endpoints page at 100 records, so anything larger than
// this is a malfunction upstream.
const maxResponseBytes = 8 << 20

// LatencyRecorder receives one observation per upstream dispatch.
// Satisfied by metrics.Tracker.
type LatencyRecorder interface {
	Record(operation string, d time.Duration)
}

// Config carries the credentials and endpoint for a Client.
type Config struct {
	BaseURL  string
	APIKey   string
	Revision string
}

// Client is a Klaviyo REST API client.
type Client struct {
	baseURL  string
	apiKey   string
	revision string
	httpc    *http.Client
	logger   *slog.Logger
	cache    *cache.Store
	retry    RetryConfig
	rng      RandSource
	metrics  LatencyRecorder
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithCache installs a response cache consulted on GET requests.
func WithCache(s *cache.Store) Option {
	return func(c *Client) { c.cache = s }
}

// WithRetryConfig replaces the rate-limit retry policy.
func WithRetryConfig(rc RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithRandSource replaces the jitter source. Intended for tests.
func WithRandSource(r RandSource) Option {
	return func(c *Client) { c.rng = r }
}

// WithLatencyRecorder installs a per-dispatch latency observer.
func WithLatencyRecorder(m LatencyRecorder) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Klaviyo client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		revision: cfg.Revision,
		logger:   logger,
		retry:    DefaultRetryConfig(),
		httpc: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of a successful call.
type Result struct {
	// Data is the decoded JSON response body.
	Data any
	// Degraded is true when Data came from a fallback producer after
	// the upstream request failed.
	Degraded bool
	// FromCache is true when Data was served from the response cache
	// without touching the network.
	FromCache bool
}

// callState collects per-call options.
type callState struct {
	fallback func(context.Context) (any, error)
}

// CallOption customizes a single call.
type CallOption func(*callState)

// WithFallback registers a producer consulted when the request fails
// after all retries. A successful fallback yields a Degraded result
// instead of an error.
func WithFallback(fn func(context.Context) (any, error)) CallOption {
	return func(s *callState) { s.fallback = fn }
}

// Get performs a GET request. Responses are cached by endpoint and
// query until their type-specific TTL expires.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values, opts ...CallOption) (*Result, error) {
	return c.do(ctx, http.MethodGet, endpoint, query, nil, opts...)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any, opts ...CallOption) (*Result, error) {
	return c.do(ctx, http.MethodPost, endpoint, nil, body, opts...)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, endpoint string, body any, opts ...CallOption) (*Result, error) {
	return c.do(ctx, http.MethodPatch, endpoint, nil, body, opts...)
}

// Delete performs a DELETE request. Klaviyo answers most deletes with
// 204 and an empty body, which is normalized to {"ok": true}.
func (c *Client) Delete(ctx context.Context, endpoint string, opts ...CallOption) (*Result, error) {
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil, opts...)
}

// DeleteWithBody performs a DELETE carrying a JSON body. Relationship
// endpoints use this to name the members being detached.
func (c *Client) DeleteWithBody(ctx context.Context, endpoint string, body any, opts ...CallOption) (*Result, error) {
	return c.do(ctx, http.MethodDelete, endpoint, nil, body, opts...)
}

// cacheKey builds the canonical cache key for a request. url.Values
// encodes in sorted key order, so equivalent queries share a key.
func cacheKey(method, endpoint string, query url.Values) string {
	key := method + " /" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		key += "?" + query.Encode()
	}
	return key
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, opts ...CallOption) (*Result, error) {
	var st callState
	for _, opt := range opts {
		opt(&st)
	}

	key := cacheKey(method, endpoint, query)
	if method == http.MethodGet && c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			c.logger.Debug("cache hit", "key", key)
			return &Result{Data: v, FromCache: true}, nil
		}
	}

	data, err := c.dispatchWithRetry(ctx, method, endpoint, query, body)
	if err != nil {
		if st.fallback == nil {
			return nil, err
		}
		fb, fbErr := st.fallback(ctx)
		if fbErr != nil {
			return nil, fmt.Errorf("%w (fallback also failed: %v)", err, fbErr)
		}
		c.logger.Warn("serving fallback data",
			"method", method,
			"endpoint", endpoint,
			"error", err)
		return &Result{Data: fb, Degraded: true}, nil
	}

	if method == http.MethodGet && c.cache != nil {
		c.cache.Set(key, data)
	}
	return &Result{Data: data}, nil
}

// dispatchWithRetry dispatches the request, retrying on rate limits
// with jittered exponential backoff. Any other failure returns
// immediately.
func (c *Client) dispatchWithRetry(ctx context.Context, method, endpoint string, query url.Values, body any) (any, error) {
	for attempt := 0; ; attempt++ {
		data, err := c.dispatch(ctx, method, endpoint, query, body)
		if err == nil {
			return data, nil
		}
		if !IsRateLimited(err) || attempt >= c.retry.MaxRetries {
			return nil, err
		}
		delay := c.retry.Delay(attempt+1, c.rng)
		c.logger.Warn("rate limited, backing off",
			"method", method,
			"endpoint", endpoint,
			"attempt", attempt+1,
			"max_retries", c.retry.MaxRetries,
			"delay", delay)
		if !sleepCtx(ctx, delay) {
			return nil, ctx.Err()
		}
	}
}

// dispatch performs one HTTP round trip and decodes the response.
func (c *Client) dispatch(ctx context.Context, method, endpoint string, query url.Values, body any) (any, error) {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, &SetupError{Err: fmt.Errorf("marshal body: %w", err)}
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, &SetupError{Err: err}
	}
	req.Header.Set("Authorization", "Klaviyo-API-Key "+c.apiKey)
	req.Header.Set("revision", c.revision)
	req.Header.Set("Accept", "application/vnd.api+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	c.logger.Debug("klaviyo request", "method", method, "endpoint", endpoint)
	if len(query) > 0 {
		c.logger.Log(ctx, config.LevelTrace, "request query", "query", maskQuery(query))
	}
	if body != nil {
		c.logger.Log(ctx, config.LevelTrace, "request body", "body", maskBody(body))
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Error("klaviyo request failed",
			"method", method,
			"endpoint", endpoint,
			"error", err)
		return nil, &NoResponseError{Method: method, Endpoint: endpoint, Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)
	if c.metrics != nil {
		c.metrics.Record("klaviyo.request", time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := []byte(httpkit.ReadErrorBody(resp.Body, 4096))
		upErr := &UpstreamError{
			Status:      resp.StatusCode,
			Method:      method,
			Endpoint:    endpoint,
			Detail:      parseErrorDetail(errBody),
			RateLimited: classifyRateLimit(resp.StatusCode, errBody),
		}
		c.logger.Error("klaviyo API error",
			"method", method,
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"detail", upErr.Detail)
		return nil, upErr
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NoResponseError{Method: method, Endpoint: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		// 204 No Content, typical for DELETE.
		return map[string]any{"ok": true}, nil
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		repaired, ok := jsonrepair.SafeParse(string(raw))
		if !ok {
			return nil, &UpstreamError{
				Status:   resp.StatusCode,
				Method:   method,
				Endpoint: endpoint,
				Detail:   "unparseable response body",
			}
		}
		c.logger.Warn("repaired malformed response body",
			"method", method,
			"endpoint", endpoint)
		data = repaired
	}
	return data, nil
}

// sleepCtx sleeps for d or until ctx is canceled. Returns false if
// canceled early.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
