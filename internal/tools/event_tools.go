package tools

import (
	"context"
	"fmt"
)

func (r *Registry) registerEventTools() {
	r.Register(&Tool{
		Name:        "list_events",
		Description: "List events with optional filter, sort, and cursor pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(metric_id,\"abc123\")"),
			"sort":        prop("string", "Sort field; prefix with - for descending"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListEvents,
	})

	r.Register(&Tool{
		Name:        "create_event",
		Description: "Record an event for a profile, creating the metric if it does not exist.",
		InputSchema: schema(map[string]any{
			"metric_name": prop("string", "Metric name, e.g. Placed Order"),
			"email":       prop("string", "Email identifying the profile"),
			"properties":  prop("object", "Event properties"),
			"value":       prop("number", "Monetary or numeric value of the event"),
			"time":        prop("string", "Event time, ISO 8601; defaults to now"),
			"unique_id":   prop("string", "Idempotency key for the event"),
		}, "metric_name", "email"),
		Handler: r.handleCreateEvent,
	})
}

func (r *Registry) handleListEvents(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "events", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleCreateEvent(ctx context.Context, args map[string]any) (*Result, error) {
	metricName := stringArg(args, "metric_name")
	email := stringArg(args, "email")
	if metricName == "" || email == "" {
		return nil, fmt.Errorf("metric_name and email must not be empty")
	}
	props := objectArg(args, "properties")
	if props == nil {
		props = map[string]any{}
	}
	attrs := map[string]any{
		"properties": props,
		"metric":     envelope("metric", map[string]any{"name": metricName}),
		"profile":    envelope("profile", map[string]any{"email": email}),
	}
	if v, ok := args["value"].(float64); ok {
		attrs["value"] = v
	}
	if t := stringArg(args, "time"); t != "" {
		attrs["time"] = t
	}
	if uid := stringArg(args, "unique_id"); uid != "" {
		attrs["unique_id"] = uid
	}
	res, err := r.client.Post(ctx, "events", envelope("event", attrs))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
