package tools

import (
	"context"
	"fmt"
	"net/url"
)

func (r *Registry) registerMetricTools() {
	r.Register(&Tool{
		Name:        "list_metrics",
		Description: "List metrics tracked by the account.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(integration.name,\"Shopify\")"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListMetrics,
	})

	r.Register(&Tool{
		Name:        "get_metric",
		Description: "Get a single metric by ID.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "Metric ID"),
		}, "id"),
		Handler: r.handleGetMetric,
	})

	r.Register(&Tool{
		Name:        "query_metric_aggregate",
		Description: "Query aggregated metric data over a date range, optionally grouped.",
		InputSchema: schema(map[string]any{
			"metric_id":    prop("string", "Metric ID to aggregate"),
			"start":        prop("string", "Range start, ISO 8601 datetime"),
			"end":          prop("string", "Range end, ISO 8601 datetime"),
			"interval":     prop("string", "Bucket interval: hour, day, week, or month; default day"),
			"measurements": prop("array", "Measurements to compute; default [\"count\"]"),
			"by":           prop("array", "Optional dimensions to group by, e.g. $message"),
			"timezone":     prop("string", "IANA timezone, default UTC"),
		}, "metric_id", "start", "end"),
		Handler: r.handleQueryMetricAggregate,
	})
}

func (r *Registry) handleListMetrics(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "metrics", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetMetric(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "metrics/"+url.PathEscape(stringArg(args, "id")), nil)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

var aggregateIntervals = map[string]bool{"hour": true, "day": true, "week": true, "month": true}

func (r *Registry) handleQueryMetricAggregate(ctx context.Context, args map[string]any) (*Result, error) {
	interval := stringArg(args, "interval")
	if interval == "" {
		interval = "day"
	}
	if !aggregateIntervals[interval] {
		return nil, fmt.Errorf("invalid interval %q", interval)
	}
	measurements := stringListArg(args, "measurements")
	if len(measurements) == 0 {
		measurements = []string{"count"}
	}
	timezone := stringArg(args, "timezone")
	if timezone == "" {
		timezone = "UTC"
	}
	attrs := map[string]any{
		"metric_id":    stringArg(args, "metric_id"),
		"measurements": measurements,
		"interval":     interval,
		"timezone":     timezone,
		"filter": []string{
			fmt.Sprintf("greater-or-equal(datetime,%s)", stringArg(args, "start")),
			fmt.Sprintf("less-than(datetime,%s)", stringArg(args, "end")),
		},
	}
	if by := stringListArg(args, "by"); len(by) > 0 {
		attrs["by"] = by
	}
	res, err := r.client.Post(ctx, "metric-aggregates", envelope("metric-aggregate", attrs))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
