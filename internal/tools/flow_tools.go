package tools

import (
	"context"
	"fmt"
	"net/url"
)

func (r *Registry) registerFlowTools() {
	r.Register(&Tool{
		Name:        "list_flows",
		Description: "List flows with optional filter and pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(status,\"live\")"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListFlows,
	})

	r.Register(&Tool{
		Name:        "get_flow",
		Description: "Get a single flow by ID.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "Flow ID"),
		}, "id"),
		Handler: r.handleGetFlow,
	})

	r.Register(&Tool{
		Name:        "update_flow_status",
		Description: "Set a flow's status to draft, manual, or live.",
		InputSchema: schema(map[string]any{
			"id":     prop("string", "Flow ID"),
			"status": prop("string", "New status: draft, manual, or live"),
		}, "id", "status"),
		Handler: r.handleUpdateFlowStatus,
	})
}

func (r *Registry) handleListFlows(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "flows", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetFlow(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "flows/"+url.PathEscape(stringArg(args, "id")), nil)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

var flowStatuses = map[string]bool{"draft": true, "manual": true, "live": true}

func (r *Registry) handleUpdateFlowStatus(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	status := stringArg(args, "status")
	if !flowStatuses[status] {
		return nil, fmt.Errorf("invalid flow status %q", status)
	}
	body := envelopeID("flow", id, map[string]any{"status": status})
	res, err := r.client.Patch(ctx, "flows/"+url.PathEscape(id), body)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
