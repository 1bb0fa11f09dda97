package tools

import (
	"context"
	"net/url"
)

func (r *Registry) registerSegmentTools() {
	r.Register(&Tool{
		Name:        "list_segments",
		Description: "List segments with optional filter and pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(name,\"Engaged\")"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListSegments,
	})

	r.Register(&Tool{
		Name:        "get_segment",
		Description: "Get a single segment by ID, including its definition.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "Segment ID"),
		}, "id"),
		Handler: r.handleGetSegment,
	})

	r.Register(&Tool{
		Name:        "get_segment_profiles",
		Description: "List the profiles currently matched by a segment.",
		InputSchema: schema(map[string]any{
			"id":          prop("string", "Segment ID"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}, "id"),
		Handler: r.handleGetSegmentProfiles,
	})
}

func (r *Registry) handleListSegments(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "segments", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetSegment(ctx context.Context, args map[string]any) (*Result, error) {
	q := url.Values{}
	q.Set("additional-fields[segment]", "definition")
	res, err := r.client.Get(ctx, "segments/"+url.PathEscape(stringArg(args, "id")), q)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetSegmentProfiles(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	res, err := r.client.Get(ctx, "segments/"+url.PathEscape(id)+"/profiles", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
