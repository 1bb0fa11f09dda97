package tools

import (
	"context"
	"fmt"
	"net/url"
)

func (r *Registry) registerTagTools() {
	r.Register(&Tool{
		Name:        "list_tags",
		Description: "List tags with optional filter and pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. contains(name,\"holiday\")"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListTags,
	})

	r.Register(&Tool{
		Name:        "create_tag",
		Description: "Create a tag, optionally inside a specific tag group.",
		InputSchema: schema(map[string]any{
			"name":         prop("string", "Tag name"),
			"tag_group_id": prop("string", "Tag group ID; defaults to the account's default group"),
		}, "name"),
		Handler: r.handleCreateTag,
	})

	r.Register(&Tool{
		Name:        "tag_resource",
		Description: "Apply a tag to campaigns, flows, lists, or segments.",
		InputSchema: schema(map[string]any{
			"tag_id":        prop("string", "Tag ID"),
			"resource_type": prop("string", "One of: campaigns, flows, lists, segments"),
			"resource_ids":  prop("array", "IDs of the resources to tag"),
		}, "tag_id", "resource_type", "resource_ids"),
		Handler: r.handleTagResource,
	})
}

func (r *Registry) handleListTags(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "tags", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleCreateTag(ctx context.Context, args map[string]any) (*Result, error) {
	body := map[string]any{
		"data": map[string]any{
			"type": "tag",
			"attributes": map[string]any{
				"name": stringArg(args, "name"),
			},
		},
	}
	if groupID := stringArg(args, "tag_group_id"); groupID != "" {
		body["data"].(map[string]any)["relationships"] = map[string]any{
			"tag-group": map[string]any{
				"data": map[string]any{"type": "tag-group", "id": groupID},
			},
		}
	}
	res, err := r.client.Post(ctx, "tags", body)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

// taggableResources maps the plural relationship name onto the
// JSON:API resource type.
var taggableResources = map[string]string{
	"campaigns": "campaign",
	"flows":     "flow",
	"lists":     "list",
	"segments":  "segment",
}

func (r *Registry) handleTagResource(ctx context.Context, args map[string]any) (*Result, error) {
	relation := stringArg(args, "resource_type")
	singular, ok := taggableResources[relation]
	if !ok {
		return nil, fmt.Errorf("resource_type must be one of campaigns, flows, lists, segments")
	}
	ids := stringListArg(args, "resource_ids")
	if len(ids) == 0 {
		return nil, fmt.Errorf("resource_ids must not be empty")
	}
	refs := make([]any, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, map[string]any{"type": singular, "id": id})
	}
	tagID := stringArg(args, "tag_id")
	endpoint := "tags/" + url.PathEscape(tagID) + "/relationships/" + relation
	res, err := r.client.Post(ctx, endpoint, map[string]any{"data": refs})
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
