package tools

import (
	"context"
	"fmt"
	"net/url"
)

func (r *Registry) registerListTools() {
	r.Register(&Tool{
		Name:        "list_lists",
		Description: "List all lists with optional filter and pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(name,\"Newsletter\")"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListLists,
	})

	r.Register(&Tool{
		Name:        "get_list",
		Description: "Get a single list by ID.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "List ID"),
		}, "id"),
		Handler: r.handleGetList,
	})

	r.Register(&Tool{
		Name:        "create_list",
		Description: "Create a new list.",
		InputSchema: schema(map[string]any{
			"name": prop("string", "List name"),
		}, "name"),
		Handler: r.handleCreateList,
	})

	r.Register(&Tool{
		Name:        "delete_list",
		Description: "Delete a list by ID.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "List ID"),
		}, "id"),
		Handler: r.handleDeleteList,
	})

	r.Register(&Tool{
		Name:        "add_profiles_to_list",
		Description: "Add profiles to a list by profile ID.",
		InputSchema: schema(map[string]any{
			"list_id":     prop("string", "List ID"),
			"profile_ids": prop("array", "Profile IDs to add"),
		}, "list_id", "profile_ids"),
		Handler: r.handleAddProfilesToList,
	})

	r.Register(&Tool{
		Name:        "remove_profiles_from_list",
		Description: "Remove profiles from a list by profile ID.",
		InputSchema: schema(map[string]any{
			"list_id":     prop("string", "List ID"),
			"profile_ids": prop("array", "Profile IDs to remove"),
		}, "list_id", "profile_ids"),
		Handler: r.handleRemoveProfilesFromList,
	})

	r.Register(&Tool{
		Name:        "get_list_profiles",
		Description: "List the profiles that belong to a list.",
		InputSchema: schema(map[string]any{
			"id":          prop("string", "List ID"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}, "id"),
		Handler: r.handleGetListProfiles,
	})
}

func (r *Registry) handleListLists(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "lists", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetList(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "lists/"+url.PathEscape(stringArg(args, "id")), nil)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleCreateList(ctx context.Context, args map[string]any) (*Result, error) {
	body := envelope("list", map[string]any{"name": stringArg(args, "name")})
	res, err := r.client.Post(ctx, "lists", body)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleDeleteList(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	res, err := r.client.Delete(ctx, "lists/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

// profileRefs builds the relationship payload for list membership
// changes.
func profileRefs(ids []string) (map[string]any, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("profile_ids must not be empty")
	}
	refs := make([]any, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, map[string]any{"type": "profile", "id": id})
	}
	return map[string]any{"data": refs}, nil
}

func (r *Registry) handleAddProfilesToList(ctx context.Context, args map[string]any) (*Result, error) {
	body, err := profileRefs(stringListArg(args, "profile_ids"))
	if err != nil {
		return nil, err
	}
	listID := stringArg(args, "list_id")
	res, err := r.client.Post(ctx, "lists/"+url.PathEscape(listID)+"/relationships/profiles", body)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleRemoveProfilesFromList(ctx context.Context, args map[string]any) (*Result, error) {
	refs, err := profileRefs(stringListArg(args, "profile_ids"))
	if err != nil {
		return nil, err
	}
	listID := stringArg(args, "list_id")
	res, err := r.client.DeleteWithBody(ctx, "lists/"+url.PathEscape(listID)+"/relationships/profiles", refs)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetListProfiles(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	res, err := r.client.Get(ctx, "lists/"+url.PathEscape(id)+"/profiles", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
