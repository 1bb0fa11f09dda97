package tools

import (
	"context"
	"fmt"
	"net/url"
)

// profileAttrKeys are the flat profile attributes accepted by create
// and update.
var profileAttrKeys = []string{"email", "phone_number", "first_name", "last_name", "organization", "title"}

func (r *Registry) registerProfileTools() {
	r.Register(&Tool{
		Name:        "list_profiles",
		Description: "List profiles with optional filter, sort, and cursor pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(email,\"a@example.com\")"),
			"sort":        prop("string", "Sort field; prefix with - for descending"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListProfiles,
	})

	r.Register(&Tool{
		Name:        "get_profile",
		Description: "Get a single profile by ID.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "Profile ID"),
		}, "id"),
		Handler: r.handleGetProfile,
	})

	r.Register(&Tool{
		Name:        "create_profile",
		Description: "Create a profile. At least an email address is required.",
		InputSchema: schema(map[string]any{
			"email":        prop("string", "Email address"),
			"phone_number": prop("string", "Phone number in E.164 format"),
			"first_name":   prop("string", "First name"),
			"last_name":    prop("string", "Last name"),
			"organization": prop("string", "Organization"),
			"title":        prop("string", "Job title"),
			"properties":   prop("object", "Custom profile properties"),
		}, "email"),
		Handler: r.handleCreateProfile,
	})

	r.Register(&Tool{
		Name:        "update_profile",
		Description: "Update attributes of an existing profile.",
		InputSchema: schema(map[string]any{
			"id":           prop("string", "Profile ID"),
			"email":        prop("string", "Email address"),
			"phone_number": prop("string", "Phone number in E.164 format"),
			"first_name":   prop("string", "First name"),
			"last_name":    prop("string", "Last name"),
			"organization": prop("string", "Organization"),
			"title":        prop("string", "Job title"),
			"properties":   prop("object", "Custom profile properties"),
		}, "id"),
		Handler: r.handleUpdateProfile,
	})
}

func (r *Registry) handleListProfiles(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "profiles", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetProfile(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "profiles/"+url.PathEscape(stringArg(args, "id")), nil)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

// profileAttrs collects the flat attributes plus the free-form
// properties object.
func profileAttrs(args map[string]any) map[string]any {
	attrs := map[string]any{}
	for _, key := range profileAttrKeys {
		if v := stringArg(args, key); v != "" {
			attrs[key] = v
		}
	}
	if props := objectArg(args, "properties"); len(props) > 0 {
		attrs["properties"] = props
	}
	return attrs
}

func (r *Registry) handleCreateProfile(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Post(ctx, "profiles", envelope("profile", profileAttrs(args)))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleUpdateProfile(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	attrs := profileAttrs(args)
	if len(attrs) == 0 {
		return nil, fmt.Errorf("no attributes to update")
	}
	res, err := r.client.Patch(ctx, "profiles/"+url.PathEscape(id), envelopeID("profile", id, attrs))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}
