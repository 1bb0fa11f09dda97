package tools

import (
	"context"
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

func (r *Registry) registerTemplateTools() {
	r.Register(&Tool{
		Name:        "list_templates",
		Description: "List email templates with optional filter and pagination.",
		InputSchema: schema(map[string]any{
			"filter":      prop("string", "JSON:API filter, e.g. equals(name,\"Welcome\")"),
			"page_size":   prop("integer", "Page size, max 100"),
			"page_cursor": prop("string", "Cursor from a previous page"),
		}),
		Handler: r.handleListTemplates,
	})

	r.Register(&Tool{
		Name:        "get_template",
		Description: "Get a template by ID, including its HTML and text bodies.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "Template ID"),
		}, "id"),
		Handler: r.handleGetTemplate,
	})

	r.Register(&Tool{
		Name:        "create_template",
		Description: "Create a code template from raw HTML.",
		InputSchema: schema(map[string]any{
			"name": prop("string", "Template name"),
			"html": prop("string", "HTML body"),
			"text": prop("string", "Optional plain-text body"),
		}, "name", "html"),
		Handler: r.handleCreateTemplate,
	})

	r.Register(&Tool{
		Name:        "create_template_from_markdown",
		Description: "Create a code template by rendering markdown to HTML; a plain-text body is derived automatically.",
		InputSchema: schema(map[string]any{
			"name":     prop("string", "Template name"),
			"markdown": prop("string", "Markdown body"),
		}, "name", "markdown"),
		Handler: r.handleCreateTemplateFromMarkdown,
	})

	r.Register(&Tool{
		Name:        "render_template",
		Description: "Render a template server-side with the given context variables.",
		InputSchema: schema(map[string]any{
			"id":      prop("string", "Template ID"),
			"context": prop("object", "Variables available to the template"),
		}, "id"),
		Handler: r.handleRenderTemplate,
	})

	r.Register(&Tool{
		Name:        "preview_template_text",
		Description: "Show how a template's HTML reads in a text-only mail client.",
		InputSchema: schema(map[string]any{
			"id": prop("string", "Template ID"),
		}, "id"),
		Handler: r.handlePreviewTemplateText,
	})

	r.Register(&Tool{
		Name:        "export_template_eml",
		Description: "Export a template as an RFC 5322 .eml preview with text and HTML alternatives.",
		InputSchema: schema(map[string]any{
			"id":      prop("string", "Template ID"),
			"from":    prop("string", "Sender address for the preview, e.g. Store <store@example.com>"),
			"to":      prop("string", "Optional recipient address for the preview"),
			"subject": prop("string", "Subject line for the preview"),
		}, "id", "from", "subject"),
		Handler: r.handleExportTemplateEML,
	})

	r.Register(&Tool{
		Name:        "generate_signup_qr",
		Description: "Encode a signup or subscribe URL as a QR code PNG.",
		InputSchema: schema(map[string]any{
			"url":  prop("string", "URL to encode"),
			"size": prop("integer", "Image size in pixels, 64-1024, default 256"),
		}, "url"),
		Handler: r.handleGenerateSignupQR,
	})
}

func (r *Registry) handleListTemplates(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "templates", pageQuery(args))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleGetTemplate(ctx context.Context, args map[string]any) (*Result, error) {
	res, err := r.client.Get(ctx, "templates/"+url.PathEscape(stringArg(args, "id")), nil)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleCreateTemplate(ctx context.Context, args map[string]any) (*Result, error) {
	attrs := map[string]any{
		"name":        stringArg(args, "name"),
		"editor_type": "CODE",
		"html":        stringArg(args, "html"),
	}
	if text := stringArg(args, "text"); text != "" {
		attrs["text"] = text
	}
	res, err := r.client.Post(ctx, "templates", envelope("template", attrs))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleCreateTemplateFromMarkdown(ctx context.Context, args map[string]any) (*Result, error) {
	md := stringArg(args, "markdown")
	htmlBody, err := renderMarkdown(md)
	if err != nil {
		return nil, err
	}
	attrs := map[string]any{
		"name":        stringArg(args, "name"),
		"editor_type": "CODE",
		"html":        htmlBody,
		"text":        markdownToPlain(md),
	}
	res, err := r.client.Post(ctx, "templates", envelope("template", attrs))
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

func (r *Registry) handleRenderTemplate(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	renderCtx := objectArg(args, "context")
	if renderCtx == nil {
		renderCtx = map[string]any{}
	}
	body := map[string]any{
		"data": map[string]any{
			"type": "template",
			"id":   id,
			"attributes": map[string]any{
				"context": renderCtx,
			},
		},
	}
	res, err := r.client.Post(ctx, "template-render", body)
	if err != nil {
		return nil, err
	}
	return JSONResult(res.Data), nil
}

// fetchTemplateBodies retrieves a template and pulls out its html and
// text attributes.
func (r *Registry) fetchTemplateBodies(ctx context.Context, id string) (htmlBody, textBody string, err error) {
	res, err := r.client.Get(ctx, "templates/"+url.PathEscape(id), nil)
	if err != nil {
		return "", "", err
	}
	root, ok := res.Data.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("unexpected template payload for %s", id)
	}
	data, ok := root["data"].(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("template payload for %s has no data object", id)
	}
	attrs, _ := data["attributes"].(map[string]any)
	htmlBody, _ = attrs["html"].(string)
	textBody, _ = attrs["text"].(string)
	if htmlBody == "" && textBody == "" {
		return "", "", fmt.Errorf("template %s has no renderable body", id)
	}
	return htmlBody, textBody, nil
}

func (r *Registry) handlePreviewTemplateText(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	htmlBody, textBody, err := r.fetchTemplateBodies(ctx, id)
	if err != nil {
		return nil, err
	}
	if htmlBody == "" {
		return TextResult(textBody), nil
	}
	return TextResult(htmlToText(htmlBody)), nil
}

func (r *Registry) handleExportTemplateEML(ctx context.Context, args map[string]any) (*Result, error) {
	id := stringArg(args, "id")
	htmlBody, textBody, err := r.fetchTemplateBodies(ctx, id)
	if err != nil {
		return nil, err
	}
	if textBody == "" {
		textBody = htmlToText(htmlBody)
	}
	msg, err := composeEML(stringArg(args, "from"), stringArg(args, "to"), stringArg(args, "subject"), textBody, htmlBody)
	if err != nil {
		return nil, err
	}
	return TextResult(string(msg)), nil
}

func (r *Registry) handleGenerateSignupQR(ctx context.Context, args map[string]any) (*Result, error) {
	target := stringArg(args, "url")
	if _, err := url.ParseRequestURI(target); err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}
	size := intArg(args, "size", 256)
	if size < 64 {
		size = 64
	}
	if size > 1024 {
		size = 1024
	}
	png, err := qrcode.Encode(target, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return ImageResult(png, "image/png"), nil
}
