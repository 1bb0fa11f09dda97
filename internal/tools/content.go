package tools

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// renderMarkdown converts markdown to a self-contained HTML document
// with no external resources, suitable as an email template body.
func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	doc := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String())
	return doc, nil
}

// Markdown formatting patterns stripped when deriving the text part.
var mdStrip = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```"), "${1}"},
	{regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`), "${1}"},
	{regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`), "${1} (${2})"},
	{regexp.MustCompile(`\*\*(.+?)\*\*`), "${1}"},
	{regexp.MustCompile(`\*(.+?)\*`), "${1}"},
	{regexp.MustCompile("`([^`]+)`"), "${1}"},
	{regexp.MustCompile(`(?m)^#{1,6}\s+`), ""},
}

// markdownToPlain strips markdown formatting while keeping the text
// and list structure readable.
func markdownToPlain(md string) string {
	s := md
	for _, p := range mdStrip {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return strings.TrimSpace(s)
}

// hiddenElements are elements whose content never renders in a mail
// client.
var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Head:     true,
	atom.Title:    true,
}

// htmlToText extracts the readable text from template HTML the way a
// text-only mail client would see it.
func htmlToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return collapseWhitespace(stripTags(raw))
	}
	var b strings.Builder
	walkText(doc, &b)
	return collapseWhitespace(b.String())
}

func walkText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		if hiddenElements[n.DataAtom] {
			return
		}
		if blockElement(n.DataAtom) && b.Len() > 0 {
			b.WriteString("\n\n")
		}
	}
	if n.Type == html.TextNode {
		if text := strings.TrimSpace(n.Data); text != "" {
			b.WriteString(text)
			b.WriteString(" ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		b.WriteString("\n")
	}
}

func blockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Table, atom.Tr,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Hr:
		return true
	}
	return false
}

// stripTags is the fallback when the HTML will not parse as a
// document.
func stripTags(s string) string {
	tok := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.WriteString(tok.Token().Data)
			b.WriteString(" ")
		}
	}
}

// collapseWhitespace squeezes intra-line runs and consecutive blank
// lines.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	prevBlank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if prevBlank {
				continue
			}
			prevBlank = true
		} else {
			prevBlank = false
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

// composeEML builds an RFC 5322 multipart/alternative message carrying
// the template's text and HTML renditions.
func composeEML(from, to, subject, textBody, htmlBody string) ([]byte, error) {
	var buf bytes.Buffer
	var h mail.Header

	h.SetDate(time.Now())
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message-id: %w", err)
	}
	h.SetSubject(subject)

	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("parse from address %q: %w", from, err)
	}
	h.SetAddressList("From", []*mail.Address{fromAddr})

	if to != "" {
		toAddr, err := mail.ParseAddress(to)
		if err != nil {
			return nil, fmt.Errorf("parse to address %q: %w", to, err)
		}
		h.SetAddressList("To", []*mail.Address{toAddr})
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	var ph mail.InlineHeader
	ph.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(ph)
	if err != nil {
		return nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(pw, textBody); err != nil {
		return nil, fmt.Errorf("write text part: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("close text part: %w", err)
	}

	var hh mail.InlineHeader
	hh.Set("Content-Type", "text/html; charset=utf-8")
	hw, err := tw.CreatePart(hh)
	if err != nil {
		return nil, fmt.Errorf("create html part: %w", err)
	}
	if _, err := io.WriteString(hw, htmlBody); err != nil {
		return nil, fmt.Errorf("write html part: %w", err)
	}
	if err := hw.Close(); err != nil {
		return nil, fmt.Errorf("close html part: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
