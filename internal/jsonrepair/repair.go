// Package jsonrepair applies best-effort textual fixes to malformed JSON
// documents. It targets the narrow set of corruption shapes seen on the
// stdio channel (smart quotes, single-quoted strings, trailing commas,
// unbalanced brackets, stray quotes inside strings), not arbitrary broken
// JSON. Every pass is a heuristic text rewrite, not a parser; the output
// may still fail to parse, and callers must treat that as "discard the
// frame" rather than an error.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// A pass rewrites a candidate document and reports whether it changed
// anything. Passes run in a fixed order; later passes see the output of
// earlier ones.
type pass func(string) (string, bool)

var passes = []pass{
	normalizeSmartQuotes,
	convertSingleQuotedStrings,
	stripTrailingCommas,
	insertMissingCommas,
	escapeControlChars,
	escapeDanglingBackslashes,
	trimTrailingGarbage,
	quoteBareKeys,
	escapeEmbeddedQuotes,
	closeOpenBrackets,
}

// Repair runs every pass over text in order and returns the result. It
// never fails and always returns some string, possibly unchanged and
// possibly still invalid. A final parse check short-circuits; if the text
// is still broken after the full pipeline, one narrow second-chance
// rewrite is attempted.
func Repair(text string) string {
	out := text
	for _, p := range passes {
		out, _ = p(out)
	}
	if json.Valid([]byte(out)) {
		return out
	}
	out, _ = rewriteQuoteSplitValue(out)
	return out
}

// SafeParse decodes text, repairing it first when the direct parse fails.
// The boolean is false when the text is unrecoverable. It never panics
// and never returns an error.
func SafeParse(text string) (any, bool) {
	var direct any
	if err := json.Unmarshal([]byte(text), &direct); err == nil {
		return direct, true
	}
	var repaired any
	if err := json.Unmarshal([]byte(Repair(text)), &repaired); err == nil {
		return repaired, true
	}
	return nil, false
}

var smartQuotes = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`, // low double
	"‘", "'", // left single
	"’", "'", // right single
)

// normalizeSmartQuotes turns typographic quotes into their ASCII forms.
// Curly singles become plain apostrophes so the single-quote pass can
// judge whether they delimit strings.
func normalizeSmartQuotes(s string) (string, bool) {
	out := smartQuotes.Replace(s)
	return out, out != s
}

var singleQuoted = regexp.MustCompile(`'([^']*)'`)

// convertSingleQuotedStrings rewrites single-quoted spans as double-quoted
// ones, but only when the document shows single quotes in delimiter
// positions. Plain apostrophes inside prose do not trigger it.
func convertSingleQuotedStrings(s string) (string, bool) {
	if !strings.Contains(s, "':") && !strings.Contains(s, "','") && !strings.Contains(s, "'}") {
		return s, false
	}
	out := singleQuoted.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[1 : len(m)-1]
		return `"` + strings.ReplaceAll(inner, `"`, `\"`) + `"`
	})
	return out, out != s
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

func stripTrailingCommas(s string) (string, bool) {
	out := trailingComma.ReplaceAllString(s, "$1")
	return out, out != s
}

var (
	adjacentClosers = regexp.MustCompile(`([}\]])(\s*)([{\[])`)
	adjacentStrings = regexp.MustCompile(`"(\s+)"`)
)

// insertMissingCommas separates adjacent close/open bracket pairs and
// adjacent whitespace-separated strings. Strings with no whitespace
// between them are left alone since "" is indistinguishable from an empty
// string literal.
func insertMissingCommas(s string) (string, bool) {
	out := adjacentClosers.ReplaceAllString(s, "${1},${2}${3}")
	out = adjacentStrings.ReplaceAllString(out, `",${1}"`)
	return out, out != s
}

// escapeControlChars rewrites raw control bytes inside string literals as
// \u00XX escapes. Control characters outside strings are structural
// whitespace or already-fatal garbage, so they stay untouched.
func escapeControlChars(s string) (string, bool) {
	var b strings.Builder
	changed := false
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			default:
				if c < 0x20 {
					fmt.Fprintf(&b, `\u%04x`, c)
					changed = true
					continue
				}
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	if !changed {
		return s, false
	}
	return b.String(), true
}

var backslashRun = regexp.MustCompile(`\\+"`)

// escapeDanglingBackslashes doubles a lone backslash that sits right
// before what looks like a closing quote, so the quote survives as a
// delimiter instead of being swallowed as an escape.
func escapeDanglingBackslashes(s string) (string, bool) {
	locs := backslashRun.FindAllStringIndex(s, -1)
	if locs == nil {
		return s, false
	}
	var b strings.Builder
	prev := 0
	changed := false
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		b.WriteString(s[prev:start])
		run := s[start:end]
		slashes := len(run) - 1
		if slashes%2 == 1 && terminatesString(s[end:]) {
			b.WriteString(strings.Repeat(`\`, slashes+1))
			b.WriteByte('"')
			changed = true
		} else {
			b.WriteString(run)
		}
		prev = end
	}
	b.WriteString(s[prev:])
	if !changed {
		return s, false
	}
	return b.String(), true
}

// terminatesString reports whether the text following a quote is
// consistent with that quote having closed a string: optional whitespace
// then a structural character or end of input.
func terminatesString(rest string) bool {
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if trimmed == "" {
		return true
	}
	switch trimmed[0] {
	case ':', ',', '}', ']':
		return true
	}
	return false
}

// trimTrailingGarbage cuts everything after the last closer that returns
// the document to bracket depth zero. String contents are skipped so
// braces inside values cannot confuse the depth count.
func trimTrailingGarbage(s string) (string, bool) {
	depth := 0
	last := -1
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				last = i
			}
		}
	}
	if last < 0 {
		return s, false
	}
	if strings.TrimSpace(s[last+1:]) == "" {
		return s, false
	}
	return s[:last+1], true
}

var bareKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

func quoteBareKeys(s string) (string, bool) {
	out := bareKey.ReplaceAllString(s, `${1}"${2}":`)
	return out, out != s
}

// escapeEmbeddedQuotes walks the document tracking in-string state and
// escapes quotes that appear inside a string without ending it. A quote
// counts as a real terminator when what follows looks structural. The
// boundary heuristic can misjudge pathological input; it is tuned for the
// shapes that actually show up on the channel.
func escapeEmbeddedQuotes(s string) (string, bool) {
	var b strings.Builder
	changed := false
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteByte(c)
		case c == '\\':
			escaped = true
			b.WriteByte(c)
		case c == '"':
			if terminatesString(s[i+1:]) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
				changed = true
			}
		default:
			b.WriteByte(c)
		}
	}
	if !changed {
		return s, false
	}
	return b.String(), true
}

// closeOpenBrackets appends the closers for any brackets left open at end
// of input, innermost first. Mismatched closers are left where they are.
func closeOpenBrackets(s string) (string, bool) {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return s, false
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String(), true
}

var quoteSplitValue = regexp.MustCompile(`(:\s*")([^"]*)"([^":,}\]]+)"`)

// rewriteQuoteSplitValue handles one narrow shape the general walk can
// miss when earlier corruption desynced its string tracking: a value
// string torn in two by a stray interior quote pair. Only applied after
// the full pipeline still failed to produce parseable text.
func rewriteQuoteSplitValue(s string) (string, bool) {
	out := quoteSplitValue.ReplaceAllString(s, `${1}${2}\"${3}"`)
	return out, out != s
}
