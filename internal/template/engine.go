package template

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	rawPattern     = regexp.MustCompile(`\{\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}\}`)
	escapedPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Engine renders templates with data
type Engine struct{}

// NewEngine creates a new template engine
func NewEngine() *Engine {
	return &Engine{}
}

// Render expands every placeholder in tmpl. Missing variables become "".
func (e *Engine) Render(tmpl string, vars Vars) string {
	return expand(tmpl, func(name string, raw bool) string {
		value := Stringify(Lookup(vars, name))
		if raw {
			return value
		}
		return htmlEscaper.Replace(value)
	})
}

// RenderMessage renders subject, html body and optional text body
func (e *Engine) RenderMessage(subject, html, text string, vars Vars) *RenderResult {
	return &RenderResult{
		Subject: e.Render(subject, vars),
		HTML:    e.Render(html, vars),
		Text:    e.Render(text, vars),
	}
}

// Validate checks that every brace pair in parts is a well-formed placeholder
func (e *Engine) Validate(parts ...string) error {
	for _, part := range parts {
		rest := expand(part, func(string, bool) string { return "" })
		if i := strings.Index(rest, "{{"); i >= 0 {
			return fmt.Errorf("malformed placeholder near %q", snippet(rest, i))
		}
		if i := strings.Index(rest, "}}"); i >= 0 {
			return fmt.Errorf("unmatched closing braces near %q", snippet(rest, i))
		}
	}
	return nil
}

// ExtractVariableNames returns the names referenced by parts in first-seen
// order, without duplicates.
func ExtractVariableNames(parts ...string) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, part := range parts {
		expand(part, func(name string, _ bool) string {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			return ""
		})
	}
	return names
}

// expand runs two passes: raw placeholders are located first, then escaped
// placeholders are replaced only inside the literal text between them. Values
// produced by fn are never scanned again.
func expand(tmpl string, fn func(name string, raw bool) string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}

	var b strings.Builder
	b.Grow(len(tmpl))
	last := 0
	for _, m := range rawPattern.FindAllStringSubmatchIndex(tmpl, -1) {
		expandEscaped(&b, tmpl[last:m[0]], fn)
		b.WriteString(fn(tmpl[m[2]:m[3]], true))
		last = m[1]
	}
	expandEscaped(&b, tmpl[last:], fn)
	return b.String()
}

func expandEscaped(b *strings.Builder, text string, fn func(name string, raw bool) string) {
	last := 0
	for _, m := range escapedPattern.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(text[last:m[0]])
		b.WriteString(fn(text[m[2]:m[3]], false))
		last = m[1]
	}
	b.WriteString(text[last:])
}

func snippet(s string, at int) string {
	end := at + 20
	if end > len(s) {
		end = len(s)
	}
	return s[at:end]
}
