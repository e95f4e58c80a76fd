// Package htmldoc assembles the standalone HTML documents that are stored
// with each template version and served by the export endpoints.
package htmldoc

import (
	"regexp"
	"strings"
)

var styleCloseRe = regexp.MustCompile(`(?i)</style`)

// Skeleton is the fixed text around the CSS and body of an exported
// document. The editor page builds its clipboard copy from the same parts.
type Skeleton struct {
	Head string `json:"head"` // up to and including <style>
	Body string `json:"body"` // between the CSS and the body markup
	Tail string `json:"tail"`
}

var skeleton = Skeleton{
	Head: "<!doctype html>\n<html>\n<head>\n" +
		`<meta charset="utf-8"/>` + "\n" +
		`<meta name="viewport" content="width=device-width, initial-scale=1"/>` + "\n" +
		"<style>",
	Body: "</style>\n</head>\n<body>",
	Tail: "</body>\n</html>\n",
}

// Parts returns the document skeleton.
func Parts() Skeleton {
	return skeleton
}

// Build wraps an editor body and its CSS into a complete document.
func Build(html, css string) string {
	var b strings.Builder
	b.Grow(len(html) + len(css) + len(skeleton.Head) + len(skeleton.Body) + len(skeleton.Tail))
	b.WriteString(skeleton.Head)
	b.WriteString(EscapeCSS(css))
	b.WriteString(skeleton.Body)
	b.WriteString(html)
	b.WriteString(skeleton.Tail)
	return b.String()
}

// EscapeCSS neutralises any </style sequence so the text cannot close the
// surrounding style element.
func EscapeCSS(css string) string {
	return styleCloseRe.ReplaceAllStringFunc(css, func(m string) string {
		return `<\/` + m[2:]
	})
}

// IsDocument reports whether s already looks like a full HTML document.
func IsDocument(s string) bool {
	head := strings.ToLower(strings.TrimSpace(s))
	if len(head) > 64 {
		head = head[:64]
	}
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

// Ensure returns html unchanged when it is already a full document and
// wraps it with css otherwise. Empty input stays empty.
func Ensure(html, css string) string {
	if strings.TrimSpace(html) == "" && strings.TrimSpace(css) == "" {
		return ""
	}
	if IsDocument(html) {
		return html
	}
	return Build(html, css)
}
