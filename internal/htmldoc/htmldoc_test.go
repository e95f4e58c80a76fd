package htmldoc

import (
	"strings"
	"testing"
)

func TestBuild(t *testing.T) {
	doc := Build("<h1>Hi</h1>", "h1{color:red}")

	for _, want := range []string{
		"<!doctype html>",
		`<meta charset="utf-8"/>`,
		`<meta name="viewport" content="width=device-width, initial-scale=1"/>`,
		"<style>h1{color:red}</style>",
		"<body><h1>Hi</h1></body>",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q:\n%s", want, doc)
		}
	}
	if !strings.HasPrefix(doc, "<!doctype html>") {
		t.Error("document must start with the doctype")
	}
}

func TestBuildMatchesParts(t *testing.T) {
	p := Parts()
	html, css := "<p>x</p>", "p{margin:0}"
	if got, want := Build(html, css), p.Head+css+p.Body+html+p.Tail; got != want {
		t.Fatalf("Build and Parts disagree:\n%s\n---\n%s", got, want)
	}
}

func TestBuildEmpty(t *testing.T) {
	doc := Build("", "")
	if !strings.Contains(doc, "<style></style>") || !strings.Contains(doc, "<body></body>") {
		t.Fatalf("unexpected empty document:\n%s", doc)
	}
}

func TestEscapeCSS(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a{}", "a{}"},
		{"a{}</style><script>x</script>", `a{}<\/style><script>x</script>`},
		{"</STYLE>", `<\/STYLE>`},
		{"</style</style", `<\/style<\/style`},
	}
	for _, tt := range tests {
		if got := EscapeCSS(tt.in); got != tt.want {
			t.Errorf("EscapeCSS(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildCannotCloseStyleEarly(t *testing.T) {
	doc := Build("<p>x</p>", "p{}</style><script>alert(1)</script>")
	if strings.Count(strings.ToLower(doc), "</style") != 1 {
		t.Fatalf("css closed the style element:\n%s", doc)
	}
}

func TestEnsure(t *testing.T) {
	full := "<!DOCTYPE html><html><body>x</body></html>"
	if got := Ensure(full, "p{}"); got != full {
		t.Errorf("full document should pass through unchanged, got %q", got)
	}
	if got := Ensure("  ", ""); got != "" {
		t.Errorf("empty input should stay empty, got %q", got)
	}
	if got := Ensure("<p>x</p>", ""); !IsDocument(got) {
		t.Errorf("fragment should be wrapped, got %q", got)
	}
}
