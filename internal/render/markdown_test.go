package render

import (
	"strings"
	"testing"
)

func TestRenderHeadingAndParagraph(t *testing.T) {
	out, err := NewMarkdown().Render("# Chapter One\n\nIt was a dark night.")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, `<h1 id="chapter-one">Chapter One</h1>`) {
		t.Errorf("missing heading in %q", out)
	}
	if !strings.Contains(out, "<p>It was a dark night.</p>") {
		t.Errorf("missing paragraph in %q", out)
	}
}

func TestRenderPlainText(t *testing.T) {
	out, err := NewMarkdown().Render("Hello")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out != "<p>Hello</p>\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRenderStrikethrough(t *testing.T) {
	out, err := NewMarkdown().Render("~~gone~~")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "<del>gone</del>") {
		t.Errorf("expected GFM strikethrough, got %q", out)
	}
}
