package parser

import (
	"strings"
	"testing"
)

func TestTextParser_PreservesContent(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", doc.Title)
	}
	if doc.Text != input {
		t.Errorf("expected text to be preserved verbatim, got %q", doc.Text)
	}
	if len(doc.Hints) != 0 {
		t.Errorf("expected no hints for plain text, got %d", len(doc.Hints))
	}
}

func TestTextParser_EmptyInput(t *testing.T) {
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Title != "empty" {
		t.Errorf("expected title %q, got %q", "empty", doc.Title)
	}
	if doc.Text != "" {
		t.Errorf("expected empty text, got %q", doc.Text)
	}
}

func TestTextParser_NormalizesLineEndings(t *testing.T) {
	p := &TextParser{}
	doc, err := p.Parse(strings.NewReader("Para one.\r\n\r\nPara two.\r\n"), "crlf.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Para one.\n\nPara two.\n"
	if doc.Text != want {
		t.Errorf("expected %q, got %q", want, doc.Text)
	}
}
