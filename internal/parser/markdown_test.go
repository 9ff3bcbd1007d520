package parser

import (
	"strings"
	"testing"

	"github.com/oasisdevteambal/regula/internal/model"
)

func TestMarkdownParser_HeadingHints(t *testing.T) {
	input := `# Income Tax Act

Intro text.

## Rates of Tax

Rate details here.
`
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "act.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "act" {
		t.Errorf("expected title %q, got %q", "act", doc.Title)
	}
	if !strings.Contains(doc.Text, "Intro text.") {
		t.Errorf("expected prose in text, got %q", doc.Text)
	}

	var headings []model.LayoutHint
	for _, h := range doc.Hints {
		if h.Kind == model.HintHeading {
			headings = append(headings, h)
		}
	}
	if len(headings) != 2 {
		t.Fatalf("expected 2 heading hints, got %d", len(headings))
	}
	if got := doc.Text[headings[0].Offset : headings[0].Offset+headings[0].Length]; got != "Income Tax Act" {
		t.Errorf("expected first hint to cover %q, got %q", "Income Tax Act", got)
	}
	if headings[0].Level != 1 {
		t.Errorf("expected level 1, got %d", headings[0].Level)
	}
	if got := doc.Text[headings[1].Offset : headings[1].Offset+headings[1].Length]; got != "Rates of Tax" {
		t.Errorf("expected second hint to cover %q, got %q", "Rates of Tax", got)
	}
	if headings[1].Level != 2 {
		t.Errorf("expected level 2, got %d", headings[1].Level)
	}
}

func TestMarkdownParser_NoHeadings(t *testing.T) {
	input := `Just some plain text.

Another paragraph here.`

	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "plain.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Hints) != 0 {
		t.Errorf("expected no hints, got %d", len(doc.Hints))
	}
	want := "Just some plain text.\n\nAnother paragraph here."
	if doc.Text != want {
		t.Errorf("expected %q, got %q", want, doc.Text)
	}
}

func TestMarkdownParser_TableFlattening(t *testing.T) {
	input := `Rates are set out below.

| Bracket | Rate |
| --- | --- |
| 0 to 500,000 | 6% |
| Above 500,000 | 11% |
`
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "rates.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Hints) != 1 {
		t.Fatalf("expected 1 hint, got %d", len(doc.Hints))
	}
	h := doc.Hints[0]
	if h.Kind != model.HintTable {
		t.Errorf("expected table hint, got %q", h.Kind)
	}
	table := doc.Text[h.Offset : h.Offset+h.Length]
	wantRows := []string{
		"Bracket | Rate",
		"0 to 500,000 | 6%",
		"Above 500,000 | 11%",
	}
	gotRows := strings.Split(table, "\n")
	if len(gotRows) != len(wantRows) {
		t.Fatalf("expected %d rows, got %d: %q", len(wantRows), len(gotRows), table)
	}
	for i, want := range wantRows {
		if gotRows[i] != want {
			t.Errorf("row %d: expected %q, got %q", i, want, gotRows[i])
		}
	}
}

func TestMarkdownParser_ListFlattening(t *testing.T) {
	input := `Allowable deductions:

- pension contributions
- mortgage interest relief

Steps:

1. compute gross income
2. subtract deductions
`
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "deductions.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var lists []model.LayoutHint
	for _, h := range doc.Hints {
		if h.Kind == model.HintList {
			lists = append(lists, h)
		}
	}
	if len(lists) != 2 {
		t.Fatalf("expected 2 list hints, got %d", len(lists))
	}

	first := doc.Text[lists[0].Offset : lists[0].Offset+lists[0].Length]
	if first != "- pension contributions\n- mortgage interest relief" {
		t.Errorf("unexpected unordered list text: %q", first)
	}
	second := doc.Text[lists[1].Offset : lists[1].Offset+lists[1].Length]
	if second != "1. compute gross income\n2. subtract deductions" {
		t.Errorf("unexpected ordered list text: %q", second)
	}
}

func TestMarkdownParser_TextEmittedOnce(t *testing.T) {
	input := "# Schedule\n\nThe rate of tax is six per cent.\n\n```\ntax = income * 0.06\n```\n"

	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(input), "schedule.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n := strings.Count(doc.Text, "six per cent"); n != 1 {
		t.Errorf("expected prose once, found %d times in %q", n, doc.Text)
	}
	if n := strings.Count(doc.Text, "tax = income * 0.06"); n != 1 {
		t.Errorf("expected code block content once, found %d times in %q", n, doc.Text)
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	p := &MarkdownParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Text != "" {
		t.Errorf("expected empty text, got %q", doc.Text)
	}
}

func TestMarkdownParser_TitleStripping(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"readme.md", "readme"},
		{"notes.markdown", "notes"},
		{"plain.md", "plain"},
	}
	p := &MarkdownParser{}
	for _, tt := range tests {
		doc, err := p.Parse(strings.NewReader("text"), tt.filename)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", tt.filename, err)
		}
		if doc.Title != tt.want {
			t.Errorf("filename=%q: expected title %q, got %q", tt.filename, tt.want, doc.Title)
		}
	}
}
