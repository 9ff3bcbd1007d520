package parser

import (
	"errors"
	"strings"
	"testing"

	"github.com/oasisdevteambal/regula/internal/model"
)

func TestCSVParser_SingleTableBlock(t *testing.T) {
	input := "bracket,rate\n0-500000,6%\n500001-1000000,11%\n"
	p := &CSVParser{}
	doc, err := p.Parse(strings.NewReader(input), "brackets.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "brackets" {
		t.Errorf("expected title %q, got %q", "brackets", doc.Title)
	}
	if len(doc.Hints) != 1 || doc.Hints[0].Kind != model.HintTable {
		t.Fatalf("expected a single table hint, got %+v", doc.Hints)
	}

	want := "bracket | rate\n0-500000 | 6%\n500001-1000000 | 11%"
	if doc.Text != want {
		t.Errorf("expected %q, got %q", want, doc.Text)
	}
	h := doc.Hints[0]
	if h.Offset != 0 || h.Length != len(want) {
		t.Errorf("expected hint to cover whole text, got offset=%d length=%d", h.Offset, h.Length)
	}
}

func TestCSVParser_EmptyInput(t *testing.T) {
	p := &CSVParser{}
	doc, err := p.Parse(strings.NewReader(""), "empty.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Text != "" {
		t.Errorf("expected empty text, got %q", doc.Text)
	}
	if len(doc.Hints) != 0 {
		t.Errorf("expected no hints, got %d", len(doc.Hints))
	}
}

func TestForFile_UnsupportedExtension(t *testing.T) {
	_, err := ForFile("archive.zip")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
