package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/oasisdevteambal/regula/internal/model"
)

// ErrUnsupportedFormat marks files the service cannot ingest. It is a
// document-level failure: nothing is chunked and nothing is retried.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrCorruptDocument marks files that match a supported extension but
// cannot be decoded.
var ErrCorruptDocument = errors.New("corrupt document")

// Document is the parse product: the full extracted text, layout hints
// gathered from source formatting, and a display title. Hints carry byte
// offsets into Text.
type Document struct {
	Title string
	Text  string
	Hints []model.LayoutHint
}

// Parser converts raw document bytes into a Document.
type Parser interface {
	Parse(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate parser for a filename.
func ForFile(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	case ".csv":
		return &CSVParser{}, nil
	case ".html", ".htm":
		return &HTMLParser{}, nil
	case ".pdf":
		return &PDFParser{FallbackPdftotext: true}, nil
	case ".docx":
		return &DOCXParser{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

func titleFromFilename(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// hintWriter accumulates extracted text blocks separated by blank lines and
// records layout hints with byte offsets into the accumulated text.
type hintWriter struct {
	buf   strings.Builder
	hints []model.LayoutHint
}

func (w *hintWriter) para(s string) {
	w.append(s, "", 0, false)
}

func (w *hintWriter) block(s string, kind model.HintKind, level int) {
	w.append(s, kind, level, true)
}

func (w *hintWriter) append(s string, kind model.HintKind, level int, hinted bool) {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return
	}
	if w.buf.Len() > 0 {
		w.buf.WriteString("\n\n")
	}
	start := w.buf.Len()
	w.buf.WriteString(s)
	if hinted {
		w.hints = append(w.hints, model.LayoutHint{
			Kind:   kind,
			Offset: start,
			Length: len(s),
			Level:  level,
		})
	}
}

func (w *hintWriter) document(title string) *Document {
	return &Document{
		Title: title,
		Text:  w.buf.String(),
		Hints: w.hints,
	}
}
