package parser

import (
	"io"
	"strings"
)

// TextParser handles plain text files. The bytes are taken verbatim apart
// from line-ending normalization; blank-line and layout detection happens
// downstream on the extracted text.
type TextParser struct{}

func (p *TextParser) Parse(r io.Reader, filename string) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")

	return &Document{
		Title: titleFromFilename(filename),
		Text:  text,
	}, nil
}
