package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/oasisdevteambal/regula/internal/model"
)

// CSVParser handles CSV files. The whole file becomes one pipe-delimited
// table block, header row first, covered by a single table hint.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse csv: %v", ErrCorruptDocument, err)
	}

	var w hintWriter
	if len(records) > 0 {
		rows := make([]string, 0, len(records))
		for _, record := range records {
			rows = append(rows, strings.Join(record, " | "))
		}
		w.block(strings.Join(rows, "\n"), model.HintTable, 0)
	}

	return w.document(titleFromFilename(filename)), nil
}
