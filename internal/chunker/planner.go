package chunker

import (
	"sort"

	"github.com/google/uuid"

	"github.com/oasisdevteambal/regula/internal/model"
)

// Budgets is the maximum chunk size in units per content type.
type Budgets struct {
	Body    int
	Table   int
	Formula int
	List    int
	Header  int
}

// OverlapWords is the context window size in words per content type of the
// chunk the window is copied from.
type OverlapWords struct {
	Body    int
	Table   int
	Formula int
	List    int
	Header  int
}

// Config controls chunk planning and overlap stitching.
type Config struct {
	Budgets Budgets
	Overlap OverlapWords

	// Keywords is the domain vocabulary scanned for in injected overlap
	// windows; hits are recorded on the receiving chunk.
	Keywords []string
}

// DefaultConfig returns the standard budgets for regulatory text.
func DefaultConfig() Config {
	return Config{
		Budgets: Budgets{
			Body:    1200,
			Table:   800,
			Formula: 1000,
			List:    1000,
			Header:  600,
		},
		Overlap: OverlapWords{
			Body:    150,
			Table:   150,
			Formula: 200,
			List:    150,
			Header:  50,
		},
		Keywords: model.DefaultKeywords(),
	}
}

// For returns the budget for a content type.
func (b Budgets) For(ct model.ContentType) int {
	switch ct {
	case model.ContentTable:
		return b.Table
	case model.ContentFormula:
		return b.Formula
	case model.ContentList:
		return b.List
	case model.ContentHeader:
		return b.Header
	default:
		return b.Body
	}
}

// For returns the overlap word count for a content type.
func (o OverlapWords) For(ct model.ContentType) int {
	switch ct {
	case model.ContentTable:
		return o.Table
	case model.ContentFormula:
		return o.Formula
	case model.ContentList:
		return o.List
	case model.ContentHeader:
		return o.Header
	default:
		return o.Body
	}
}

// Plan slices sections into chunks respecting per-content-type budgets.
// Chunks carry absolute byte ranges into the source text; concatenating
// chunk texts in sequence order reproduces the source exactly. Nothing is
// dropped, however small. A span with no valid split point inside its
// budget is emitted whole and marked oversized rather than corrupted.
func Plan(documentID string, sections []model.Section, cfg Config) []model.DocumentChunk {
	var chunks []model.DocumentChunk
	seq := 0
	for _, sec := range sections {
		budget := cfg.Budgets.For(sec.Type)
		if budget <= 0 {
			budget = DefaultConfig().Budgets.For(sec.Type)
		}
		for _, span := range splitSection(sec.Text, sec.Type, budget) {
			chunks = append(chunks, model.DocumentChunk{
				ID:          uuid.NewString(),
				DocumentID:  documentID,
				Sequence:    seq,
				ByteStart:   sec.Start + span.start,
				ByteEnd:     sec.Start + span.end,
				Text:        sec.Text[span.start:span.end],
				ContentType: sec.Type,
				Status:      model.StatusPending,
				Oversized:   span.oversized,
			})
			seq++
		}
	}
	return chunks
}

type span struct {
	start, end int
	oversized  bool
}

func splitSection(text string, ct model.ContentType, budget int) []span {
	if text == "" {
		return nil
	}
	if EstimateUnits(text) <= budget {
		return []span{{start: 0, end: len(text)}}
	}

	bnds := boundaries(text, ct)
	var spans []span
	start := 0
	for start < len(text) {
		rest := text[start:]
		if EstimateUnits(rest) <= budget {
			spans = append(spans, span{start: start, end: len(text)})
			break
		}
		cut, ok := selectCut(text, bnds, start, budget)
		if !ok {
			// No boundary fits inside the budget: the span up to the next
			// boundary is atomic. Emit it whole and flag it.
			cut = nextBoundary(bnds, start, len(text))
			spans = append(spans, span{start: start, end: cut, oversized: true})
			start = cut
			continue
		}
		spans = append(spans, span{start: start, end: cut})
		start = cut
	}
	return spans
}

// boundary is a candidate cut position with a semantic priority. Higher
// scores mark cleaner places to split.
type boundary struct {
	pos   int
	score int
}

const (
	scoreTableRow  = 85
	scoreListItem  = 75
	scoreParagraph = 70
	scoreFormula   = 60
	scoreLine      = 50
	scoreSentence  = 20
)

// boundaries returns valid cut positions for a section, sorted ascending.
// Table rows, list items and formula expressions split only at line ends,
// so no cut ever lands inside one. Body text splits at paragraph breaks or
// after sentence-ending punctuation.
func boundaries(text string, ct model.ContentType) []boundary {
	byPos := make(map[int]int)
	record := func(pos, score int) {
		if pos <= 0 || pos >= len(text) {
			return
		}
		if score > byPos[pos] {
			byPos[pos] = score
		}
	}

	switch ct {
	case model.ContentTable, model.ContentList, model.ContentFormula, model.ContentHeader:
		score := scoreLine
		switch ct {
		case model.ContentTable:
			score = scoreTableRow
		case model.ContentList:
			score = scoreListItem
		case model.ContentFormula:
			score = scoreFormula
		}
		for i := 0; i < len(text); i++ {
			if text[i] == '\n' {
				record(i+1, score)
			}
		}
	default:
		for i := 0; i+1 < len(text); i++ {
			if text[i] == '\n' && text[i+1] == '\n' {
				record(i+2, scoreParagraph)
			}
			if (text[i] == '.' || text[i] == '!' || text[i] == '?') &&
				(text[i+1] == ' ' || text[i+1] == '\n') {
				record(i+2, scoreSentence)
			}
		}
	}

	bnds := make([]boundary, 0, len(byPos))
	for pos, score := range byPos {
		bnds = append(bnds, boundary{pos: pos, score: score})
	}
	sort.Slice(bnds, func(i, j int) bool { return bnds[i].pos < bnds[j].pos })
	return bnds
}

// selectCut picks the best boundary after start whose span fits the budget.
// Candidates filling the last 10% of the budget win on fill (closest to the
// limit); otherwise the highest-scoring boundary wins, later position
// breaking ties.
func selectCut(text string, bnds []boundary, start, budget int) (int, bool) {
	type candidate struct {
		pos, score, units int
	}
	var fits []candidate
	for _, b := range bnds {
		if b.pos <= start {
			continue
		}
		u := EstimateUnits(text[start:b.pos])
		if u > budget {
			break // units grow with position, nothing later fits
		}
		fits = append(fits, candidate{pos: b.pos, score: b.score, units: u})
	}
	if len(fits) == 0 {
		return 0, false
	}

	fillFloor := budget - budget/10
	best := fits[0]
	inWindow := false
	for _, c := range fits {
		if c.units >= fillFloor {
			// Maximize fill: candidates are position-ordered, so the last
			// one in the window is closest to the limit.
			best = c
			inWindow = true
			continue
		}
		if !inWindow && c.score >= best.score {
			best = c
		}
	}
	return best.pos, true
}

// nextBoundary returns the first boundary position after start, or limit.
func nextBoundary(bnds []boundary, start, limit int) int {
	for _, b := range bnds {
		if b.pos > start {
			return b.pos
		}
	}
	return limit
}
