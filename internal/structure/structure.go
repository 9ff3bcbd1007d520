package structure

import (
	"regexp"
	"strings"

	"github.com/oasisdevteambal/regula/internal/model"
)

// Analyze turns raw document text into an ordered list of labeled sections.
// Sections are contiguous, non-overlapping and cover the input losslessly:
// concatenating their texts reproduces the source byte for byte. Layout
// hints from the raw-text provider override line-level detection where they
// apply. Text with no detectable structure becomes a single body section;
// Analyze never fails.
func Analyze(text string, hints []model.LayoutHint) []model.Section {
	if text == "" {
		return nil
	}

	lines := scanLines(text)
	for i := range lines {
		trimmed := strings.TrimSpace(lines[i].text)
		if trimmed == "" {
			lines[i].blank = true
			continue
		}
		lines[i].label = classifyLine(trimmed)
	}
	applyHints(lines, hints)
	fillBlankLabels(lines)

	var sections []model.Section
	for _, ln := range lines {
		n := len(sections)
		if n > 0 && sections[n-1].Type == ln.label {
			sections[n-1].End = ln.end
			continue
		}
		sections = append(sections, model.Section{
			Type:  ln.label,
			Start: ln.start,
			End:   ln.end,
		})
	}
	for i := range sections {
		sections[i].Text = text[sections[i].Start:sections[i].End]
	}
	return sections
}

type line struct {
	start, end int // byte offsets into the source; end includes the newline
	text       string
	label      model.ContentType
	blank      bool
}

// scanLines splits text into lines keeping every byte accounted for: each
// line's span includes its trailing newline.
func scanLines(text string) []line {
	var lines []line
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, line{start: start, end: i + 1, text: text[start:i]})
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, line{start: start, end: len(text), text: text[start:]})
	}
	return lines
}

var (
	// Numbered or named headings: "4.2 Deductions", "Section 12", "PART IV",
	// "§ 109". Sentence-shaped lines (ending in a period) are excluded.
	namedHeadingRe    = regexp.MustCompile(`(?i)^(section|article|part|chapter|schedule|annex|appendix)\s+[0-9IVXLC]`)
	numberedHeadingRe = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+[A-Z][^.]*$`)
	sectionMarkRe     = regexp.MustCompile(`^§+\s*\d`)
	allCapsRe         = regexp.MustCompile(`^[A-Z][A-Z0-9 ,&()\-]+$`)

	// Assignment-shaped lines: "Tax payable = taxable income × rate".
	formulaRe = regexp.MustCompile(`^[\w\s.()%,]+=\s*\S.*$`)

	listItemRe   = regexp.MustCompile(`^(?:[-*•–]|\([a-zivx0-9]{1,4}\)|[a-z0-9]{1,3}[.)])\s+`)
	multiSpaceRe = regexp.MustCompile(`\S(?:  +)\S`)
)

func classifyLine(s string) model.ContentType {
	if isHeading(s) {
		return model.ContentHeader
	}
	if looksTabular(s) {
		return model.ContentTable
	}
	if looksFormula(s) {
		return model.ContentFormula
	}
	if listItemRe.MatchString(strings.ToLower(s)) {
		return model.ContentList
	}
	return model.ContentBody
}

func isHeading(s string) bool {
	if len(s) > 100 {
		return false
	}
	if namedHeadingRe.MatchString(s) || sectionMarkRe.MatchString(s) {
		return true
	}
	if numberedHeadingRe.MatchString(s) {
		return true
	}
	return len(s) <= 80 && strings.ContainsRune(s, ' ') && allCapsRe.MatchString(s)
}

func looksTabular(s string) bool {
	// Pipes and tabs almost never occur in regulatory prose, so one column
	// separator is enough to call the line tabular.
	if strings.ContainsAny(s, "|\t") {
		return true
	}
	return len(multiSpaceRe.FindAllString(s, 3)) >= 2
}

func looksFormula(s string) bool {
	if formulaRe.MatchString(s) {
		return true
	}
	ops := strings.Count(s, "×") + strings.Count(s, "÷") + strings.Count(s, "=")
	return ops >= 2 && strings.ContainsAny(s, "0123456789")
}

// applyHints overrides line labels where a provider reported structure it
// saw in the original format (heading levels, table and list regions).
func applyHints(lines []line, hints []model.LayoutHint) {
	for _, h := range hints {
		var label model.ContentType
		switch h.Kind {
		case model.HintHeading:
			label = model.ContentHeader
		case model.HintTable:
			label = model.ContentTable
		case model.HintList:
			label = model.ContentList
		default:
			continue
		}
		hintEnd := h.Offset + h.Length
		for i := range lines {
			if lines[i].blank {
				continue
			}
			if lines[i].start < hintEnd && lines[i].end > h.Offset {
				lines[i].label = label
			}
		}
	}
}

// fillBlankLabels attaches blank lines to the preceding run so no
// whitespace-only sections are produced. Leading blanks take the label of
// the first non-blank line.
func fillBlankLabels(lines []line) {
	current := model.ContentBody
	for i := range lines {
		if !lines[i].blank {
			current = lines[i].label
			break
		}
	}
	for i := range lines {
		if lines[i].blank {
			lines[i].label = current
		} else {
			current = lines[i].label
		}
	}
}
