package model

// Section is one labeled, contiguous span of a document's text. Sections
// are non-overlapping and in order cover the whole source, so concatenating
// their texts reproduces it byte for byte.
type Section struct {
	Type  ContentType `json:"type"`
	Start int         `json:"start"`
	End   int         `json:"end"`
	Text  string      `json:"text"`
}

// HintKind classifies a layout hint from a raw-text provider.
type HintKind string

const (
	HintHeading HintKind = "heading"
	HintTable   HintKind = "table"
	HintList    HintKind = "list"
)

// LayoutHint is a coarse structural marker a provider detected while
// producing plain text: a heading with its level, or a table/list region.
// Offsets index into the provider's emitted text.
type LayoutHint struct {
	Kind   HintKind `json:"kind"`
	Offset int      `json:"offset"`
	Length int      `json:"length"`
	Level  int      `json:"level,omitempty"`
}
