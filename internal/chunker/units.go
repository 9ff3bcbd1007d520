package chunker

import "strings"

// EstimateUnits gives a rough size of text in budget units, a token-count
// approximation. This is intentionally simple — exact tokenization is not
// required for chunk planning.
func EstimateUnits(text string) int {
	if text == "" {
		return 0
	}
	// Count words as a better proxy than pure character division.
	words := len(strings.Fields(text))
	// Roughly 0.75 words per unit for English text.
	units := int(float64(words) * 1.33)
	if units < 1 && len(text) > 0 {
		units = 1
	}
	return units
}
