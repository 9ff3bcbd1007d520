package model

import "strings"

// DefaultKeywords is the domain vocabulary for tax statutes and circulars.
func DefaultKeywords() []string {
	return []string{
		"rate", "bracket", "deduction", "exemption", "threshold",
		"relief", "allowance", "income", "taxable", "liability",
		"rebate", "surcharge", "levy", "credit", "assessment",
	}
}

// KeywordsIn reports which keywords occur in text. Matching is word-level,
// case-insensitive, with a trailing-s tolerance so "deductions" still hits
// "deduction". The result preserves keyword order.
func KeywordsIn(text string, keywords []string) []string {
	if text == "" || len(keywords) == 0 {
		return nil
	}
	present := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:()[]{}%|\"'-")
		if w == "" {
			continue
		}
		present[w] = true
		if strings.HasSuffix(w, "s") {
			present[w[:len(w)-1]] = true
		}
	}
	var hits []string
	for _, kw := range keywords {
		if present[strings.ToLower(kw)] {
			hits = append(hits, kw)
		}
	}
	return hits
}
