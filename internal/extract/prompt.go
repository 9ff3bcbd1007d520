package extract

import (
	"fmt"
	"strings"

	"github.com/oasisdevteambal/regula/internal/model"
)

const RulePrompt = `Extract structured tax rules from the following regulatory text section. Return a JSON array of rules. Each rule object must have these fields:

- "rule_type": one of "tax_bracket", "rate_schedule", "deduction", "exemption", "threshold", "relief", "penalty", "definition", "procedure"
- "payload": a JSON object with the rule's structured content. Use numeric fields for amounts and rates (e.g. {"min": 0, "max": 500000, "rate": 0.06}), and quote the governing text in a "source_text" field.
- "confidence": how certain you are this rule is stated by the text, 0.1 to 1.0 (float)
- "continues_previous": true if the rule depends on content that starts before this section (default false)
- "continues_next": true if the rule is incomplete and continues past this section (default false)

Rules:
- Only extract rules the text actually states — never infer rates or amounts not present
- One rule per bracket row, per deduction item, per exemption
- Keep every number exactly as written; normalize percentages to decimals in numeric fields
- A table carried over from the preceding context window is a continuation: set continues_previous
- Return an empty array [] if the section states no rules (e.g. a bare heading)

Respond with ONLY the JSON array, no other text.`

// BuildRulePrompt creates the full extraction prompt for a chunk, including
// document title, content type and the context keywords injected at the
// chunk boundary. The stitched text (overlap included) is what the model
// sees; the chunk's own span stays authoritative.
func BuildRulePrompt(docTitle string, chunk model.DocumentChunk) string {
	var sb strings.Builder
	sb.WriteString(RulePrompt)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Document: %q\n", docTitle))
	sb.WriteString(fmt.Sprintf("Section %d (%s)\n", chunk.Sequence, chunk.ContentType))
	if len(chunk.ContextKeywords) > 0 {
		sb.WriteString("Carried context mentions: ")
		sb.WriteString(strings.Join(chunk.ContextKeywords, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	if chunk.StitchedText != "" {
		sb.WriteString(chunk.StitchedText)
	} else {
		sb.WriteString(chunk.Text)
	}
	return sb.String()
}
