package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// RuleTypeInfo describes a known rule type: the confidence assumed when the
// model omits one, and the cue phrases whose presence in chunk text signals
// a rule of this type should have been extracted.
type RuleTypeInfo struct {
	DefaultConfidence float64
	Markers           []string
}

// RuleTypes is the extraction vocabulary for regulatory text.
var RuleTypes = map[string]RuleTypeInfo{
	"tax_bracket":   {DefaultConfidence: 0.7, Markers: []string{"bracket", "band", "slab"}},
	"rate_schedule": {DefaultConfidence: 0.7, Markers: []string{"rate of", "per cent", "percent", "%"}},
	"deduction":     {DefaultConfidence: 0.7, Markers: []string{"deduct", "allowable expense"}},
	"exemption":     {DefaultConfidence: 0.8, Markers: []string{"exempt"}},
	"threshold":     {DefaultConfidence: 0.6, Markers: []string{"threshold", "not exceeding", "in excess of"}},
	"relief":        {DefaultConfidence: 0.6, Markers: []string{"relief", "allowance"}},
	"penalty":       {DefaultConfidence: 0.6, Markers: []string{"penalty", "fine of", "surcharge"}},
	"definition":    {DefaultConfidence: 0.5, Markers: []string{"means", "shall be construed"}},
	"procedure":     {DefaultConfidence: 0.5, Markers: []string{"shall file", "shall furnish", "shall submit"}},
}

const maxPayloadBytes = 4096

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// ValidateCandidate checks a rule candidate for shape and sanity, fixing up
// what can be fixed (type normalization, default confidence). Returns true
// if the candidate may be persisted as a rule.
func ValidateCandidate(c *RuleCandidate) bool {
	if c == nil {
		return false
	}
	c.RuleType = NormalizeRuleType(c.RuleType)
	info, ok := RuleTypes[c.RuleType]
	if !ok {
		return false
	}

	payload := bytes.TrimSpace(c.Payload)
	if len(payload) == 0 || len(payload) > maxPayloadBytes {
		return false
	}
	if payload[0] != '{' || !json.Valid(payload) {
		return false
	}
	if injectionPattern.Match(payload) {
		return false
	}
	c.Payload = payload

	if c.Confidence == 0 {
		c.Confidence = info.DefaultConfidence
	}
	if c.Confidence < 0.01 || c.Confidence > 1.0 {
		return false
	}
	return true
}

// NormalizeRuleType maps model spellings onto the canonical form:
// lowercase, underscores for spaces and hyphens.
func NormalizeRuleType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
