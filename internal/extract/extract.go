package extract

import (
	"context"
	"encoding/json"
)

// Service is the rule-extraction collaborator boundary. Implementations
// turn a chunk prompt into structured rule candidates, failing with
// RateLimitedError or TimeoutError when the failure is transient and
// InvalidResponseError when the answer itself is unusable.
type Service interface {
	ExtractRules(ctx context.Context, prompt string) (*Result, error)
}

// Result is one successful extraction call.
type Result struct {
	Candidates []RuleCandidate
	TokensUsed int64
}

// RuleCandidate is a single rule as the model proposed it, before
// validation. The continuation flags mark rules that depend on content from
// an adjacent chunk (e.g. a bracket table carried across a boundary); the
// scheduler resolves them to concrete chunk references.
type RuleCandidate struct {
	RuleType          string          `json:"rule_type"`
	Payload           json.RawMessage `json:"payload"`
	Confidence        float64         `json:"confidence"`
	ContinuesPrevious bool            `json:"continues_previous"`
	ContinuesNext     bool            `json:"continues_next"`
}
