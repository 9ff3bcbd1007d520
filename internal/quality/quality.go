package quality

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/oasisdevteambal/regula/internal/extract"
	"github.com/oasisdevteambal/regula/internal/model"
)

// DefaultThreshold is the minimum score a chunk must reach to stay
// completed. Below it the chunk goes to needs_review even though
// extraction succeeded.
const DefaultThreshold = 0.7

// Weights for the four quality factors. They sum to 1; when the
// consistency factor cannot be computed the remaining three are scaled
// back up to sum to 1 on their own.
type Weights struct {
	Completeness          float64
	ContextPreservation   float64
	CrossChunkConsistency float64
	KeywordCoverage       float64
}

func DefaultWeights() Weights {
	return Weights{
		Completeness:          0.30,
		ContextPreservation:   0.25,
		CrossChunkConsistency: 0.25,
		KeywordCoverage:       0.20,
	}
}

type Config struct {
	Weights   Weights
	Threshold float64
	Keywords  []string
}

func DefaultConfig() Config {
	return Config{
		Weights:   DefaultWeights(),
		Threshold: DefaultThreshold,
		Keywords:  model.DefaultKeywords(),
	}
}

// Neighbor carries a sequence-adjacent chunk's extraction state into the
// consistency check. A neighbor that exists but is not Ready has not
// finished extraction; its rules are no constraint yet, not an error.
type Neighbor struct {
	Exists bool
	Ready  bool
	Rules  []model.ExtractedRule
}

// Assessment is the validator's verdict for one chunk.
type Assessment struct {
	Factors model.QualityFactors
	Score   float64
	Passed  bool
}

// Validator scores completed chunks. All methods are pure over their
// inputs; the validator holds only configuration.
type Validator struct {
	cfg Config
}

func NewValidator(cfg Config) *Validator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = model.DefaultKeywords()
	}
	return &Validator{cfg: cfg}
}

// Evaluate scores a chunk against its extracted rules and the rules of
// its direct sequence neighbors.
func (v *Validator) Evaluate(chunk *model.DocumentChunk, rules []model.ExtractedRule, prev, next Neighbor) Assessment {
	consistency, known := Consistency(rules, prev, next)
	f := model.QualityFactors{
		Completeness:          completeness(chunk.Text, rules),
		ContextPreservation:   contextPreservation(chunk.ContextKeywords, rules),
		CrossChunkConsistency: consistency,
		KeywordCoverage:       keywordCoverage(chunk.Text, rules, v.cfg.Keywords),
		ConsistencyKnown:      known,
	}
	score := Score(f, v.cfg.Weights)
	return Assessment{Factors: f, Score: score, Passed: score >= v.cfg.Threshold}
}

// Score folds the factors into their weighted sum. When ConsistencyKnown
// is false the consistency weight is dropped and the remaining weights
// renormalized.
func Score(f model.QualityFactors, w Weights) float64 {
	if f.ConsistencyKnown {
		return f.Completeness*w.Completeness +
			f.ContextPreservation*w.ContextPreservation +
			f.CrossChunkConsistency*w.CrossChunkConsistency +
			f.KeywordCoverage*w.KeywordCoverage
	}
	rest := w.Completeness + w.ContextPreservation + w.KeywordCoverage
	if rest == 0 {
		return 0
	}
	return (f.Completeness*w.Completeness +
		f.ContextPreservation*w.ContextPreservation +
		f.KeywordCoverage*w.KeywordCoverage) / rest
}

// Consistency compares a chunk's rules with its direct neighbors' rules
// of the same type and returns the agreement ratio over comparable pairs.
// The second return is false when an existing neighbor has not finished
// extraction; the factor is then excluded from the score. No neighbors,
// no shared rule types and no comparable pairs all count as agreement.
func Consistency(rules []model.ExtractedRule, prev, next Neighbor) (float64, bool) {
	var neighborRules []model.ExtractedRule
	for _, n := range []Neighbor{prev, next} {
		if !n.Exists {
			continue
		}
		if !n.Ready {
			return 0, false
		}
		neighborRules = append(neighborRules, n.Rules...)
	}

	pairs, agreed := 0, 0
	for _, a := range rules {
		for _, b := range neighborRules {
			if a.RuleType != b.RuleType {
				continue
			}
			agree, ok := rulesAgree(a.Payload, b.Payload)
			if !ok {
				continue
			}
			pairs++
			if agree {
				agreed++
			}
		}
	}
	if pairs == 0 {
		return 1, true
	}
	return float64(agreed) / float64(pairs), true
}

// completeness is the fraction of rule types whose cue markers appear in
// the chunk text that got at least one extracted rule. A chunk whose text
// signals no rule type scores 1.
func completeness(text string, rules []model.ExtractedRule) float64 {
	lower := strings.ToLower(text)
	extracted := make(map[string]bool, len(rules))
	for _, r := range rules {
		extracted[r.RuleType] = true
	}

	expected, found := 0, 0
	for ruleType, info := range extract.RuleTypes {
		marked := false
		for _, m := range info.Markers {
			if strings.Contains(lower, m) {
				marked = true
				break
			}
		}
		if !marked {
			continue
		}
		expected++
		if extracted[ruleType] {
			found++
		}
	}
	if expected == 0 {
		return 1
	}
	return float64(found) / float64(expected)
}

// contextPreservation is the fraction of overlap-injected keywords that
// made it into at least one rule payload. Chunks with no injected context
// score 1.
func contextPreservation(contextKeywords []string, rules []model.ExtractedRule) float64 {
	if len(contextKeywords) == 0 {
		return 1
	}
	payloads := joinedPayloads(rules)
	hit := 0
	for _, kw := range contextKeywords {
		if strings.Contains(payloads, strings.ToLower(kw)) {
			hit++
		}
	}
	return float64(hit) / float64(len(contextKeywords))
}

// keywordCoverage is the fraction of domain keywords present in the chunk
// text that are reflected in at least one payload. Chunks containing no
// domain keyword score 1.
func keywordCoverage(text string, rules []model.ExtractedRule, keywords []string) float64 {
	inText := model.KeywordsIn(text, keywords)
	if len(inText) == 0 {
		return 1
	}
	payloads := joinedPayloads(rules)
	hit := 0
	for _, kw := range inText {
		if strings.Contains(payloads, strings.ToLower(kw)) {
			hit++
		}
	}
	return float64(hit) / float64(len(inText))
}

func joinedPayloads(rules []model.ExtractedRule) string {
	var b strings.Builder
	for _, r := range rules {
		b.Write(r.Payload)
		b.WriteByte('\n')
	}
	return strings.ToLower(b.String())
}

// rulesAgree compares two same-type payloads. Bracket-style payloads with
// min and max bounds agree when their ranges are disjoint, or when the
// ranges overlap and every shared rate-like key holds the same value.
// Other payloads agree when every numeric key they share is equal. The
// second return is false when the payloads share nothing numeric.
func rulesAgree(a, b json.RawMessage) (bool, bool) {
	ma := numericFields(a)
	mb := numericFields(b)
	if len(ma) == 0 || len(mb) == 0 {
		return false, false
	}

	aMin, okAMin := ma["min"]
	aMax, okAMax := ma["max"]
	bMin, okBMin := mb["min"]
	bMax, okBMax := mb["max"]
	if okAMin && okAMax && okBMin && okBMax {
		if aMax <= bMin || bMax <= aMin {
			// Disjoint ranges, e.g. adjacent bracket rows.
			return true, true
		}
		return sameSharedValues(ma, mb, "rate", "amount", "value"), true
	}

	shared := 0
	for k, va := range ma {
		vb, ok := mb[k]
		if !ok {
			continue
		}
		shared++
		if math.Abs(va-vb) > 1e-6 {
			return false, true
		}
	}
	if shared == 0 {
		return false, false
	}
	return true, true
}

// numericFields returns the top-level numeric fields of a JSON object
// payload. Non-object payloads return nil.
func numericFields(payload json.RawMessage) map[string]float64 {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil
	}
	out := make(map[string]float64)
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

func sameSharedValues(a, b map[string]float64, keys ...string) bool {
	for _, k := range keys {
		va, okA := a[k]
		vb, okB := b[k]
		if okA && okB && math.Abs(va-vb) > 1e-6 {
			return false
		}
	}
	return true
}
