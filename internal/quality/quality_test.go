package quality

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/oasisdevteambal/regula/internal/model"
)

func TestScore_WeightedSum(t *testing.T) {
	f := model.QualityFactors{
		Completeness:          0.9,
		ContextPreservation:   0.5,
		CrossChunkConsistency: 0.8,
		KeywordCoverage:       0.6,
		ConsistencyKnown:      true,
	}
	got := Score(f, DefaultWeights())
	if math.Abs(got-0.715) > 1e-9 {
		t.Errorf("expected score 0.715, got %f", got)
	}
	if got < DefaultThreshold {
		t.Errorf("expected score %f to clear threshold %f", got, DefaultThreshold)
	}
}

func TestScore_RenormalizesWhenConsistencyUnknown(t *testing.T) {
	f := model.QualityFactors{
		Completeness:        0.8,
		ContextPreservation: 0.6,
		KeywordCoverage:     0.5,
		ConsistencyKnown:    false,
	}
	got := Score(f, DefaultWeights())
	want := (0.8*0.30 + 0.6*0.25 + 0.5*0.20) / (0.30 + 0.25 + 0.20)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected renormalized score %f, got %f", want, got)
	}
}

func TestValidator_EvaluateCleanChunk(t *testing.T) {
	chunk := &model.DocumentChunk{
		ID:              "c1",
		Text:            "Income below the threshold is exempt.",
		ContextKeywords: []string{"income"},
	}
	rules := []model.ExtractedRule{
		{RuleType: "exemption", Payload: json.RawMessage(`{"subject":"income","threshold":500000}`)},
		{RuleType: "threshold", Payload: json.RawMessage(`{"threshold":500000,"applies_to":"income"}`)},
	}

	v := NewValidator(DefaultConfig())
	a := v.Evaluate(chunk, rules, Neighbor{}, Neighbor{})

	if math.Abs(a.Score-1) > 1e-9 {
		t.Errorf("expected perfect score, got %f (factors %+v)", a.Score, a.Factors)
	}
	if !a.Passed {
		t.Error("expected chunk to pass")
	}
	if !a.Factors.ConsistencyKnown {
		t.Error("expected consistency known when no neighbors exist")
	}
}

func TestValidator_NoRulesForMarkedTextFails(t *testing.T) {
	chunk := &model.DocumentChunk{
		ID:              "c1",
		Text:            "The rate of tax on each bracket is set below the threshold.",
		ContextKeywords: []string{"rate"},
	}

	v := NewValidator(DefaultConfig())
	a := v.Evaluate(chunk, nil, Neighbor{}, Neighbor{})

	if a.Factors.Completeness != 0 {
		t.Errorf("expected completeness 0 with no rules, got %f", a.Factors.Completeness)
	}
	if a.Factors.KeywordCoverage != 0 {
		t.Errorf("expected keyword coverage 0 with no rules, got %f", a.Factors.KeywordCoverage)
	}
	if a.Passed {
		t.Errorf("expected chunk to fail threshold, score %f", a.Score)
	}
}

func TestConsistency_AdjacentBracketsAgree(t *testing.T) {
	rules := []model.ExtractedRule{
		{RuleType: "tax_bracket", Payload: json.RawMessage(`{"min":0,"max":400000,"rate":0.1}`)},
	}
	next := Neighbor{Exists: true, Ready: true, Rules: []model.ExtractedRule{
		{RuleType: "tax_bracket", Payload: json.RawMessage(`{"min":400000,"max":800000,"rate":0.2}`)},
	}}

	got, known := Consistency(rules, Neighbor{}, next)
	if !known {
		t.Fatal("expected consistency to be computable")
	}
	if got != 1 {
		t.Errorf("expected agreement 1.0 for disjoint brackets, got %f", got)
	}
}

func TestConsistency_ContradictoryRatesDisagree(t *testing.T) {
	rules := []model.ExtractedRule{
		{RuleType: "tax_bracket", Payload: json.RawMessage(`{"min":0,"max":400000,"rate":0.1}`)},
	}
	next := Neighbor{Exists: true, Ready: true, Rules: []model.ExtractedRule{
		{RuleType: "tax_bracket", Payload: json.RawMessage(`{"min":0,"max":400000,"rate":0.15}`)},
	}}

	got, known := Consistency(rules, Neighbor{}, next)
	if !known {
		t.Fatal("expected consistency to be computable")
	}
	if got != 0 {
		t.Errorf("expected agreement 0.0 for overlapping brackets with different rates, got %f", got)
	}
}

func TestConsistency_PendingNeighborUnknown(t *testing.T) {
	rules := []model.ExtractedRule{
		{RuleType: "threshold", Payload: json.RawMessage(`{"threshold":500000}`)},
	}

	_, known := Consistency(rules, Neighbor{Exists: true, Ready: false}, Neighbor{})
	if known {
		t.Error("expected consistency unknown while a neighbor is still pending")
	}
}

func TestConsistency_NoComparablePairs(t *testing.T) {
	rules := []model.ExtractedRule{
		{RuleType: "definition", Payload: json.RawMessage(`{"term":"resident"}`)},
	}
	next := Neighbor{Exists: true, Ready: true, Rules: []model.ExtractedRule{
		{RuleType: "definition", Payload: json.RawMessage(`{"term":"non-resident"}`)},
	}}

	got, known := Consistency(rules, Neighbor{}, next)
	if !known {
		t.Fatal("expected consistency to be computable")
	}
	if got != 1 {
		t.Errorf("expected agreement 1.0 with nothing numeric to compare, got %f", got)
	}
}

func TestContextPreservation_PartialHits(t *testing.T) {
	rules := []model.ExtractedRule{
		{RuleType: "relief", Payload: json.RawMessage(`{"item":"housing allowance"}`)},
	}
	got := contextPreservation([]string{"allowance", "surcharge"}, rules)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", got)
	}
}
