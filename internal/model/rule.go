package model

import (
	"encoding/json"
	"time"
)

// ExtractedRule is one structured rule pulled out of a chunk. Payload is
// domain-opaque to the pipeline; it is stored and embedded but never
// interpreted here. Immutable after creation except EmbeddingID, set once
// when the rule is indexed.
type ExtractedRule struct {
	ID             string          `json:"id"`
	RuleType       string          `json:"rule_type"`
	Payload        json.RawMessage `json:"payload"`
	SourceChunkID  string          `json:"source_chunk_id"`
	SourceSequence int             `json:"source_sequence"`
	Confidence     float64         `json:"confidence"`

	// Chunk IDs this rule logically depends on, e.g. a bracket table
	// continued from the previous chunk.
	CrossChunkRefs []string `json:"cross_chunk_refs,omitempty"`

	EmbeddingID *string `json:"embedding_id,omitempty"`
}

// QualityFactors holds the four independent scores the validator computes.
// ConsistencyKnown is false when cross-chunk consistency could not be
// evaluated because a neighbor had not finished extraction; the factor is
// then left out of the weighted average.
type QualityFactors struct {
	Completeness          float64 `json:"completeness"`
	ContextPreservation   float64 `json:"context_preservation"`
	CrossChunkConsistency float64 `json:"cross_chunk_consistency"`
	KeywordCoverage       float64 `json:"keyword_coverage"`
	ConsistencyKnown      bool    `json:"consistency_known"`
}

// ChunkProcessingStats records what one chunk's extraction cost. Written on
// every terminal status transition.
type ChunkProcessingStats struct {
	ChunkID        string         `json:"chunk_id"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
	Attempts       int            `json:"attempts"`
	RulesExtracted int            `json:"rules_extracted"`
	TokensUsed     int64          `json:"tokens_used"`
	QualityFactors QualityFactors `json:"quality_factors"`
}
