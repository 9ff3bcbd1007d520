package model

// ContentType labels what kind of content a section or chunk holds.
type ContentType string

const (
	ContentHeader  ContentType = "header"
	ContentBody    ContentType = "body"
	ContentTable   ContentType = "table"
	ContentFormula ContentType = "formula"
	ContentList    ContentType = "list"
)

// ChunkStatus is the lifecycle state of a chunk.
type ChunkStatus string

const (
	StatusPending     ChunkStatus = "pending"
	StatusProcessing  ChunkStatus = "processing"
	StatusCompleted   ChunkStatus = "completed"
	StatusFailed      ChunkStatus = "failed"
	StatusNeedsReview ChunkStatus = "needs_review"
)

// Terminal reports whether no further extraction work happens on a chunk in
// this status.
func (s ChunkStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusNeedsReview
}

// DocumentChunk is a bounded, ordered slice of a document prepared for
// independent rule extraction. Text is the chunk's own span of the source
// (ByteStart:ByteEnd); StitchedText is Text plus the overlap windows injected
// from sequence neighbors and exists only for the extraction call. After
// creation only Status, RetryCount and QualityScore change.
type DocumentChunk struct {
	ID           string      `json:"id"`
	DocumentID   string      `json:"document_id"`
	Sequence     int         `json:"sequence"`
	ByteStart    int         `json:"byte_start"`
	ByteEnd      int         `json:"byte_end"`
	Text         string      `json:"text"`
	StitchedText string      `json:"stitched_text,omitempty"`
	ContentType  ContentType `json:"content_type"`

	// Word counts of overlap actually applied at each boundary. Zero at
	// document edges, positive everywhere else.
	OverlapPrev int `json:"overlap_prev"`
	OverlapNext int `json:"overlap_next"`

	Status       ChunkStatus `json:"status"`
	RetryCount   int         `json:"retry_count"`
	QualityScore *float64    `json:"quality_score,omitempty"`

	// Keywords found inside the injected overlap windows, carried so the
	// quality validator can check the model actually used that context.
	ContextKeywords []string `json:"context_keywords,omitempty"`

	// Oversized marks a chunk holding an atomic construct larger than its
	// content-type budget. A warning condition, not a failure.
	Oversized bool `json:"oversized,omitempty"`
}

// ProcessingResult summarizes one document processing run.
type ProcessingResult struct {
	DocumentID          string   `json:"document_id"`
	TotalChunks         int      `json:"total_chunks"`
	SuccessCount        int      `json:"success_count"`
	FailureCount        int      `json:"failure_count"`
	NeedsReviewChunkIDs []string `json:"needs_review_chunk_ids"`
}

// RankedChunk is a search hit. Neighbor marks chunks pulled in by sequence
// adjacency rather than by their own vector rank.
type RankedChunk struct {
	Chunk    DocumentChunk `json:"chunk"`
	Distance float64       `json:"distance"`
	Neighbor bool          `json:"neighbor,omitempty"`
}
