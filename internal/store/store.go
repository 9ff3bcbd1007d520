package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisdevteambal/regula/internal/model"
)

// ErrNotFound is returned when a document, chunk or rule does not exist.
var ErrNotFound = errors.New("not found")

// RuleStore persists documents, chunks, extracted rules and per-chunk
// processing stats. All chunk status changes go through TransitionStatus,
// a compare-and-set on the current status, so concurrent workers and
// overlapping runs never clobber each other's transitions.
type RuleStore interface {
	// SaveDocument upserts by document ID.
	SaveDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	// FindDocumentByHash returns ErrNotFound when no document with the
	// given content hash exists.
	FindDocumentByHash(ctx context.Context, hash string) (*model.Document, error)
	ListDocuments(ctx context.Context) ([]model.Document, error)
	// DeleteDocument removes the document and cascades to its chunks,
	// rules and stats.
	DeleteDocument(ctx context.Context, id string) error

	SaveChunks(ctx context.Context, chunks []model.DocumentChunk) error
	GetChunk(ctx context.Context, id string) (*model.DocumentChunk, error)
	GetChunkBySequence(ctx context.Context, documentID string, sequence int) (*model.DocumentChunk, error)
	// ListChunks returns a document's chunks in sequence order.
	ListChunks(ctx context.Context, documentID string) ([]model.DocumentChunk, error)
	// ListNeedsReview returns all chunks awaiting manual review, across
	// documents, ordered by document then sequence.
	ListNeedsReview(ctx context.Context) ([]model.DocumentChunk, error)

	// TransitionStatus moves a chunk from one status to another only if it
	// currently holds the expected status. It reports whether the
	// transition was applied.
	TransitionStatus(ctx context.Context, chunkID string, from, to model.ChunkStatus) (bool, error)
	SetRetryCount(ctx context.Context, chunkID string, retries int) error
	SetQuality(ctx context.Context, chunkID string, score float64) error

	SaveRules(ctx context.Context, rules []model.ExtractedRule) error
	ListRulesByChunk(ctx context.Context, chunkID string) ([]model.ExtractedRule, error)
	ListRulesByDocument(ctx context.Context, documentID string) ([]model.ExtractedRule, error)
	SetRuleEmbedding(ctx context.Context, ruleID, embeddingID string) error

	// SaveStats upserts by chunk ID; the quality pass rewrites the row
	// with factors filled in.
	SaveStats(ctx context.Context, stats *model.ChunkProcessingStats) error
	// ListStats returns stats for one document, or for all documents when
	// documentID is empty.
	ListStats(ctx context.Context, documentID string) ([]model.ChunkProcessingStats, error)

	Close() error
}

// FromEnv builds the store selected by STORE_DRIVER.
func FromEnv(ctx context.Context, driver, sqlitePath, databaseURL string) (RuleStore, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath)
	case "postgres":
		return NewPostgresStore(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
