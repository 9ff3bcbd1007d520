package index

import (
	"context"
	"fmt"
)

// Point is one embedded item ready for indexing. Chunk text and rule
// payloads share the same index; both carry the owning chunk in Payload
// so hits can be collapsed per chunk at search time.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Payload is the metadata stored alongside each vector, enough to map a
// hit back to its chunk and document without a store lookup.
type Payload struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	Sequence   int    `json:"sequence"`
	RuleType   string `json:"rule_type,omitempty"`
}

// Hit is one similarity result. Distance is cosine distance, ascending
// means more similar.
type Hit struct {
	ID       string
	Distance float64
	Payload  Payload
}

// VectorIndex is the similarity index contract. Upsert replaces points
// that already exist under the same ID, so re-indexing a document is
// idempotent.
type VectorIndex interface {
	Upsert(ctx context.Context, points []Point) error
	// Search returns up to limit hits ordered by ascending distance.
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	// DeleteByDocument removes every point belonging to a document.
	DeleteByDocument(ctx context.Context, documentID string) error
	Close() error
}

// FromEnv builds the index selected by INDEX_DRIVER.
func FromEnv(ctx context.Context, driver, databaseURL, qdrantURL, qdrantAPIKey, qdrantCollection string, dimension int) (VectorIndex, error) {
	switch driver {
	case "memory":
		return NewMemoryIndex(), nil
	case "pgvector":
		return NewPgvectorIndex(ctx, databaseURL, dimension)
	case "qdrant":
		return NewQdrantIndex(ctx, qdrantURL, qdrantAPIKey, qdrantCollection, dimension)
	default:
		return nil, fmt.Errorf("unknown index driver %q", driver)
	}
}
