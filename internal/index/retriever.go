package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/store"
)

const (
	defaultSearchLimit  = 5
	defaultMaxExpansion = 10

	// Rule and chunk vectors share the index, so several hits can
	// collapse into a single chunk. Over-fetch to still fill the limit.
	overfetchFactor = 4
)

// Retriever answers similarity queries with chunk-level results, pulling
// in each hit's sequence neighbors so context that straddles a chunk
// boundary is not lost.
type Retriever struct {
	store        store.RuleStore
	index        VectorIndex
	maxExpansion int
}

func NewRetriever(st store.RuleStore, idx VectorIndex, maxExpansion int) *Retriever {
	if maxExpansion <= 0 {
		maxExpansion = defaultMaxExpansion
	}
	return &Retriever{store: st, index: idx, maxExpansion: maxExpansion}
}

// Search returns up to limit chunks ordered by ascending distance, each
// followed by any direct sequence neighbor not already in the results.
// Neighbors carry their anchor's distance and Neighbor set.
func (r *Retriever) Search(ctx context.Context, vector []float32, limit int) ([]model.RankedChunk, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	hits, err := r.index.Search(ctx, vector, limit*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	// Collapse hits by chunk. Hits arrive in ascending distance order,
	// so the first mention of a chunk is its best one.
	seen := make(map[string]bool)
	ranked := make([]model.RankedChunk, 0, limit)
	for _, h := range hits {
		if len(ranked) == limit {
			break
		}
		if h.Payload.ChunkID == "" || seen[h.Payload.ChunkID] {
			continue
		}
		seen[h.Payload.ChunkID] = true
		chunk, err := r.store.GetChunk(ctx, h.Payload.ChunkID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Stale index entry, skip it.
				continue
			}
			return nil, fmt.Errorf("load chunk %s: %w", h.Payload.ChunkID, err)
		}
		ranked = append(ranked, model.RankedChunk{Chunk: *chunk, Distance: h.Distance})
	}

	// budget caps the total number of neighbors added per search.
	out := make([]model.RankedChunk, 0, len(ranked))
	budget := r.maxExpansion
	for _, rc := range ranked {
		out = append(out, rc)
		for _, seq := range []int{rc.Chunk.Sequence - 1, rc.Chunk.Sequence + 1} {
			if budget <= 0 || seq < 0 {
				continue
			}
			neighbor, err := r.store.GetChunkBySequence(ctx, rc.Chunk.DocumentID, seq)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				return nil, fmt.Errorf("load neighbor of chunk %s: %w", rc.Chunk.ID, err)
			}
			if seen[neighbor.ID] {
				continue
			}
			seen[neighbor.ID] = true
			out = append(out, model.RankedChunk{Chunk: *neighbor, Distance: rc.Distance, Neighbor: true})
			budget--
		}
	}
	return out, nil
}
