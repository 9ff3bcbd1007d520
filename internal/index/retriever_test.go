package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/store"
)

func seedChunks(t *testing.T, st store.RuleStore, documentID string, n int) []model.DocumentChunk {
	t.Helper()
	doc := &model.Document{ID: documentID, Filename: documentID + ".txt", ContentHash: "hash-" + documentID}
	if err := st.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("SaveDocument() error = %v", err)
	}
	chunks := make([]model.DocumentChunk, n)
	for i := range chunks {
		chunks[i] = model.DocumentChunk{
			ID:          fmt.Sprintf("%s-c%d", documentID, i),
			DocumentID:  documentID,
			Sequence:    i,
			Text:        fmt.Sprintf("chunk %d", i),
			ContentType: model.ContentBody,
			Status:      model.StatusCompleted,
		}
	}
	if err := st.SaveChunks(context.Background(), chunks); err != nil {
		t.Fatalf("SaveChunks() error = %v", err)
	}
	return chunks
}

func TestRetriever_ExpandsSequenceNeighbors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	idx := NewMemoryIndex()
	chunks := seedChunks(t, st, "doc-1", 4)

	// Index only the middle chunk so the search ranks exactly one hit.
	err := idx.Upsert(ctx, []Point{{
		ID:      chunks[1].ID,
		Vector:  []float32{1, 0},
		Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[1].ID, Sequence: 1},
	}})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := NewRetriever(st, idx, 0)
	results, err := r.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected hit plus 2 neighbors, got %d results", len(results))
	}
	if results[0].Chunk.ID != chunks[1].ID || results[0].Neighbor {
		t.Errorf("expected ranked hit %s first, got %s (neighbor=%v)", chunks[1].ID, results[0].Chunk.ID, results[0].Neighbor)
	}
	gotNeighbors := map[int]bool{}
	for _, rc := range results[1:] {
		if !rc.Neighbor {
			t.Errorf("expected chunk %s flagged as neighbor", rc.Chunk.ID)
		}
		if rc.Distance != results[0].Distance {
			t.Errorf("expected neighbor to carry anchor distance %f, got %f", results[0].Distance, rc.Distance)
		}
		gotNeighbors[rc.Chunk.Sequence] = true
	}
	if !gotNeighbors[0] || !gotNeighbors[2] {
		t.Errorf("expected neighbors at sequences 0 and 2, got %v", gotNeighbors)
	}
}

func TestRetriever_CollapsesRuleHitsIntoChunk(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	idx := NewMemoryIndex()
	chunks := seedChunks(t, st, "doc-1", 1)

	// One chunk vector plus two rule vectors, all for the same chunk.
	points := []Point{
		{ID: chunks[0].ID, Vector: []float32{1, 0}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[0].ID}},
		{ID: "rule-1", Vector: []float32{0.9, 0.1}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[0].ID, RuleType: "tax_bracket"}},
		{ID: "rule-2", Vector: []float32{0.8, 0.2}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[0].ID, RuleType: "deduction"}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := NewRetriever(st, idx, 0)
	results, err := r.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected rule hits collapsed into 1 chunk, got %d results", len(results))
	}
	if results[0].Chunk.ID != chunks[0].ID {
		t.Errorf("expected chunk %s, got %s", chunks[0].ID, results[0].Chunk.ID)
	}
	if results[0].Distance > 1e-9 {
		t.Errorf("expected best distance kept, got %f", results[0].Distance)
	}
}

func TestRetriever_RankedChunksNotRepeatedAsNeighbors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	idx := NewMemoryIndex()
	chunks := seedChunks(t, st, "doc-1", 3)

	points := []Point{
		{ID: chunks[0].ID, Vector: []float32{1, 0}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[0].ID, Sequence: 0}},
		{ID: chunks[1].ID, Vector: []float32{0.9, 0.1}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[1].ID, Sequence: 1}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := NewRetriever(st, idx, 0)
	results, err := r.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// Both ranked chunks are adjacent; the only expansion left is chunk 2.
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	counts := map[string]int{}
	for _, rc := range results {
		counts[rc.Chunk.ID]++
	}
	for id, n := range counts {
		if n != 1 {
			t.Errorf("chunk %s appears %d times, expected once", id, n)
		}
	}
	last := results[len(results)-1]
	if last.Chunk.ID != chunks[2].ID || !last.Neighbor {
		t.Errorf("expected trailing neighbor %s, got %s (neighbor=%v)", chunks[2].ID, last.Chunk.ID, last.Neighbor)
	}
}

func TestRetriever_ExpansionBudget(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	idx := NewMemoryIndex()
	chunks := seedChunks(t, st, "doc-1", 6)

	points := []Point{
		{ID: chunks[1].ID, Vector: []float32{1, 0}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[1].ID, Sequence: 1}},
		{ID: chunks[4].ID, Vector: []float32{0.9, 0.1}, Payload: Payload{DocumentID: "doc-1", ChunkID: chunks[4].ID, Sequence: 4}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	r := NewRetriever(st, idx, 1)
	results, err := r.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	neighbors := 0
	for _, rc := range results {
		if rc.Neighbor {
			neighbors++
		}
	}
	if neighbors != 1 {
		t.Errorf("expected expansion capped at 1 neighbor, got %d", neighbors)
	}
	if len(results) != 3 {
		t.Errorf("expected 2 hits plus 1 neighbor, got %d results", len(results))
	}
}
