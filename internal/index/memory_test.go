package index

import (
	"context"
	"testing"
)

func TestMemoryIndex_SearchRanksByDistance(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	points := []Point{
		{ID: "far", Vector: []float32{0, 1}, Payload: Payload{ChunkID: "c-far"}},
		{ID: "exact", Vector: []float32{1, 0}, Payload: Payload{ChunkID: "c-exact"}},
		{ID: "close", Vector: []float32{0.8, 0.6}, Payload: Payload{ChunkID: "c-close"}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "exact" || hits[1].ID != "close" {
		t.Errorf("expected order [exact close], got [%s %s]", hits[0].ID, hits[1].ID)
	}
	if hits[0].Distance > 1e-9 {
		t.Errorf("expected zero distance for identical vector, got %f", hits[0].Distance)
	}
	if hits[1].Distance <= hits[0].Distance {
		t.Errorf("expected ascending distances, got %f then %f", hits[0].Distance, hits[1].Distance)
	}
}

func TestMemoryIndex_UpsertReplacesExisting(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	if err := idx.Upsert(ctx, []Point{{ID: "p1", Vector: []float32{0, 1}, Payload: Payload{ChunkID: "c1"}}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.Upsert(ctx, []Point{{ID: "p1", Vector: []float32{1, 0}, Payload: Payload{ChunkID: "c1"}}}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit after replacing upsert, got %d", len(hits))
	}
	if hits[0].Distance > 1e-9 {
		t.Errorf("expected replaced vector to match query, got distance %f", hits[0].Distance)
	}
}

func TestMemoryIndex_DeleteByDocument(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	points := []Point{
		{ID: "a1", Vector: []float32{1, 0}, Payload: Payload{DocumentID: "doc-a", ChunkID: "ca1"}},
		{ID: "a2", Vector: []float32{0.9, 0.1}, Payload: Payload{DocumentID: "doc-a", ChunkID: "ca2"}},
		{ID: "b1", Vector: []float32{0, 1}, Payload: Payload{DocumentID: "doc-b", ChunkID: "cb1"}},
	}
	if err := idx.Upsert(ctx, points); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := idx.DeleteByDocument(ctx, "doc-a"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit after delete, got %d", len(hits))
	}
	if hits[0].ID != "b1" {
		t.Errorf("expected remaining hit b1, got %s", hits[0].ID)
	}
}

func TestCosineDistance_ZeroNormVector(t *testing.T) {
	if d := cosineDistance([]float32{0, 0}, []float32{1, 0}); d != 1 {
		t.Errorf("expected neutral distance 1 for zero vector, got %f", d)
	}
}
