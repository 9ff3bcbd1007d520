package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oasisdevteambal/regula/internal/chunker"
	"github.com/oasisdevteambal/regula/internal/docstore"
	"github.com/oasisdevteambal/regula/internal/extract"
	"github.com/oasisdevteambal/regula/internal/index"
	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/parser"
	"github.com/oasisdevteambal/regula/internal/store"
)

func newTestEngine(t *testing.T, ext extract.Service) (*Engine, *index.MemoryIndex) {
	t.Helper()
	docs, err := docstore.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	idx := index.NewMemoryIndex()
	eng := NewEngine(store.NewMemoryStore(), docs, ext, &stubEmbedder{}, idx, discardLogger(), EngineConfig{
		Chunker:   chunker.DefaultConfig(),
		Scheduler: SchedulerConfig{Retry: fastRetry(), BatchWidth: 3, ExtractTimeout: time.Second},
	})
	return eng, idx
}

func okExtractor() extract.Service {
	return extractorFunc(func(_ context.Context, _ string) (*extract.Result, error) {
		return &extract.Result{Candidates: []extract.RuleCandidate{bracketCandidate()}, TokensUsed: 40}, nil
	})
}

func TestEngine_IngestDedupsByContent(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, okExtractor())
	data := []byte(neutralText)

	doc, existed, err := eng.Ingest(ctx, "provisions.txt", data)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if existed {
		t.Fatal("expected first ingest to be new")
	}
	if doc.ContentHash == "" || doc.StoragePath == "" {
		t.Errorf("expected hash and storage path set, got %+v", doc)
	}

	// Same bytes under another name dedup to the same document.
	again, existed, err := eng.Ingest(ctx, "copy-of-provisions.txt", data)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !existed {
		t.Error("expected second ingest to report an existing document")
	}
	if again.ID != doc.ID {
		t.Errorf("expected same document id, got %q and %q", doc.ID, again.ID)
	}

	list, err := eng.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 document, got %d", len(list))
	}
}

func TestEngine_IngestRejectsUnsupportedFormat(t *testing.T) {
	eng, _ := newTestEngine(t, okExtractor())
	_, _, err := eng.Ingest(context.Background(), "notes.xyz", []byte("data"))
	if !errors.Is(err, parser.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestEngine_IngestRejectsEmptyFile(t *testing.T) {
	eng, _ := newTestEngine(t, okExtractor())
	if _, _, err := eng.Ingest(context.Background(), "empty.txt", nil); err == nil {
		t.Fatal("expected error for empty file")
	}
}

func TestEngine_ProcessDocumentEndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t, okExtractor())

	doc, _, err := eng.Ingest(ctx, "provisions.txt", []byte(neutralText))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	result, err := eng.ProcessDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	if result.TotalChunks == 0 {
		t.Fatal("expected at least one chunk")
	}
	if result.SuccessCount != result.TotalChunks {
		t.Errorf("expected all %d chunks to succeed, got %d", result.TotalChunks, result.SuccessCount)
	}

	snap, ok := eng.RunStatus(doc.ID)
	if !ok {
		t.Fatal("expected a run snapshot")
	}
	if snap.Phase != PhaseCompleted {
		t.Errorf("expected phase %q, got %q", PhaseCompleted, snap.Phase)
	}
	if snap.Progress.ChunksProcessed != result.TotalChunks {
		t.Errorf("expected %d chunks processed, got %d", result.TotalChunks, snap.Progress.ChunksProcessed)
	}

	chunks, err := eng.GetChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(chunks) != result.TotalChunks {
		t.Fatalf("expected %d chunks, got %d", result.TotalChunks, len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.Status != model.StatusCompleted {
			t.Errorf("expected chunk %d completed, got %q", chunk.Sequence, chunk.Status)
		}
	}

	rules, err := eng.Rules(ctx, chunks[0].ID)
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	// Parsed title lands on the document.
	stored, err := eng.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if stored.Title == "" {
		t.Error("expected a parsed title on the document")
	}

	hits, err := eng.Search(ctx, "bracket rates for low income", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected search hits")
	}
	if hits[0].Chunk.DocumentID != doc.ID {
		t.Errorf("expected hit from document %q, got %q", doc.ID, hits[0].Chunk.DocumentID)
	}
}

func TestEngine_ProcessDocumentIdempotent(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	ext := extractorFunc(func(_ context.Context, _ string) (*extract.Result, error) {
		calls.Add(1)
		return &extract.Result{Candidates: []extract.RuleCandidate{bracketCandidate()}}, nil
	})
	eng, _ := newTestEngine(t, ext)

	doc, _, err := eng.Ingest(ctx, "provisions.txt", []byte(neutralText))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	first, err := eng.ProcessDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	afterFirst := calls.Load()

	second, err := eng.ProcessDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second ProcessDocument() error = %v", err)
	}
	if got := calls.Load(); got != afterFirst {
		t.Errorf("expected no new extraction calls on reprocess, got %d more", got-afterFirst)
	}
	if second.SuccessCount != first.SuccessCount || second.TotalChunks != first.TotalChunks {
		t.Errorf("expected identical results, got %+v then %+v", first, second)
	}

	chunks, err := eng.GetChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	rules, err := eng.Rules(ctx, chunks[0].ID)
	if err != nil {
		t.Fatalf("Rules() error = %v", err)
	}
	if len(rules) != 1 {
		t.Errorf("expected rules not duplicated on reprocess, got %d", len(rules))
	}
}

func TestEngine_ProcessUnknownDocument(t *testing.T) {
	eng, _ := newTestEngine(t, okExtractor())
	_, err := eng.ProcessDocument(context.Background(), "nonexistent")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEngine_DeleteDocumentRemovesEverything(t *testing.T) {
	ctx := context.Background()
	eng, idx := newTestEngine(t, okExtractor())

	doc, _, err := eng.Ingest(ctx, "provisions.txt", []byte(neutralText))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := eng.ProcessDocument(ctx, doc.ID); err != nil {
		t.Fatalf("ProcessDocument() error = %v", err)
	}
	stored, err := eng.store.GetDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}

	if err := eng.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}

	if _, err := eng.store.GetDocument(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected document gone, got %v", err)
	}
	chunks, err := eng.GetChunks(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetChunks() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks left, got %d", len(chunks))
	}
	hits, err := idx.Search(ctx, []float32{10, 1, 0}, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected empty index, got %d points", len(hits))
	}
	if src, err := eng.docs.Download(ctx, stored.StoragePath); err == nil {
		src.Close()
		t.Error("expected source file to be deleted")
	}
}

func TestEngine_SearchRejectsEmptyQuery(t *testing.T) {
	eng, _ := newTestEngine(t, okExtractor())
	if _, err := eng.Search(context.Background(), "   ", 5); err == nil {
		t.Fatal("expected error for blank query")
	}
}
