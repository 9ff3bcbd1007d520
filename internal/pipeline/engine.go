package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oasisdevteambal/regula/internal/chunker"
	"github.com/oasisdevteambal/regula/internal/docstore"
	"github.com/oasisdevteambal/regula/internal/embed"
	"github.com/oasisdevteambal/regula/internal/extract"
	"github.com/oasisdevteambal/regula/internal/index"
	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/parser"
	"github.com/oasisdevteambal/regula/internal/quality"
	"github.com/oasisdevteambal/regula/internal/store"
	"github.com/oasisdevteambal/regula/internal/structure"
)

const defaultRunTTL = time.Hour

// Engine is the entry point for the whole ingestion pipeline: it owns the
// stores, the scheduler and the run registry, and exposes the operations
// the CLI calls.
type Engine struct {
	store     store.RuleStore
	docs      docstore.Storage
	embedder  embed.Service
	index     index.VectorIndex
	retriever *index.Retriever
	sched     *Scheduler
	runs      *Registry
	log       *slog.Logger
	chunkCfg  chunker.Config
}

// EngineConfig carries the tunables the engine hands down to its parts.
// Zero values fall back to defaults.
type EngineConfig struct {
	Chunker      chunker.Config
	Scheduler    SchedulerConfig
	Quality      quality.Config
	RunTTL       time.Duration
	MaxExpansion int
}

func NewEngine(st store.RuleStore, docs docstore.Storage, extractor extract.Service, embedder embed.Service, idx index.VectorIndex, log *slog.Logger, cfg EngineConfig) *Engine {
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = defaultRunTTL
	}
	if cfg.Quality.Threshold == 0 {
		cfg.Quality = quality.DefaultConfig()
	}
	validator := quality.NewValidator(cfg.Quality)
	return &Engine{
		store:     st,
		docs:      docs,
		embedder:  embedder,
		index:     idx,
		retriever: index.NewRetriever(st, idx, cfg.MaxExpansion),
		sched:     NewScheduler(st, extractor, embedder, idx, validator, log, cfg.Scheduler),
		runs:      NewRegistry(cfg.RunTTL),
		log:       log,
		chunkCfg:  cfg.Chunker,
	}
}

// Ingest registers a source document: the raw bytes go to document
// storage and a registry row is written. It reports whether the document
// was already known; duplicate content is detected by hash and never
// stored twice.
func (e *Engine) Ingest(ctx context.Context, filename string, data []byte) (*model.Document, bool, error) {
	if !parser.IsSupportedExtension(filename) {
		return nil, false, fmt.Errorf("%w: %s", parser.ErrUnsupportedFormat, filename)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("%s is empty", filename)
	}

	hash := model.ContentHash(data)
	existing, err := e.store.FindDocumentByHash(ctx, hash)
	if err == nil {
		e.log.Info("duplicate document, skipping ingest", "document_id", existing.ID, "content_hash", hash)
		return existing, true, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("dedup lookup: %w", err)
	}

	doc := &model.Document{
		ID:          uuid.NewString(),
		Filename:    filename,
		ContentHash: hash,
		Size:        int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	path, err := e.docs.Upload(ctx, doc.ID, filename, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("store source file: %w", err)
	}
	doc.StoragePath = path
	if err := e.store.SaveDocument(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("save document: %w", err)
	}
	e.log.Info("document ingested", "document_id", doc.ID, "filename", filename, "size", doc.Size)
	return doc, false, nil
}

// ProcessDocument runs the pipeline for an ingested document: parse,
// chunk, extract, validate, index. Reprocessing is safe; an existing
// chunk set is reused and chunks already in a terminal status are left
// untouched.
func (e *Engine) ProcessDocument(ctx context.Context, documentID string) (*model.ProcessingResult, error) {
	e.runs.Cleanup()

	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}

	run, err := e.runs.Begin(doc.ID, doc.Filename)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	run.SetCancel(cancel)

	log := e.log.With("run_id", run.ID, "document_id", doc.ID)

	result, err := e.process(runCtx, doc, run, log)
	if err != nil {
		if runCtx.Err() != nil {
			run.SetPhase(PhaseCancelled)
			log.Warn("run cancelled", "error", err)
		} else {
			run.AddError(err.Error())
			run.SetPhase(PhaseFailed)
			log.Error("run failed", "error", err)
		}
		return result, err
	}

	run.SetPhase(PhaseCompleted)
	log.Info("run completed",
		"chunks", result.TotalChunks,
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
		"needs_review", len(result.NeedsReviewChunkIDs))
	return result, nil
}

func (e *Engine) process(ctx context.Context, doc *model.Document, run *Run, log *slog.Logger) (*model.ProcessingResult, error) {
	run.SetPhase(PhaseParsing)
	p, err := parser.ForFile(doc.Filename)
	if err != nil {
		return nil, err
	}
	src, err := e.docs.Download(ctx, doc.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	parsed, err := p.Parse(src, doc.Filename)
	src.Close()
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if parsed.Title != "" && parsed.Title != doc.Title {
		doc.Title = parsed.Title
		if err := e.store.SaveDocument(ctx, doc); err != nil {
			log.Warn("title update failed", "error", err)
		}
	}

	run.SetPhase(PhaseChunking)
	chunks, err := e.store.ListChunks(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) == 0 {
		sections := structure.Analyze(parsed.Text, parsed.Hints)
		chunks = chunker.Plan(doc.ID, sections, e.chunkCfg)
		chunker.Stitch(chunks, e.chunkCfg)
		if len(chunks) == 0 {
			return nil, fmt.Errorf("no extractable content in %s", doc.Filename)
		}
		if err := e.store.SaveChunks(ctx, chunks); err != nil {
			return nil, fmt.Errorf("save chunks: %w", err)
		}
		log.Info("chunked document", "chunks", len(chunks))
	} else {
		log.Info("reusing existing chunk set", "chunks", len(chunks))
	}
	run.SetTotalChunks(len(chunks))

	run.SetPhase(PhaseExtracting)
	return e.sched.ProcessChunks(ctx, doc, chunks, run)
}

// Documents lists all ingested documents.
func (e *Engine) Documents(ctx context.Context) ([]model.Document, error) {
	return e.store.ListDocuments(ctx)
}

// GetChunks returns a document's chunks in sequence order.
func (e *Engine) GetChunks(ctx context.Context, documentID string) ([]model.DocumentChunk, error) {
	return e.store.ListChunks(ctx, documentID)
}

// Rules returns the extracted rules for one chunk.
func (e *Engine) Rules(ctx context.Context, chunkID string) ([]model.ExtractedRule, error) {
	return e.store.ListRulesByChunk(ctx, chunkID)
}

// DocumentRules returns every rule extracted from a document, ordered by
// source chunk sequence.
func (e *Engine) DocumentRules(ctx context.Context, documentID string) ([]model.ExtractedRule, error) {
	return e.store.ListRulesByDocument(ctx, documentID)
}

// ReviewQueue returns every chunk waiting on manual review, across
// documents.
func (e *Engine) ReviewQueue(ctx context.Context) ([]model.DocumentChunk, error) {
	return e.store.ListNeedsReview(ctx)
}

// Search embeds the query and returns matching chunks, expanded with
// their sequence neighbors for continuity.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]model.RankedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.retriever.Search(ctx, vector, limit)
}

// DeleteDocument removes a document everywhere. A live run is cancelled
// first, then vectors, the stored source file and finally the database
// rows go. The row delete comes last so a partial failure stays visible
// and the delete can be retried.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := e.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}
	if e.runs.Cancel(documentID) {
		e.log.Info("cancelled in-flight run", "document_id", documentID)
	}
	if err := e.index.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if doc.StoragePath != "" {
		if err := e.docs.Delete(ctx, doc.StoragePath); err != nil {
			e.log.Warn("source file delete failed", "storage_path", doc.StoragePath, "error", err)
		}
	}
	if err := e.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	e.log.Info("document deleted", "document_id", documentID)
	return nil
}

// Stats summarizes processing cost and quality for one document, or for
// everything when documentID is empty.
func (e *Engine) Stats(ctx context.Context, documentID string) (extract.RunSummary, error) {
	stats, err := e.store.ListStats(ctx, documentID)
	if err != nil {
		return extract.RunSummary{}, err
	}
	return extract.SummarizeRuns(stats), nil
}

// RunStatus returns the latest run snapshot for a document.
func (e *Engine) RunStatus(documentID string) (RunSnapshot, bool) {
	run := e.runs.ForDocument(documentID)
	if run == nil {
		return RunSnapshot{}, false
	}
	return run.Snapshot(), true
}

// Close releases the engine's backends.
func (e *Engine) Close() error {
	return errors.Join(
		e.embedder.Close(),
		e.index.Close(),
		e.store.Close(),
	)
}
