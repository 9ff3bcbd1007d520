package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oasisdevteambal/regula/internal/embed"
	"github.com/oasisdevteambal/regula/internal/extract"
	"github.com/oasisdevteambal/regula/internal/index"
	"github.com/oasisdevteambal/regula/internal/model"
	"github.com/oasisdevteambal/regula/internal/quality"
	"github.com/oasisdevteambal/regula/internal/store"
)

const (
	defaultBatchWidth     = 3
	defaultExtractTimeout = 60 * time.Second
)

// Scheduler drives rule extraction over a document's chunks in fixed
// batches. Chunks inside a batch run concurrently; batches run strictly
// one after another, so at most BatchWidth extraction calls are in flight
// at any moment.
type Scheduler struct {
	store     store.RuleStore
	extractor extract.Service
	embedder  embed.Service
	index     index.VectorIndex
	validator *quality.Validator
	log       *slog.Logger

	retry          RetryPolicy
	batchWidth     int
	batchPause     time.Duration
	extractTimeout time.Duration
}

// SchedulerConfig tunes batching and retry behavior. Zero values fall
// back to defaults.
type SchedulerConfig struct {
	Retry          RetryPolicy
	BatchWidth     int
	BatchPause     time.Duration
	ExtractTimeout time.Duration
}

func NewScheduler(st store.RuleStore, extractor extract.Service, embedder embed.Service, idx index.VectorIndex, validator *quality.Validator, log *slog.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.BatchWidth <= 0 {
		cfg.BatchWidth = defaultBatchWidth
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Scheduler{
		store:          st,
		extractor:      extractor,
		embedder:       embedder,
		index:          idx,
		validator:      validator,
		log:            log,
		retry:          cfg.Retry,
		batchWidth:     cfg.BatchWidth,
		batchPause:     cfg.BatchPause,
		extractTimeout: cfg.ExtractTimeout,
	}
}

// ProcessChunks runs extraction for every non-terminal chunk of a document
// and returns the resulting dispositions. Chunks already in a terminal
// status are counted but never re-extracted, so reprocessing a document is
// idempotent.
func (s *Scheduler) ProcessChunks(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk, run *Run) (*model.ProcessingResult, error) {
	log := s.log.With("document_id", doc.ID)

	result := &model.ProcessingResult{
		DocumentID:  doc.ID,
		TotalChunks: len(chunks),
	}

	// Scan pass: settle leftover state from interrupted runs and count
	// chunks that are already done.
	var todo []model.DocumentChunk
	for _, chunk := range chunks {
		switch chunk.Status {
		case model.StatusPending:
			todo = append(todo, chunk)
		case model.StatusProcessing:
			// A stale claim from a run that died mid-chunk.
			applied, err := s.store.TransitionStatus(ctx, chunk.ID, model.StatusProcessing, model.StatusPending)
			if err != nil {
				return nil, fmt.Errorf("release stale chunk %s: %w", chunk.ID, err)
			}
			if applied {
				chunk.Status = model.StatusPending
				todo = append(todo, chunk)
			}
		case model.StatusFailed:
			applied, err := s.store.TransitionStatus(ctx, chunk.ID, model.StatusFailed, model.StatusNeedsReview)
			if err != nil {
				return nil, fmt.Errorf("park failed chunk %s: %w", chunk.ID, err)
			}
			if applied {
				result.FailureCount++
				result.NeedsReviewChunkIDs = append(result.NeedsReviewChunkIDs, chunk.ID)
			}
		case model.StatusCompleted:
			result.SuccessCount++
		case model.StatusNeedsReview:
			result.NeedsReviewChunkIDs = append(result.NeedsReviewChunkIDs, chunk.ID)
		}
	}

	type chunkResult struct {
		chunkID       string
		status        model.ChunkStatus
		extractFailed bool
		settled       bool
	}

	for start := 0; start < len(todo); start += s.batchWidth {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		end := min(start+s.batchWidth, len(todo))
		batch := todo[start:end]

		results := make(chan chunkResult, len(batch))
		for _, chunk := range batch {
			go func(chunk model.DocumentChunk) {
				status, extractFailed, settled := s.processChunk(ctx, doc, chunk, run)
				results <- chunkResult{chunkID: chunk.ID, status: status, extractFailed: extractFailed, settled: settled}
			}(chunk)
		}

		for range batch {
			r := <-results
			if !r.settled {
				continue
			}
			run.IncrChunksProcessed()
			switch r.status {
			case model.StatusCompleted:
				result.SuccessCount++
			case model.StatusNeedsReview:
				result.NeedsReviewChunkIDs = append(result.NeedsReviewChunkIDs, r.chunkID)
				if r.extractFailed {
					result.FailureCount++
				}
			}
		}

		if s.batchPause > 0 && end < len(todo) {
			select {
			case <-time.After(s.batchPause):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	log.Info("chunk processing done",
		"total", result.TotalChunks,
		"succeeded", result.SuccessCount,
		"failed", result.FailureCount,
		"needs_review", len(result.NeedsReviewChunkIDs))
	return result, nil
}

// processChunk takes one chunk from claim through a terminal status. It
// reports the final status, whether extraction itself failed, and whether
// the chunk reached a terminal state in this call. A lost claim or a
// cancellation mid-retry leaves the chunk unsettled for a later run.
func (s *Scheduler) processChunk(ctx context.Context, doc *model.Document, chunk model.DocumentChunk, run *Run) (model.ChunkStatus, bool, bool) {
	log := s.log.With("document_id", doc.ID, "chunk_id", chunk.ID, "sequence", chunk.Sequence)

	claimed, err := s.store.TransitionStatus(ctx, chunk.ID, model.StatusPending, model.StatusProcessing)
	if err != nil {
		log.Error("claim failed", "error", err)
		run.AddError(fmt.Sprintf("chunk %d: claim: %s", chunk.Sequence, err))
		return chunk.Status, false, false
	}
	if !claimed {
		return chunk.Status, false, false
	}

	startedAt := time.Now()
	prompt := extract.BuildRulePrompt(doc.Title, chunk)

	var res *extract.Result
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		attempts = attempt + 1
		res, lastErr = s.extractOnce(ctx, prompt)
		if lastErr == nil || !IsRetryable(lastErr) {
			break
		}
		if attempt == s.retry.MaxRetries {
			break
		}
		retries := attempt + 1
		if err := s.store.SetRetryCount(ctx, chunk.ID, retries); err != nil {
			log.Warn("retry count update failed", "error", err)
		}
		delay := s.retry.Backoff(retries)
		log.Warn("retryable extraction error", "attempt", attempts, "delay", delay, "error", lastErr)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Hand the claim back so a later run can pick the chunk up.
			if _, relErr := s.store.TransitionStatus(context.WithoutCancel(ctx), chunk.ID, model.StatusProcessing, model.StatusPending); relErr != nil {
				log.Error("release on cancel failed", "error", relErr)
			}
			return model.StatusPending, false, false
		}
	}

	// The attempt that just finished must land even when the run is
	// already cancelled.
	persistCtx := context.WithoutCancel(ctx)

	if lastErr != nil {
		log.Error("extraction failed", "attempts", attempts, "error", lastErr)
		run.AddError(fmt.Sprintf("chunk %d: %s", chunk.Sequence, lastErr))
		s.finishFailed(persistCtx, chunk.ID, startedAt, attempts, log)
		return model.StatusNeedsReview, true, true
	}

	rules := s.acceptCandidates(persistCtx, doc.ID, &chunk, res.Candidates, log)
	if err := s.store.SaveRules(persistCtx, rules); err != nil {
		log.Error("rule save failed", "error", err)
		run.AddError(fmt.Sprintf("chunk %d: save rules: %s", chunk.Sequence, err))
		s.finishFailed(persistCtx, chunk.ID, startedAt, attempts, log)
		return model.StatusNeedsReview, true, true
	}

	if _, err := s.store.TransitionStatus(persistCtx, chunk.ID, model.StatusProcessing, model.StatusCompleted); err != nil {
		log.Error("completion transition failed", "error", err)
		return model.StatusProcessing, false, false
	}

	stats := &model.ChunkProcessingStats{
		ChunkID:        chunk.ID,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		Attempts:       attempts,
		RulesExtracted: len(rules),
		TokensUsed:     res.TokensUsed,
	}
	if err := s.store.SaveStats(persistCtx, stats); err != nil {
		log.Warn("stats write failed", "error", err)
	}
	run.AddRules(len(rules), 0)

	status := s.applyQuality(persistCtx, &chunk, rules, stats, log)

	if status == model.StatusCompleted {
		indexed := s.indexChunk(persistCtx, doc.ID, chunk, rules, log)
		run.AddRules(0, indexed)
	}

	return status, false, true
}

// extractOnce makes a single extraction attempt under its own timeout,
// detached from the run's cancellation. A cancelled run still lets the
// in-flight attempt finish so its result is not thrown away.
func (s *Scheduler) extractOnce(ctx context.Context, prompt string) (*extract.Result, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.extractTimeout)
	defer cancel()
	return s.extractor.ExtractRules(attemptCtx, prompt)
}

// finishFailed moves a chunk through failed into needs_review and records
// the attempt cost. Failed is a transition, not a resting state: every
// terminally failed chunk lands in the review queue.
func (s *Scheduler) finishFailed(ctx context.Context, chunkID string, startedAt time.Time, attempts int, log *slog.Logger) {
	if _, err := s.store.TransitionStatus(ctx, chunkID, model.StatusProcessing, model.StatusFailed); err != nil {
		log.Error("failure transition failed", "error", err)
		return
	}
	if err := s.store.SaveStats(ctx, &model.ChunkProcessingStats{
		ChunkID:    chunkID,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		Attempts:   attempts,
	}); err != nil {
		log.Warn("stats write failed", "error", err)
	}
	if _, err := s.store.TransitionStatus(ctx, chunkID, model.StatusFailed, model.StatusNeedsReview); err != nil {
		log.Error("review transition failed", "error", err)
	}
}

// acceptCandidates filters raw candidates through validation and turns
// the survivors into persistable rules. Continuation flags resolve to
// concrete chunk IDs here, while the neighbor chunks are known.
func (s *Scheduler) acceptCandidates(ctx context.Context, documentID string, chunk *model.DocumentChunk, candidates []extract.RuleCandidate, log *slog.Logger) []model.ExtractedRule {
	var prevID, nextID string
	for i := range candidates {
		if candidates[i].ContinuesPrevious || candidates[i].ContinuesNext {
			prevID, nextID = s.neighborIDs(ctx, documentID, chunk.Sequence)
			break
		}
	}

	rules := make([]model.ExtractedRule, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if !extract.ValidateCandidate(c) {
			log.Warn("dropping invalid rule candidate", "rule_type", c.RuleType)
			continue
		}
		rule := model.ExtractedRule{
			ID:             uuid.NewString(),
			RuleType:       c.RuleType,
			Payload:        c.Payload,
			SourceChunkID:  chunk.ID,
			SourceSequence: chunk.Sequence,
			Confidence:     c.Confidence,
		}
		if c.ContinuesPrevious && prevID != "" {
			rule.CrossChunkRefs = append(rule.CrossChunkRefs, prevID)
		}
		if c.ContinuesNext && nextID != "" {
			rule.CrossChunkRefs = append(rule.CrossChunkRefs, nextID)
		}
		rules = append(rules, rule)
	}
	return rules
}

func (s *Scheduler) neighborIDs(ctx context.Context, documentID string, sequence int) (string, string) {
	var prevID, nextID string
	if sequence > 0 {
		if prev, err := s.store.GetChunkBySequence(ctx, documentID, sequence-1); err == nil {
			prevID = prev.ID
		}
	}
	if next, err := s.store.GetChunkBySequence(ctx, documentID, sequence+1); err == nil {
		nextID = next.ID
	}
	return prevID, nextID
}

// applyQuality scores a freshly extracted chunk and demotes it to
// needs_review when the score misses the threshold. Stats are rewritten
// with the factor breakdown either way.
func (s *Scheduler) applyQuality(ctx context.Context, chunk *model.DocumentChunk, rules []model.ExtractedRule, stats *model.ChunkProcessingStats, log *slog.Logger) model.ChunkStatus {
	prev := s.neighborState(ctx, chunk.DocumentID, chunk.Sequence-1)
	next := s.neighborState(ctx, chunk.DocumentID, chunk.Sequence+1)

	assessment := s.validator.Evaluate(chunk, rules, prev, next)

	if err := s.store.SetQuality(ctx, chunk.ID, assessment.Score); err != nil {
		log.Warn("quality score write failed", "error", err)
	}
	stats.QualityFactors = assessment.Factors
	if err := s.store.SaveStats(ctx, stats); err != nil {
		log.Warn("stats write failed", "error", err)
	}

	if assessment.Passed {
		log.Info("chunk completed", "quality", assessment.Score, "rules", len(rules))
		return model.StatusCompleted
	}

	log.Warn("quality below threshold, parking for review", "quality", assessment.Score)
	if _, err := s.store.TransitionStatus(ctx, chunk.ID, model.StatusCompleted, model.StatusNeedsReview); err != nil {
		log.Error("review transition failed", "error", err)
		return model.StatusCompleted
	}
	return model.StatusNeedsReview
}

// neighborState loads what the quality validator needs to know about a
// sequence neighbor. Ready means the neighbor reached a terminal status,
// so its rule set will not change under the comparison.
func (s *Scheduler) neighborState(ctx context.Context, documentID string, sequence int) quality.Neighbor {
	if sequence < 0 {
		return quality.Neighbor{}
	}
	neighbor, err := s.store.GetChunkBySequence(ctx, documentID, sequence)
	if errors.Is(err, store.ErrNotFound) {
		return quality.Neighbor{}
	}
	if err != nil {
		s.log.Warn("neighbor lookup failed", "document_id", documentID, "sequence", sequence, "error", err)
		return quality.Neighbor{}
	}
	n := quality.Neighbor{Exists: true, Ready: neighbor.Status.Terminal()}
	if !n.Ready {
		return n
	}
	rules, err := s.store.ListRulesByChunk(ctx, neighbor.ID)
	if err != nil {
		s.log.Warn("neighbor rules lookup failed", "chunk_id", neighbor.ID, "error", err)
		n.Ready = false
		return n
	}
	n.Rules = rules
	return n
}

// indexChunk embeds the chunk's own text plus each rule payload and
// writes them to the vector index. The chunk text is embedded as
// authored, without the stitched overlap, so the vector describes exactly
// the span a search result returns. Failures leave the chunk completed
// but unindexed.
func (s *Scheduler) indexChunk(ctx context.Context, documentID string, chunk model.DocumentChunk, rules []model.ExtractedRule, log *slog.Logger) int {
	texts := make([]string, 0, len(rules)+1)
	texts = append(texts, chunk.Text)
	for i := range rules {
		texts = append(texts, string(rules[i].Payload))
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		log.Warn("embedding failed, chunk left unindexed", "error", err)
		return 0
	}
	if len(vectors) != len(texts) {
		log.Warn("embedding returned wrong vector count", "want", len(texts), "got", len(vectors))
		return 0
	}

	points := make([]index.Point, 0, len(vectors))
	points = append(points, index.Point{
		ID:     chunk.ID,
		Vector: vectors[0],
		Payload: index.Payload{
			DocumentID: documentID,
			ChunkID:    chunk.ID,
			Sequence:   chunk.Sequence,
		},
	})
	for i := range rules {
		points = append(points, index.Point{
			ID:     rules[i].ID,
			Vector: vectors[i+1],
			Payload: index.Payload{
				DocumentID: documentID,
				ChunkID:    chunk.ID,
				Sequence:   chunk.Sequence,
				RuleType:   rules[i].RuleType,
			},
		})
	}

	if err := s.index.Upsert(ctx, points); err != nil {
		log.Warn("index upsert failed, chunk left unindexed", "error", err)
		return 0
	}

	for i := range rules {
		if err := s.store.SetRuleEmbedding(ctx, rules[i].ID, rules[i].ID); err != nil {
			log.Warn("embedding id write failed", "rule_id", rules[i].ID, "error", err)
		}
	}
	return len(rules)
}
