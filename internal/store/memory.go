package store

import (
	"context"
	"sort"
	"sync"

	"github.com/oasisdevteambal/regula/internal/model"
)

// MemoryStore is an in-memory RuleStore for tests and single-shot runs.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]model.Document
	chunks map[string]model.DocumentChunk
	rules  map[string][]model.ExtractedRule // keyed by chunk ID, insertion order
	stats  map[string]model.ChunkProcessingStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]model.Document),
		chunks: make(map[string]model.DocumentChunk),
		rules:  make(map[string][]model.ExtractedRule),
		stats:  make(map[string]model.ChunkProcessingStats),
	}
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = *doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (s *MemoryStore) FindDocumentByHash(_ context.Context, hash string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.ContentHash == hash {
			d := doc
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListDocuments(_ context.Context) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]model.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.Before(docs[j].CreatedAt) })
	return docs, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	for chunkID, c := range s.chunks {
		if c.DocumentID == id {
			delete(s.chunks, chunkID)
			delete(s.rules, chunkID)
			delete(s.stats, chunkID)
		}
	}
	return nil
}

func (s *MemoryStore) SaveChunks(_ context.Context, chunks []model.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) GetChunk(_ context.Context, id string) (*model.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) GetChunkBySequence(_ context.Context, documentID string, sequence int) (*model.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.chunks {
		if c.DocumentID == documentID && c.Sequence == sequence {
			cc := c
			return &cc, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListChunks(_ context.Context, documentID string) ([]model.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []model.DocumentChunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })
	return chunks, nil
}

func (s *MemoryStore) ListNeedsReview(_ context.Context) ([]model.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chunks []model.DocumentChunk
	for _, c := range s.chunks {
		if c.Status == model.StatusNeedsReview {
			chunks = append(chunks, c)
		}
	}
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Sequence < chunks[j].Sequence
	})
	return chunks, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, chunkID string, from, to model.ChunkStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	s.chunks[chunkID] = c
	return true, nil
}

func (s *MemoryStore) SetRetryCount(_ context.Context, chunkID string, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return ErrNotFound
	}
	c.RetryCount = retries
	s.chunks[chunkID] = c
	return nil
}

func (s *MemoryStore) SetQuality(_ context.Context, chunkID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return ErrNotFound
	}
	c.QualityScore = &score
	s.chunks[chunkID] = c
	return nil
}

func (s *MemoryStore) SaveRules(_ context.Context, rules []model.ExtractedRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.rules[r.SourceChunkID] = append(s.rules[r.SourceChunkID], r)
	}
	return nil
}

func (s *MemoryStore) ListRulesByChunk(_ context.Context, chunkID string) ([]model.ExtractedRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := make([]model.ExtractedRule, len(s.rules[chunkID]))
	copy(rules, s.rules[chunkID])
	return rules, nil
}

func (s *MemoryStore) ListRulesByDocument(ctx context.Context, documentID string) ([]model.ExtractedRule, error) {
	chunks, err := s.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rules []model.ExtractedRule
	for _, c := range chunks {
		rules = append(rules, s.rules[c.ID]...)
	}
	return rules, nil
}

func (s *MemoryStore) SetRuleEmbedding(_ context.Context, ruleID, embeddingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for chunkID, rules := range s.rules {
		for i := range rules {
			if rules[i].ID == ruleID {
				id := embeddingID
				rules[i].EmbeddingID = &id
				s.rules[chunkID] = rules
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) SaveStats(_ context.Context, stats *model.ChunkProcessingStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[stats.ChunkID] = *stats
	return nil
}

func (s *MemoryStore) ListStats(ctx context.Context, documentID string) ([]model.ChunkProcessingStats, error) {
	if documentID != "" {
		chunks, err := s.ListChunks(ctx, documentID)
		if err != nil {
			return nil, err
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []model.ChunkProcessingStats
		for _, c := range chunks {
			if st, ok := s.stats[c.ID]; ok {
				out = append(out, st)
			}
		}
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChunkProcessingStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
