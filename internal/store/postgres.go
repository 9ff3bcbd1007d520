package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oasisdevteambal/regula/internal/model"
)

// PostgresStore is a pgx-backed RuleStore. Slice fields use text[] columns
// and rule payloads are stored as jsonb.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.setupTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("setup database tables: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) setupTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			title TEXT NOT NULL,
			content_hash TEXT NOT NULL UNIQUE,
			size BIGINT NOT NULL,
			storage_path TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents (id),
			sequence INTEGER NOT NULL,
			byte_start INTEGER NOT NULL,
			byte_end INTEGER NOT NULL,
			text TEXT NOT NULL,
			stitched_text TEXT NOT NULL,
			content_type TEXT NOT NULL,
			overlap_prev INTEGER NOT NULL,
			overlap_next INTEGER NOT NULL,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL,
			quality_score DOUBLE PRECISION,
			context_keywords TEXT[] NOT NULL DEFAULT '{}',
			oversized BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (document_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks (status)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			chunk_id TEXT NOT NULL REFERENCES chunks (id),
			rule_type TEXT NOT NULL,
			payload JSONB NOT NULL,
			source_sequence INTEGER NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			cross_chunk_refs TEXT[] NOT NULL DEFAULT '{}',
			embedding_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_chunk ON rules (chunk_id)`,
		`CREATE TABLE IF NOT EXISTS chunk_stats (
			chunk_id TEXT PRIMARY KEY REFERENCES chunks (id),
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			attempts INTEGER NOT NULL,
			rules_extracted INTEGER NOT NULL,
			tokens_used BIGINT NOT NULL,
			factors JSONB NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("execute %q: %w", query[:40], err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, filename, title, content_hash, size, storage_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			filename = excluded.filename,
			title = excluded.title,
			content_hash = excluded.content_hash,
			size = excluded.size,
			storage_path = excluded.storage_path`,
		doc.ID, doc.Filename, doc.Title, doc.ContentHash, doc.Size, doc.StoragePath, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) getDocument(ctx context.Context, query string, args ...any) (*model.Document, error) {
	doc := &model.Document{}
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Filename, &doc.Title, &doc.ContentHash, &doc.Size, &doc.StoragePath, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return s.getDocument(ctx,
		`SELECT id, filename, title, content_hash, size, storage_path, created_at
		 FROM documents WHERE id = $1`, id)
}

func (s *PostgresStore) FindDocumentByHash(ctx context.Context, hash string) (*model.Document, error) {
	return s.getDocument(ctx,
		`SELECT id, filename, title, content_hash, size, storage_path, created_at
		 FROM documents WHERE content_hash = $1`, hash)
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, filename, title, content_hash, size, storage_path, created_at
		 FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Title, &doc.ContentHash,
			&doc.Size, &doc.StoragePath, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM rules WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = $1)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM chunk_stats WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = $1)`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SaveChunks(ctx context.Context, chunks []model.DocumentChunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, c := range chunks {
		keywords := c.ContextKeywords
		if keywords == nil {
			keywords = []string{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, document_id, sequence, byte_start, byte_end, text, stitched_text,
				content_type, overlap_prev, overlap_next, status, retry_count, quality_score,
				context_keywords, oversized)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			c.ID, c.DocumentID, c.Sequence, c.ByteStart, c.ByteEnd, c.Text, c.StitchedText,
			c.ContentType, c.OverlapPrev, c.OverlapNext, c.Status, c.RetryCount, c.QualityScore,
			keywords, c.Oversized); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Sequence, err)
		}
	}
	return tx.Commit(ctx)
}

const pgChunkColumns = `id, document_id, sequence, byte_start, byte_end, text, stitched_text,
	content_type, overlap_prev, overlap_next, status, retry_count, quality_score,
	context_keywords, oversized`

func scanPgChunk(row pgx.Row) (model.DocumentChunk, error) {
	var c model.DocumentChunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.Sequence, &c.ByteStart, &c.ByteEnd, &c.Text, &c.StitchedText,
		&c.ContentType, &c.OverlapPrev, &c.OverlapNext, &c.Status, &c.RetryCount, &c.QualityScore,
		&c.ContextKeywords, &c.Oversized)
	return c, err
}

func (s *PostgresStore) GetChunk(ctx context.Context, id string) (*model.DocumentChunk, error) {
	c, err := scanPgChunk(s.pool.QueryRow(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetChunkBySequence(ctx context.Context, documentID string, sequence int) (*model.DocumentChunk, error) {
	c, err := scanPgChunk(s.pool.QueryRow(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE document_id = $1 AND sequence = $2`,
		documentID, sequence))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) queryChunks(ctx context.Context, query string, args ...any) ([]model.DocumentChunk, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.DocumentChunk
	for rows.Next() {
		c, err := scanPgChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PostgresStore) ListChunks(ctx context.Context, documentID string) ([]model.DocumentChunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY sequence`, documentID)
}

func (s *PostgresStore) ListNeedsReview(ctx context.Context) ([]model.DocumentChunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE status = $1 ORDER BY document_id, sequence`,
		model.StatusNeedsReview)
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, chunkID string, from, to model.ChunkStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE chunks SET status = $1 WHERE id = $2 AND status = $3`, to, chunkID, from)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var one int
	err = s.pool.QueryRow(ctx, `SELECT 1 FROM chunks WHERE id = $1`, chunkID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return false, err
}

func (s *PostgresStore) SetRetryCount(ctx context.Context, chunkID string, retries int) error {
	return s.execOnChunk(ctx, `UPDATE chunks SET retry_count = $1 WHERE id = $2`, retries, chunkID)
}

func (s *PostgresStore) SetQuality(ctx context.Context, chunkID string, score float64) error {
	return s.execOnChunk(ctx, `UPDATE chunks SET quality_score = $1 WHERE id = $2`, score, chunkID)
}

func (s *PostgresStore) execOnChunk(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveRules(ctx context.Context, rules []model.ExtractedRule) error {
	if len(rules) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, r := range rules {
		refs := r.CrossChunkRefs
		if refs == nil {
			refs = []string{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO rules (id, chunk_id, rule_type, payload, source_sequence, confidence, cross_chunk_refs, embedding_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.ID, r.SourceChunkID, r.RuleType, r.Payload, r.SourceSequence,
			r.Confidence, refs, r.EmbeddingID); err != nil {
			return fmt.Errorf("insert rule %s: %w", r.ID, err)
		}
	}
	return tx.Commit(ctx)
}

const pgRuleColumns = `id, chunk_id, rule_type, payload, source_sequence, confidence, cross_chunk_refs, embedding_id`

func (s *PostgresStore) queryRules(ctx context.Context, query string, args ...any) ([]model.ExtractedRule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.ExtractedRule
	for rows.Next() {
		var r model.ExtractedRule
		if err := rows.Scan(&r.ID, &r.SourceChunkID, &r.RuleType, &r.Payload, &r.SourceSequence,
			&r.Confidence, &r.CrossChunkRefs, &r.EmbeddingID); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *PostgresStore) ListRulesByChunk(ctx context.Context, chunkID string) ([]model.ExtractedRule, error) {
	return s.queryRules(ctx,
		`SELECT `+pgRuleColumns+` FROM rules WHERE chunk_id = $1 ORDER BY id`, chunkID)
}

func (s *PostgresStore) ListRulesByDocument(ctx context.Context, documentID string) ([]model.ExtractedRule, error) {
	return s.queryRules(ctx,
		`SELECT r.id, r.chunk_id, r.rule_type, r.payload, r.source_sequence, r.confidence, r.cross_chunk_refs, r.embedding_id
		 FROM rules r JOIN chunks c ON r.chunk_id = c.id
		 WHERE c.document_id = $1 ORDER BY c.sequence, r.id`, documentID)
}

func (s *PostgresStore) SetRuleEmbedding(ctx context.Context, ruleID, embeddingID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rules SET embedding_id = $1 WHERE id = $2`, embeddingID, ruleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveStats(ctx context.Context, stats *model.ChunkProcessingStats) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chunk_stats (chunk_id, started_at, finished_at, attempts, rules_extracted, tokens_used, factors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (chunk_id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			attempts = excluded.attempts,
			rules_extracted = excluded.rules_extracted,
			tokens_used = excluded.tokens_used,
			factors = excluded.factors`,
		stats.ChunkID, stats.StartedAt, stats.FinishedAt, stats.Attempts,
		stats.RulesExtracted, stats.TokensUsed, stats.QualityFactors)
	return err
}

func (s *PostgresStore) ListStats(ctx context.Context, documentID string) ([]model.ChunkProcessingStats, error) {
	query := `SELECT st.chunk_id, st.started_at, st.finished_at, st.attempts, st.rules_extracted, st.tokens_used, st.factors
		FROM chunk_stats st JOIN chunks c ON st.chunk_id = c.id`
	var args []any
	if documentID != "" {
		query += ` WHERE c.document_id = $1`
		args = append(args, documentID)
	}
	query += ` ORDER BY c.document_id, c.sequence`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChunkProcessingStats
	for rows.Next() {
		var st model.ChunkProcessingStats
		if err := rows.Scan(&st.ChunkID, &st.StartedAt, &st.FinishedAt, &st.Attempts,
			&st.RulesExtracted, &st.TokensUsed, &st.QualityFactors); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
