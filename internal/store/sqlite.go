package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oasisdevteambal/regula/internal/model"
)

// SQLiteStore is a file-backed RuleStore. Slice fields are stored as JSON
// text columns.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "regula.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; the scheduler runs several workers, so
	// serialize all access on one connection.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.setupTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setup database tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) setupTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			title TEXT NOT NULL,
			content_hash TEXT NOT NULL UNIQUE,
			size INTEGER NOT NULL,
			storage_path TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
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
			quality_score REAL,
			context_keywords TEXT NOT NULL,
			oversized INTEGER NOT NULL,
			UNIQUE(document_id, sequence),
			FOREIGN KEY (document_id) REFERENCES documents (id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(status)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY,
			chunk_id TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			source_sequence INTEGER NOT NULL,
			confidence REAL NOT NULL,
			cross_chunk_refs TEXT NOT NULL,
			embedding_id TEXT,
			FOREIGN KEY (chunk_id) REFERENCES chunks (id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_chunk ON rules(chunk_id)`,
		`CREATE TABLE IF NOT EXISTS chunk_stats (
			chunk_id TEXT PRIMARY KEY,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP NOT NULL,
			attempts INTEGER NOT NULL,
			rules_extracted INTEGER NOT NULL,
			tokens_used INTEGER NOT NULL,
			factors TEXT NOT NULL,
			FOREIGN KEY (chunk_id) REFERENCES chunks (id)
		)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("execute %q: %w", query[:40], err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO documents (id, filename, title, content_hash, size, storage_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
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

const documentColumns = `id, filename, title, content_hash, size, storage_path, created_at`

func (s *SQLiteStore) scanDocument(row *sql.Row) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Title, &doc.ContentHash, &doc.Size, &doc.StoragePath, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return s.scanDocument(row)
}

func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, hash string) (*model.Document, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE content_hash = ?`, hash)
	return s.scanDocument(row)
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.Title, &doc.ContentHash, &doc.Size, &doc.StoragePath, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rules WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_stats WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []model.DocumentChunk) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, sequence, byte_start, byte_end, text, stitched_text,
			content_type, overlap_prev, overlap_next, status, retry_count, quality_score,
			context_keywords, oversized)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		keywords, err := json.Marshal(c.ContextKeywords)
		if err != nil {
			return fmt.Errorf("marshal keywords: %w", err)
		}
		var score any
		if c.QualityScore != nil {
			score = *c.QualityScore
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.DocumentID, c.Sequence, c.ByteStart, c.ByteEnd, c.Text, c.StitchedText,
			c.ContentType, c.OverlapPrev, c.OverlapNext, c.Status, c.RetryCount, score,
			string(keywords), c.Oversized); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Sequence, err)
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, document_id, sequence, byte_start, byte_end, text, stitched_text,
	content_type, overlap_prev, overlap_next, status, retry_count, quality_score,
	context_keywords, oversized`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (model.DocumentChunk, error) {
	var c model.DocumentChunk
	var score sql.NullFloat64
	var keywords string
	err := row.Scan(&c.ID, &c.DocumentID, &c.Sequence, &c.ByteStart, &c.ByteEnd, &c.Text, &c.StitchedText,
		&c.ContentType, &c.OverlapPrev, &c.OverlapNext, &c.Status, &c.RetryCount, &score,
		&keywords, &c.Oversized)
	if err != nil {
		return c, err
	}
	if score.Valid {
		v := score.Float64
		c.QualityScore = &v
	}
	if keywords != "" && keywords != "null" {
		if err := json.Unmarshal([]byte(keywords), &c.ContextKeywords); err != nil {
			return c, fmt.Errorf("unmarshal keywords for chunk %s: %w", c.ID, err)
		}
	}
	return c, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*model.DocumentChunk, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) GetChunkBySequence(ctx context.Context, documentID string, sequence int) (*model.DocumentChunk, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? AND sequence = ?`, documentID, sequence)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) queryChunks(ctx context.Context, query string, args ...any) ([]model.DocumentChunk, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []model.DocumentChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]model.DocumentChunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY sequence`, documentID)
}

func (s *SQLiteStore) ListNeedsReview(ctx context.Context) ([]model.DocumentChunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE status = ? ORDER BY document_id, sequence`,
		model.StatusNeedsReview)
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, chunkID string, from, to model.ChunkStatus) (bool, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE chunks SET status = ? WHERE id = ? AND status = ?`, to, chunkID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var one int
	err = s.conn.QueryRowContext(ctx, `SELECT 1 FROM chunks WHERE id = ?`, chunkID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	return false, err
}

func (s *SQLiteStore) SetRetryCount(ctx context.Context, chunkID string, retries int) error {
	return s.execOnChunk(ctx, `UPDATE chunks SET retry_count = ? WHERE id = ?`, retries, chunkID)
}

func (s *SQLiteStore) SetQuality(ctx context.Context, chunkID string, score float64) error {
	return s.execOnChunk(ctx, `UPDATE chunks SET quality_score = ? WHERE id = ?`, score, chunkID)
}

func (s *SQLiteStore) execOnChunk(ctx context.Context, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveRules(ctx context.Context, rules []model.ExtractedRule) error {
	if len(rules) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO rules (id, chunk_id, rule_type, payload, source_sequence, confidence, cross_chunk_refs, embedding_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rules {
		refs, err := json.Marshal(r.CrossChunkRefs)
		if err != nil {
			return fmt.Errorf("marshal refs: %w", err)
		}
		var embeddingID any
		if r.EmbeddingID != nil {
			embeddingID = *r.EmbeddingID
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.SourceChunkID, r.RuleType, string(r.Payload), r.SourceSequence,
			r.Confidence, string(refs), embeddingID); err != nil {
			return fmt.Errorf("insert rule %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

const ruleColumns = `id, chunk_id, rule_type, payload, source_sequence, confidence, cross_chunk_refs, embedding_id`

func scanRule(row rowScanner) (model.ExtractedRule, error) {
	var r model.ExtractedRule
	var payload, refs string
	var embeddingID sql.NullString
	err := row.Scan(&r.ID, &r.SourceChunkID, &r.RuleType, &payload, &r.SourceSequence,
		&r.Confidence, &refs, &embeddingID)
	if err != nil {
		return r, err
	}
	r.Payload = json.RawMessage(payload)
	if refs != "" && refs != "null" {
		if err := json.Unmarshal([]byte(refs), &r.CrossChunkRefs); err != nil {
			return r, fmt.Errorf("unmarshal refs for rule %s: %w", r.ID, err)
		}
	}
	if embeddingID.Valid {
		v := embeddingID.String
		r.EmbeddingID = &v
	}
	return r, nil
}

func (s *SQLiteStore) queryRules(ctx context.Context, query string, args ...any) ([]model.ExtractedRule, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.ExtractedRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) ListRulesByChunk(ctx context.Context, chunkID string) ([]model.ExtractedRule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE chunk_id = ? ORDER BY rowid`, chunkID)
}

func (s *SQLiteStore) ListRulesByDocument(ctx context.Context, documentID string) ([]model.ExtractedRule, error) {
	return s.queryRules(ctx,
		`SELECT r.id, r.chunk_id, r.rule_type, r.payload, r.source_sequence, r.confidence, r.cross_chunk_refs, r.embedding_id
		 FROM rules r JOIN chunks c ON r.chunk_id = c.id
		 WHERE c.document_id = ? ORDER BY c.sequence, r.rowid`, documentID)
}

func (s *SQLiteStore) SetRuleEmbedding(ctx context.Context, ruleID, embeddingID string) error {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE rules SET embedding_id = ? WHERE id = ?`, embeddingID, ruleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveStats(ctx context.Context, stats *model.ChunkProcessingStats) error {
	factors, err := json.Marshal(stats.QualityFactors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO chunk_stats (chunk_id, started_at, finished_at, attempts, rules_extracted, tokens_used, factors)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			attempts = excluded.attempts,
			rules_extracted = excluded.rules_extracted,
			tokens_used = excluded.tokens_used,
			factors = excluded.factors`,
		stats.ChunkID, stats.StartedAt, stats.FinishedAt, stats.Attempts,
		stats.RulesExtracted, stats.TokensUsed, string(factors))
	return err
}

func (s *SQLiteStore) ListStats(ctx context.Context, documentID string) ([]model.ChunkProcessingStats, error) {
	query := `SELECT st.chunk_id, st.started_at, st.finished_at, st.attempts, st.rules_extracted, st.tokens_used, st.factors
		FROM chunk_stats st JOIN chunks c ON st.chunk_id = c.id`
	var args []any
	if documentID != "" {
		query += ` WHERE c.document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY c.document_id, c.sequence`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ChunkProcessingStats
	for rows.Next() {
		var st model.ChunkProcessingStats
		var factors string
		if err := rows.Scan(&st.ChunkID, &st.StartedAt, &st.FinishedAt, &st.Attempts,
			&st.RulesExtracted, &st.TokensUsed, &factors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(factors), &st.QualityFactors); err != nil {
			return nil, fmt.Errorf("unmarshal factors for chunk %s: %w", st.ChunkID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
