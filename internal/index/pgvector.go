package index

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

const defaultDimension = 768

// PgvectorIndex keeps vectors in Postgres using the pgvector extension,
// so deployments already running the postgres store need no extra service.
type PgvectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPgvectorIndex(ctx context.Context, connString string, dimension int) (*PgvectorIndex, error) {
	if connString == "" {
		return nil, fmt.Errorf("pgvector index requires a database url")
	}
	if dimension <= 0 {
		dimension = defaultDimension
	}

	// The extension and table must exist before pool connections try to
	// register the vector type, so bootstrap on a plain connection first.
	setupConn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector: %w", err)
	}
	if err := setupVectorSchema(ctx, setupConn, dimension); err != nil {
		_ = setupConn.Close(ctx)
		return nil, err
	}
	if err := setupConn.Close(ctx); err != nil {
		return nil, fmt.Errorf("close setup connection: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse pgvector config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgvector: %w", err)
	}
	return &PgvectorIndex{pool: pool, dimension: dimension}, nil
}

func setupVectorSchema(ctx context.Context, conn *pgx.Conn, dimension int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rule_vectors (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			sequence BIGINT NOT NULL,
			rule_type TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS idx_rule_vectors_document ON rule_vectors(document_id)`,
	}
	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setup vector schema: %w", err)
		}
	}
	return nil
}

func (p *PgvectorIndex) Upsert(ctx context.Context, points []Point) error {
	for _, pt := range points {
		if len(pt.Vector) != p.dimension {
			return fmt.Errorf("point %s: embedding must be %d dimensions, got %d", pt.ID, p.dimension, len(pt.Vector))
		}
		_, err := p.pool.Exec(ctx, `
			INSERT INTO rule_vectors (id, document_id, chunk_id, sequence, rule_type, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				document_id = excluded.document_id,
				chunk_id = excluded.chunk_id,
				sequence = excluded.sequence,
				rule_type = excluded.rule_type,
				embedding = excluded.embedding`,
			pt.ID, pt.Payload.DocumentID, pt.Payload.ChunkID, pt.Payload.Sequence, pt.Payload.RuleType,
			pgvector.NewVector(pt.Vector))
		if err != nil {
			return fmt.Errorf("upsert point %s: %w", pt.ID, err)
		}
	}
	return nil
}

func (p *PgvectorIndex) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("query embedding must be %d dimensions, got %d", p.dimension, len(vector))
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, document_id, chunk_id, sequence, rule_type,
			embedding <=> $1 AS distance
		FROM rule_vectors
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Payload.DocumentID, &h.Payload.ChunkID, &h.Payload.Sequence, &h.Payload.RuleType, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

func (p *PgvectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM rule_vectors WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete vectors for document %s: %w", documentID, err)
	}
	return nil
}

func (p *PgvectorIndex) Close() error {
	p.pool.Close()
	return nil
}
