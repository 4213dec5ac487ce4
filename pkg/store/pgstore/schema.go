package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlDocuments returns the documents table DDL with the embedding
// dimension baked into the vector column type.
func ddlDocuments(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL DEFAULT '',
    source_name TEXT         NOT NULL DEFAULT '',
    source_url  TEXT         NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_documents_fts
    ON documents USING GIN (to_tsvector('english', content));
`, dimensions)
}

// Migrate creates the documents table and its indexes if they do not
// already exist. Idempotent; safe to call on every process start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if _, err := pool.Exec(ctx, ddlDocuments(dimensions)); err != nil {
		return fmt.Errorf("pgstore migrate: %w", err)
	}
	return nil
}
