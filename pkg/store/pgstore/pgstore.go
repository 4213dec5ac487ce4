// Package pgstore is a concrete ptypes.SemanticStore backed by PostgreSQL
// and the pgvector extension. The hybrid query engine (C8) never imports
// this package directly — it is wired in by cmd/ptolemies-server behind
// the ptypes.SemanticStore interface, following the same separation
// glyphoxa's pkg/memory/postgres draws between its memory interfaces and
// their PostgreSQL implementation.
package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

var _ ptypes.SemanticStore = (*Store)(nil)

// Store is a single-table, pgvector-backed semantic index over indexed
// documents. All methods are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder ptypes.Embedder
}

// New creates a Store, establishes a connection pool to dsn, registers
// pgvector types on every connection, and runs Migrate. embedder
// produces the query-time vector for Search; dimensions must match its
// output width (e.g. 1536 for OpenAI text-embedding-3-small).
func New(ctx context.Context, dsn string, embedder ptypes.Embedder, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Search implements ptypes.SemanticStore. It embeds query and returns the
// limit nearest documents by ascending cosine distance, optionally
// restricted to sourceFilter (source_name values) and to documents whose
// quality_score is at or above qualityThreshold.
func (s *Store) Search(ctx context.Context, query string, limit int, sourceFilter []string, qualityThreshold float64) ([]ptypes.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: embed query: %w", err)
	}
	queryVec := pgvector.NewVector(vec)

	var b strings.Builder
	b.WriteString(`
		SELECT id, title, content, source_name, source_url,
		       embedding <=> $1 AS distance
		FROM   documents
		WHERE  true`)
	args := []interface{}{queryVec}

	if len(sourceFilter) > 0 {
		args = append(args, sourceFilter)
		fmt.Fprintf(&b, " AND source_name = ANY($%d)", len(args))
	}
	if qualityThreshold > 0 {
		args = append(args, qualityThreshold)
		fmt.Fprintf(&b, " AND quality_score >= $%d", len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY distance LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ptypes.SearchResult, error) {
		var (
			r        ptypes.SearchResult
			distance float64
		)
		if err := row.Scan(&r.ID, &r.Title, &r.Content, &r.SourceName, &r.SourceURL, &distance); err != nil {
			return ptypes.SearchResult{}, err
		}
		r.Score = 1 - distance
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pgstore: scan rows: %w", err)
	}
	if results == nil {
		results = []ptypes.SearchResult{}
	}
	return results, nil
}

// IndexDocument upserts a document and its pre-computed embedding. This is
// exposed for completeness of the semantic store but is not called by the
// query engine: ingestion is out of this system's scope (spec.md's
// Non-goals) and is expected to be driven by a separate pipeline that
// embeds and calls this method directly.
func (s *Store) IndexDocument(ctx context.Context, doc ptypes.Document, embedding []float32) error {
	const q = `
		INSERT INTO documents (id, title, content, source_name, source_url, updated_at, quality_score, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    title         = EXCLUDED.title,
		    content       = EXCLUDED.content,
		    source_name   = EXCLUDED.source_name,
		    source_url    = EXCLUDED.source_url,
		    updated_at    = EXCLUDED.updated_at,
		    quality_score = EXCLUDED.quality_score,
		    embedding     = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q, doc.ID, doc.Title, doc.Content, doc.SourceName, doc.SourceURL, doc.UpdatedAt, doc.QualityScore, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("pgstore: index document: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
