// Package postgres provides a PostgreSQL-backed implementation of
// [voiceid.Store] using pgvector for embedding similarity search.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 192)
//	if err != nil { … }
//	defer store.Close()
//
//	engine, err := voiceid.New(sidecarURL, store)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/tminde/parley/pkg/voiceid"
)

// Compile-time interface check.
var _ voiceid.Store = (*Store)(nil)

// ddlVoices returns the voices DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlVoices(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voices (
    id          TEXT         PRIMARY KEY,
    name        TEXT         NOT NULL UNIQUE,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voices_embedding
    ON voices USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the voices table and the pgvector extension
// exist. It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the sidecar's model (192 for ECAPA-TDNN).
// Changing this value after the first migration requires a manual schema
// update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlVoices(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Store is the PostgreSQL-backed voice registry. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the voices table exists.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Save implements [voiceid.Store]. Saving under an existing name replaces
// the stored record completely.
func (s *Store) Save(ctx context.Context, rec voiceid.Record) error {
	const q = `
		INSERT INTO voices (id, name, embedding, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
		    id         = EXCLUDED.id,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q, rec.ID, rec.Name, pgvector.NewVector(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: save voice: %w", err)
	}
	return nil
}

// Get implements [voiceid.Store].
func (s *Store) Get(ctx context.Context, name string) (*voiceid.Record, error) {
	const q = `
		SELECT id, name, embedding, created_at
		FROM   voices
		WHERE  name = $1`

	var (
		rec voiceid.Record
		vec pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q, name).Scan(&rec.ID, &rec.Name, &vec, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", voiceid.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get voice: %w", err)
	}
	rec.Embedding = vec.Slice()
	return &rec, nil
}

// Delete implements [voiceid.Store].
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM voices WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("postgres store: delete voice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", voiceid.ErrNotFound, name)
	}
	return nil
}

// List implements [voiceid.Store]. Records come back ordered by name.
func (s *Store) List(ctx context.Context) ([]voiceid.Record, error) {
	const q = `
		SELECT id, name, embedding, created_at
		FROM   voices
		ORDER  BY name`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list voices: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (voiceid.Record, error) {
		var (
			rec voiceid.Record
			vec pgvector.Vector
		)
		if err := row.Scan(&rec.ID, &rec.Name, &vec, &rec.CreatedAt); err != nil {
			return voiceid.Record{}, err
		}
		rec.Embedding = vec.Slice()
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []voiceid.Record{}
	}
	return recs, nil
}

// Nearest implements [voiceid.Store]. It finds the limit voices whose
// embeddings are closest (cosine distance) to the supplied query embedding,
// ordered by ascending distance (most similar first).
func (s *Store) Nearest(ctx context.Context, embedding []float32, limit int) ([]voiceid.SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("postgres store: nearest limit must be positive, got %d", limit)
	}

	const q = `
		SELECT id, name, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   voices
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search voices: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (voiceid.SearchResult, error) {
		var (
			sr  voiceid.SearchResult
			vec pgvector.Vector
		)
		if err := row.Scan(&sr.Record.ID, &sr.Record.Name, &vec, &sr.Record.CreatedAt, &sr.Distance); err != nil {
			return voiceid.SearchResult{}, err
		}
		sr.Record.Embedding = vec.Slice()
		return sr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []voiceid.SearchResult{}
	}
	return results, nil
}

// Ping implements [voiceid.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
