// Package postgres provides the PostgreSQL implementation of the catalog.
//
// Media records and cast live in plain relational tables. Transcript chunks
// are stored with a pgvector embedding column (HNSW, cosine) for semantic
// search and a GIN full-text index for lexical search, so both halves of a
// hybrid query hit the same table.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	hits, _ := store.SemanticSearch(ctx, vec, catalog.SearchOpts{Limit: 100})
//	rec, _ := store.Media(ctx, types.MediaID{Kind: types.KindMovie, ID: "603"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Media + cast
// ─────────────────────────────────────────────────────────────────────────────

const ddlMedia = `
CREATE TABLE IF NOT EXISTS media (
    kind             TEXT         NOT NULL,
    id               TEXT         NOT NULL,
    title            TEXT         NOT NULL,
    year             INTEGER      NOT NULL DEFAULT 0,
    genres           TEXT[]       NOT NULL DEFAULT '{}',
    overview         TEXT         NOT NULL DEFAULT '',
    poster_url       TEXT         NOT NULL DEFAULT '',
    rating           REAL         NOT NULL DEFAULT 0,
    runtime_minutes  INTEGER      NOT NULL DEFAULT 0,
    updated_at       TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS media_cast (
    kind       TEXT     NOT NULL,
    media_id   TEXT     NOT NULL,
    rank       INTEGER  NOT NULL,
    name       TEXT     NOT NULL,
    character  TEXT     NOT NULL DEFAULT '',
    PRIMARY KEY (kind, media_id, rank),
    FOREIGN KEY (kind, media_id) REFERENCES media (kind, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_media_cast_name
    ON media_cast (lower(name));
`

// ─────────────────────────────────────────────────────────────────────────────
// Transcript chunks
// ─────────────────────────────────────────────────────────────────────────────

// ddlChunks returns the chunk DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlChunks(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_chunks (
    id           BIGSERIAL    PRIMARY KEY,
    kind         TEXT         NOT NULL,
    media_id     TEXT         NOT NULL,
    position     INTEGER      NOT NULL,
    content      TEXT         NOT NULL,
    embedding    vector(%d)   NOT NULL,
    inserted_at  TIMESTAMPTZ  NOT NULL DEFAULT clock_timestamp(),
    UNIQUE (kind, media_id, position),
    FOREIGN KEY (kind, media_id) REFERENCES media (kind, id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_embedding
    ON transcript_chunks USING hnsw (embedding vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_transcript_chunks_fts
    ON transcript_chunks USING GIN (to_tsvector('english', content));
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables, indexes and extensions.
// It is idempotent and safe to call on every start.
//
// embeddingDimensions must match the embeddings model (e.g., 1536 for
// text-embedding-3-small). Changing it after the first migration requires a
// manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlMedia, ddlChunks(embeddingDimensions)} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
