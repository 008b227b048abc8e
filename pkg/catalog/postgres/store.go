package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/types"
)

var (
	_ catalog.ChunkIndex = (*Store)(nil)
	_ catalog.MediaStore = (*Store)(nil)
	_ catalog.Writer     = (*Store)(nil)
)

// Store is the PostgreSQL-backed catalog. It holds a single [pgxpool.Pool]
// and is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, installs the pgvector extension if needed,
// registers pgvector types on every pooled connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	// pgvector types can only be registered once the extension exists, so it
	// is created over a one-off connection before the pool is built.
	boot, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	_, err = boot.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	boot.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
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

// Ping verifies the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// ── Read side ───────────────────────────────────────────────────────────────

// chunkColumns is the shared projection for chunk searches; score is appended
// by each query.
const chunkColumns = `id, kind, media_id, position, content, inserted_at`

// SemanticSearch implements [catalog.ChunkIndex]. The score is cosine
// similarity floored at zero.
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, opts catalog.SearchOpts) ([]types.ScoredChunk, error) {
	args := []any{pgvector.NewVector(embedding)} // $1
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := kindFilter(opts.Kinds, next)
	limit := next(opts.Limit)

	q := fmt.Sprintf(`
		SELECT %s,
		       GREATEST(0, 1 - (embedding <=> $1)) AS score
		FROM   transcript_chunks
		%s
		ORDER  BY embedding <=> $1, inserted_at DESC
		LIMIT  %s`, chunkColumns, where, limit)

	return s.queryChunks(ctx, "semantic search", q, args)
}

// LexicalSearch implements [catalog.ChunkIndex]. Query terms are OR-ed so a
// partial transcript still matches, and ts_rank_cd is normalised into [0, 1).
func (s *Store) LexicalSearch(ctx context.Context, query string, opts catalog.SearchOpts) ([]types.ScoredChunk, error) {
	args := []any{query} // $1
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"to_tsvector('english', content) @@ q.tsq"}
	if len(opts.Kinds) > 0 {
		conditions = append(conditions, "kind = ANY("+next(kindStrings(opts.Kinds))+")")
	}
	limit := next(opts.Limit)

	q := fmt.Sprintf(`
		WITH q AS (
		    SELECT replace(plainto_tsquery('english', $1)::text, '&', '|')::tsquery AS tsq
		)
		SELECT %s,
		       ts_rank_cd(to_tsvector('english', content), q.tsq, 32) AS score
		FROM   transcript_chunks, q
		WHERE  %s
		ORDER  BY score DESC, inserted_at DESC
		LIMIT  %s`, chunkColumns, strings.Join(conditions, "\n  AND "), limit)

	return s.queryChunks(ctx, "lexical search", q, args)
}

func (s *Store) queryChunks(ctx context.Context, op, q string, args []any) ([]types.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", op, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ScoredChunk, error) {
		var (
			sc   types.ScoredChunk
			kind string
		)
		if err := row.Scan(
			&sc.Chunk.ID,
			&kind,
			&sc.Chunk.Media.ID,
			&sc.Chunk.Position,
			&sc.Chunk.Text,
			&sc.Chunk.InsertedAt,
			&sc.Score,
		); err != nil {
			return types.ScoredChunk{}, err
		}
		sc.Chunk.Media.Kind = types.MediaKind(kind)
		return sc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: scan rows: %w", op, err)
	}
	if results == nil {
		results = []types.ScoredChunk{}
	}
	return results, nil
}

// Media implements [catalog.MediaStore]. The returned record includes cast.
func (s *Store) Media(ctx context.Context, id types.MediaID) (types.MediaRecord, error) {
	const q = `
		SELECT title, year, genres, overview, poster_url, rating, runtime_minutes
		FROM   media
		WHERE  kind = $1 AND id = $2`

	rec := types.MediaRecord{ID: id}
	var rating float32
	err := s.pool.QueryRow(ctx, q, string(id.Kind), id.ID).Scan(
		&rec.Title, &rec.Year, &rec.Genres, &rec.Overview, &rec.PosterURL, &rating, &rec.RuntimeMinutes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.MediaRecord{}, fmt.Errorf("%w: media %s", catalog.ErrNotFound, id)
	}
	if err != nil {
		return types.MediaRecord{}, fmt.Errorf("catalog: get media %s: %w", id, err)
	}
	rec.Rating = float64(rating)

	rec.Cast, err = s.Cast(ctx, id)
	if err != nil {
		return types.MediaRecord{}, err
	}
	return rec, nil
}

// Cast implements [catalog.MediaStore].
func (s *Store) Cast(ctx context.Context, id types.MediaID) ([]types.CastMember, error) {
	const q = `
		SELECT name, character, rank
		FROM   media_cast
		WHERE  kind = $1 AND media_id = $2
		ORDER  BY rank`

	rows, err := s.pool.Query(ctx, q, string(id.Kind), id.ID)
	if err != nil {
		return nil, fmt.Errorf("catalog: get cast %s: %w", id, err)
	}
	cast, err := pgx.CollectRows(rows, pgx.RowToStructByPos[types.CastMember])
	if err != nil {
		return nil, fmt.Errorf("catalog: get cast %s: scan rows: %w", id, err)
	}
	if cast == nil {
		cast = []types.CastMember{}
	}
	return cast, nil
}

// ── Write side ──────────────────────────────────────────────────────────────

// UpsertMedia implements [catalog.Writer]. The record and its cast are
// replaced in a single transaction.
func (s *Store) UpsertMedia(ctx context.Context, rec types.MediaRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO media (kind, id, title, year, genres, overview, poster_url, rating, runtime_minutes, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (kind, id) DO UPDATE SET
			    title           = EXCLUDED.title,
			    year            = EXCLUDED.year,
			    genres          = EXCLUDED.genres,
			    overview        = EXCLUDED.overview,
			    poster_url      = EXCLUDED.poster_url,
			    rating          = EXCLUDED.rating,
			    runtime_minutes = EXCLUDED.runtime_minutes,
			    updated_at      = now()`

		genres := rec.Genres
		if genres == nil {
			genres = []string{}
		}
		if _, err := tx.Exec(ctx, upsert,
			string(rec.ID.Kind), rec.ID.ID, rec.Title, rec.Year, genres,
			rec.Overview, rec.PosterURL, float32(rec.Rating), rec.RuntimeMinutes,
		); err != nil {
			return fmt.Errorf("catalog: upsert media %s: %w", rec.ID, err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM media_cast WHERE kind = $1 AND media_id = $2`, string(rec.ID.Kind), rec.ID.ID); err != nil {
			return fmt.Errorf("catalog: clear cast %s: %w", rec.ID, err)
		}
		if len(rec.Cast) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"media_cast"},
			[]string{"kind", "media_id", "rank", "name", "character"},
			pgx.CopyFromSlice(len(rec.Cast), func(i int) ([]any, error) {
				c := rec.Cast[i]
				return []any{string(rec.ID.Kind), rec.ID.ID, c.Rank, c.Name, c.Character}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("catalog: insert cast %s: %w", rec.ID, err)
		}
		return nil
	})
}

// ReplaceChunks implements [catalog.Writer].
func (s *Store) ReplaceChunks(ctx context.Context, id types.MediaID, chunks []catalog.ChunkInput) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transcript_chunks WHERE kind = $1 AND media_id = $2`, string(id.Kind), id.ID); err != nil {
			return fmt.Errorf("catalog: clear chunks %s: %w", id, err)
		}
		if len(chunks) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"transcript_chunks"},
			[]string{"kind", "media_id", "position", "content", "embedding"},
			pgx.CopyFromSlice(len(chunks), func(i int) ([]any, error) {
				c := chunks[i]
				return []any{string(id.Kind), id.ID, c.Position, c.Text, pgvector.NewVector(c.Embedding)}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("catalog: insert chunks %s: %w", id, err)
		}
		return nil
	})
}

// kindFilter renders a WHERE clause restricting kind, or "" when unrestricted.
func kindFilter(kinds []types.MediaKind, next func(any) string) string {
	if len(kinds) == 0 {
		return ""
	}
	return "WHERE kind = ANY(" + next(kindStrings(kinds)) + ")"
}

func kindStrings(kinds []types.MediaKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
