// Package catalog defines the read and write interfaces of the title catalog:
// descriptive media records, billed cast rosters, and the transcript chunk
// index used by hybrid retrieval.
//
// The interfaces are split by consumer. The identification pipeline only
// reads ([ChunkIndex], [MediaStore]); the ingest tool writes ([Writer]).
package catalog

import (
	"context"
	"errors"

	"github.com/MrWong99/reelscout/pkg/types"
)

// ErrNotFound is returned when a media record does not exist.
var ErrNotFound = errors.New("catalog: not found")

// SearchOpts narrows a chunk search.
type SearchOpts struct {
	// Kinds restricts results to the given media kinds. Empty means all kinds.
	Kinds []types.MediaKind

	// Limit caps the number of returned chunks. Must be positive.
	Limit int
}

// ChunkIndex is the transcript chunk index. Both searches return chunks in
// descending score order with non-negative scores.
type ChunkIndex interface {
	// SemanticSearch ranks chunks by cosine similarity to embedding.
	// Scores are in [0, 1].
	SemanticSearch(ctx context.Context, embedding []float32, opts SearchOpts) ([]types.ScoredChunk, error)

	// LexicalSearch ranks chunks by full-text relevance to query.
	// Scores are in [0, 1).
	LexicalSearch(ctx context.Context, query string, opts SearchOpts) ([]types.ScoredChunk, error)
}

// MediaStore serves descriptive records and cast rosters.
type MediaStore interface {
	// Media returns the record for id, or an error wrapping [ErrNotFound].
	Media(ctx context.Context, id types.MediaID) (types.MediaRecord, error)

	// Cast returns the billed cast for id ordered by rank. A title without
	// cast data yields an empty slice and a nil error.
	Cast(ctx context.Context, id types.MediaID) ([]types.CastMember, error)
}

// ChunkInput is one pre-embedded transcript chunk to be written.
type ChunkInput struct {
	Position  int
	Text      string
	Embedding []float32
}

// Writer populates the catalog.
type Writer interface {
	// UpsertMedia inserts or replaces rec together with its cast.
	UpsertMedia(ctx context.Context, rec types.MediaRecord) error

	// ReplaceChunks atomically replaces all transcript chunks of id.
	ReplaceChunks(ctx context.Context, id types.MediaID, chunks []ChunkInput) error
}
