// Package retrieval implements hybrid transcript search: a query is matched
// against the chunk index both semantically (by embedding) and lexically (by
// full-text relevance), and the two ranked lists are fused into one.
//
// Two fusion modes are available. [FusionLinear] blends the raw scores with
// fixed weights. [FusionRRF] uses reciprocal rank fusion, which ignores the
// score scales and only looks at each chunk's position in each list.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/provider/embeddings"
	"github.com/MrWong99/reelscout/pkg/types"
)

// Fusion selects how semantic and lexical results are combined.
type Fusion string

const (
	FusionLinear Fusion = "linear"
	FusionRRF    Fusion = "rrf"
)

// Options tunes a [Retriever]. Zero values fall back to the defaults noted
// on each field.
type Options struct {
	// Limit caps the number of chunks fetched per search and returned after
	// fusion. Default: 20.
	Limit int

	// MinQueryWords is the shortest query worth searching. Default: 3.
	MinQueryWords int

	// WindowWords bounds the query to its trailing words. Default: 200.
	WindowWords int

	// Fusion selects the fusion mode. Default: FusionLinear.
	Fusion Fusion

	// SemanticWeight and LexicalWeight are the linear fusion weights.
	// Defaults: 0.7 and 0.3. They are only defaulted when both are zero.
	SemanticWeight float64
	LexicalWeight  float64

	// VectorPenalty and FulltextPenalty are the rank offsets of reciprocal
	// rank fusion. Defaults: 30 and 20.
	VectorPenalty   int
	FulltextPenalty int

	// Retry configures retries of each collaborator call. By default every
	// call is attempted once.
	Retry resilience.RetryConfig
}

func (o Options) withDefaults() Options {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.MinQueryWords <= 0 {
		o.MinQueryWords = 3
	}
	if o.WindowWords <= 0 {
		o.WindowWords = 200
	}
	if o.Fusion == "" {
		o.Fusion = FusionLinear
	}
	if o.SemanticWeight == 0 && o.LexicalWeight == 0 {
		o.SemanticWeight, o.LexicalWeight = 0.7, 0.3
	}
	if o.VectorPenalty <= 0 {
		o.VectorPenalty = 30
	}
	if o.FulltextPenalty <= 0 {
		o.FulltextPenalty = 20
	}
	if o.Retry.Attempts == 0 {
		o.Retry.Attempts = 1
	}
	return o
}

// Retriever runs hybrid searches. It is safe for concurrent use.
type Retriever struct {
	embedder embeddings.Provider
	index    catalog.ChunkIndex
	opts     Options
}

// New returns a Retriever embedding queries with embedder and searching index.
func New(embedder embeddings.Provider, index catalog.ChunkIndex, opts Options) *Retriever {
	return &Retriever{embedder: embedder, index: index, opts: opts.withDefaults()}
}

// Retrieve returns the fused hits for query restricted to kinds (all kinds
// when empty), best first. Scores are never negative.
//
// Queries shorter than the configured minimum yield an empty result without
// calling any collaborator. Longer queries are cut to their trailing window.
func (r *Retriever) Retrieve(ctx context.Context, query string, kinds []types.MediaKind) ([]types.ScoredChunk, error) {
	words := strings.Fields(query)
	if len(words) < r.opts.MinQueryWords {
		return nil, nil
	}
	if len(words) > r.opts.WindowWords {
		words = words[len(words)-r.opts.WindowWords:]
	}
	q := strings.Join(words, " ")

	embedRetry := r.opts.Retry
	embedRetry.Name = "embeddings"
	vec, err := resilience.RetryWithResult(ctx, embedRetry, func(ctx context.Context) ([]float32, error) {
		return r.embedder.Embed(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	searchOpts := catalog.SearchOpts{Kinds: kinds, Limit: r.opts.Limit}
	var semantic, lexical []types.ScoredChunk

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg := r.opts.Retry
		cfg.Name = "semantic_search"
		res, err := resilience.RetryWithResult(gctx, cfg, func(ctx context.Context) ([]types.ScoredChunk, error) {
			return r.index.SemanticSearch(ctx, vec, searchOpts)
		})
		if err != nil {
			return fmt.Errorf("retrieval: semantic search: %w", err)
		}
		semantic = res
		return nil
	})
	g.Go(func() error {
		cfg := r.opts.Retry
		cfg.Name = "lexical_search"
		res, err := resilience.RetryWithResult(gctx, cfg, func(ctx context.Context) ([]types.ScoredChunk, error) {
			return r.index.LexicalSearch(ctx, q, searchOpts)
		})
		if err != nil {
			return fmt.Errorf("retrieval: lexical search: %w", err)
		}
		lexical = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fused []types.ScoredChunk
	switch r.opts.Fusion {
	case FusionRRF:
		fused = fuseRRF(semantic, lexical, r.opts.VectorPenalty, r.opts.FulltextPenalty)
	default:
		fused = fuseLinear(semantic, lexical, r.opts.SemanticWeight, r.opts.LexicalWeight)
	}
	if len(fused) > r.opts.Limit {
		fused = fused[:r.opts.Limit]
	}
	return fused, nil
}

// ── Fusion ──────────────────────────────────────────────────────────────────

// accumulator sums per-chunk contributions across result lists while
// remembering first-seen order.
type accumulator struct {
	index map[int64]int
	hits  []types.ScoredChunk
}

func newAccumulator(n int) *accumulator {
	return &accumulator{index: make(map[int64]int, n), hits: make([]types.ScoredChunk, 0, n)}
}

func (a *accumulator) add(c types.TranscriptChunk, score float64) {
	if i, ok := a.index[c.ID]; ok {
		a.hits[i].Score += score
		return
	}
	a.index[c.ID] = len(a.hits)
	a.hits = append(a.hits, types.ScoredChunk{Chunk: c, Score: score})
}

func (a *accumulator) sorted() []types.ScoredChunk {
	for i := range a.hits {
		a.hits[i].Score = max(a.hits[i].Score, 0)
	}
	sortHits(a.hits)
	return a.hits
}

// fuseLinear scores every chunk as ws*semantic + wl*lexical, where a chunk
// missing from a list contributes 0 for that list.
func fuseLinear(semantic, lexical []types.ScoredChunk, ws, wl float64) []types.ScoredChunk {
	acc := newAccumulator(len(semantic) + len(lexical))
	for _, h := range semantic {
		acc.add(h.Chunk, ws*max(h.Score, 0))
	}
	for _, h := range lexical {
		acc.add(h.Chunk, wl*max(h.Score, 0))
	}
	return acc.sorted()
}

// fuseRRF scores every chunk as the sum of 1/(penalty+rank) over the lists
// it appears in. rank is 1-based.
func fuseRRF(semantic, lexical []types.ScoredChunk, vectorPenalty, fulltextPenalty int) []types.ScoredChunk {
	acc := newAccumulator(len(semantic) + len(lexical))
	for i, h := range semantic {
		acc.add(h.Chunk, 1/float64(vectorPenalty+i+1))
	}
	for i, h := range lexical {
		acc.add(h.Chunk, 1/float64(fulltextPenalty+i+1))
	}
	return acc.sorted()
}

// sortHits orders by score descending, then by newer InsertedAt, then by
// ascending chunk ID.
func sortHits(hits []types.ScoredChunk) {
	slices.SortFunc(hits, func(a, b types.ScoredChunk) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			b.Chunk.InsertedAt.Compare(a.Chunk.InsertedAt),
			cmp.Compare(a.Chunk.ID, b.Chunk.ID),
		)
	})
}
