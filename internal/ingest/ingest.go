package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/provider/embeddings"
)

// DefaultBatchSize is the number of chunks embedded per EmbedBatch call.
const DefaultBatchSize = 100

// Options configures an [Ingester]. Zero values take defaults.
type Options struct {
	// ChunkWords is the chunk window size in words.
	ChunkWords int

	// BatchSize caps the texts per embeddings request.
	BatchSize int

	// Dimensions, when positive, is the vector size the catalog expects.
	// Embeddings of any other size fail the title.
	Dimensions int

	// Concurrency is the number of titles processed in parallel. Default: 1.
	Concurrency int

	// Retry wraps every embeddings call.
	Retry resilience.RetryConfig

	Logger *slog.Logger
}

// Ingester writes catalog titles and their embedded transcript chunks.
type Ingester struct {
	embedder embeddings.Provider
	writer   catalog.Writer
	opts     Options
}

// Result summarises one [Ingester.Run].
type Result struct {
	Titles int
	Chunks int
}

// New creates an Ingester.
func New(embedder embeddings.Provider, writer catalog.Writer, opts Options) *Ingester {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = DefaultChunkWords
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Retry.Name == "" {
		opts.Retry.Name = "embeddings"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingester{embedder: embedder, writer: writer, opts: opts}
}

// Run ingests every title in f. The first failure cancels the remaining
// work and is returned; titles already written stay written.
func (in *Ingester) Run(ctx context.Context, f *File) (Result, error) {
	counts := make([]int, len(f.Titles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.opts.Concurrency)
	for i, t := range f.Titles {
		g.Go(func() error {
			n, err := in.Title(gctx, t)
			counts[i] = n
			return err
		})
	}
	err := g.Wait()

	var res Result
	for _, n := range counts {
		if n > 0 {
			res.Titles++
			res.Chunks += n
		}
	}
	return res, err
}

// Title writes one title and replaces its chunks. It returns the number of
// chunks written.
func (in *Ingester) Title(ctx context.Context, t Title) (int, error) {
	id := t.MediaID()
	text, err := t.Dialogue()
	if err != nil {
		return 0, err
	}
	texts := Chunk(text, in.opts.ChunkWords)
	if len(texts) == 0 {
		return 0, fmt.Errorf("ingest: %s has no dialogue", id)
	}

	vectors, err := in.embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("ingest: embed %s: %w", id, err)
	}
	chunks := make([]catalog.ChunkInput, len(texts))
	for i, text := range texts {
		chunks[i] = catalog.ChunkInput{Position: i, Text: text, Embedding: vectors[i]}
	}

	if err := in.writer.UpsertMedia(ctx, t.Record()); err != nil {
		return 0, fmt.Errorf("ingest: upsert %s: %w", id, err)
	}
	if err := in.writer.ReplaceChunks(ctx, id, chunks); err != nil {
		return 0, fmt.Errorf("ingest: write chunks of %s: %w", id, err)
	}
	in.opts.Logger.Info("title ingested", "media_id", id.String(), "title", t.Title, "chunks", len(chunks))
	return len(chunks), nil
}

// embed embeds texts in batches of at most BatchSize, preserving order.
func (in *Ingester) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += in.opts.BatchSize {
		batch := texts[start:min(start+in.opts.BatchSize, len(texts))]
		vectors, err := resilience.RetryWithResult(ctx, in.opts.Retry, func(ctx context.Context) ([][]float32, error) {
			return in.embedder.EmbedBatch(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("got %d vectors for %d texts", len(vectors), len(batch))
		}
		for _, v := range vectors {
			if in.opts.Dimensions > 0 && len(v) != in.opts.Dimensions {
				return nil, fmt.Errorf("vector has %d dimensions, catalog expects %d", len(v), in.opts.Dimensions)
			}
		}
		out = append(out, vectors...)
	}
	return out, nil
}
