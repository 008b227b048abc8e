package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/reelscout/internal/ingest"
	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/catalog/postgres"
)

func newLoadCommand(ctx *commandContext) *cobra.Command {
	var (
		chunkWords  int
		batchSize   int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Embed and write every title of the catalog file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			file, err := ingest.LoadFile(ctx.catalogPath)
			if err != nil {
				return err
			}
			log := ctx.logger(cmd)

			embedder, err := newEmbedder(cfg.Providers.Embeddings)
			if err != nil {
				return fmt.Errorf("create embeddings provider: %w", err)
			}
			if d := embedder.Dimensions(); d != cfg.Catalog.EmbeddingDimensions {
				return fmt.Errorf("embeddings model %q has %d dimensions, catalog expects %d",
					embedder.ModelID(), d, cfg.Catalog.EmbeddingDimensions)
			}

			// NewStore runs the schema migration.
			store, err := postgres.NewStore(cmd.Context(), cfg.Catalog.PostgresDSN, cfg.Catalog.EmbeddingDimensions)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer store.Close()

			in := ingest.New(embedder, store, ingest.Options{
				ChunkWords:  chunkWords,
				BatchSize:   batchSize,
				Dimensions:  cfg.Catalog.EmbeddingDimensions,
				Concurrency: concurrency,
				Retry: resilience.RetryConfig{
					Name:      "embeddings",
					Attempts:  cfg.Pipeline.RetryAttempts,
					BaseDelay: cfg.Pipeline.RetryBaseDelay,
				},
				Logger: log,
			})

			start := time.Now()
			log.Info("ingesting catalog", "catalog", ctx.catalogPath, "titles", len(file.Titles), "chunk_words", chunkWords)
			res, err := in.Run(cmd.Context(), file)
			log.Info("ingest finished",
				"titles", res.Titles,
				"chunks", res.Chunks,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d titles (%d chunks)\n", res.Titles, res.Chunks)
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkWords, "chunk-words", ingest.DefaultChunkWords, "Words per transcript chunk")
	cmd.Flags().IntVar(&batchSize, "batch-size", ingest.DefaultBatchSize, "Chunks per embeddings request")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "Titles ingested in parallel")
	return cmd
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the catalog schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			store, err := postgres.NewStore(cmd.Context(), cfg.Catalog.PostgresDSN, cfg.Catalog.EmbeddingDimensions)
			if err != nil {
				return fmt.Errorf("migrate catalog: %w", err)
			}
			store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog schema ready (%d dimensions)\n", cfg.Catalog.EmbeddingDimensions)
			return nil
		},
	}
}
