package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/reelscout/internal/config"
	"github.com/MrWong99/reelscout/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/reelscout/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/reelscout/pkg/provider/embeddings/openai"
)

// commandContext carries the persistent flags shared by every subcommand.
type commandContext struct {
	configPath  string
	catalogPath string
	verbose     bool
}

func (c *commandContext) loadConfig() (*config.Config, error) {
	return config.Load(c.configPath)
}

func (c *commandContext) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "reelscout-ingest",
		Short:         "Load titles and transcripts into the reelscout catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.catalogPath, "catalog", "catalog.yaml", "Title catalog file path")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newLoadCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newPreviewCommand(ctx))

	return rootCmd
}

// newEmbedder builds the embeddings provider named in entry. The ingest
// tool talks to a single backend: fallbacks would mix vector spaces.
func newEmbedder(entry config.ProviderEntry) (embeddings.Provider, error) {
	dims, _ := entry.Options["dimensions"].(int)
	switch entry.Name {
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		var opts []ollamaembed.Option
		if dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unsupported embeddings provider %q", entry.Name)
	}
}
