package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/reelscout/internal/castmatch"
	"github.com/MrWong99/reelscout/internal/config"
	"github.com/MrWong99/reelscout/internal/decision"
	"github.com/MrWong99/reelscout/internal/evidence"
	"github.com/MrWong99/reelscout/internal/metadata"
	"github.com/MrWong99/reelscout/internal/pipeline"
	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/internal/retrieval"
	"github.com/MrWong99/reelscout/internal/session"
	"github.com/MrWong99/reelscout/pkg/provider/recognition"
	"github.com/MrWong99/reelscout/pkg/provider/stt"
	"github.com/MrWong99/reelscout/pkg/types"
)

// identification binds one session's evidence accumulator to its
// orchestrator. It implements [session.Pipeline].
type identification struct {
	acc  *evidence.Accumulator
	orch *pipeline.Orchestrator
}

func (i *identification) IngestAudio(ctx context.Context, chunk []byte) error {
	return i.acc.IngestAudio(ctx, chunk)
}

// IngestFrame drops the per-frame observations; the orchestrator reads them
// from the next snapshot. Empty frames are not worth a warning.
func (i *identification) IngestFrame(ctx context.Context, frame []byte) error {
	_, err := i.acc.IngestFrame(ctx, frame)
	if err != nil && !errors.Is(err, recognition.ErrEmptyFrame) {
		return err
	}
	return nil
}

func (i *identification) Run(ctx context.Context) pipeline.Outcome { return i.orch.Run(ctx) }

func (i *identification) Close() error { return i.acc.Close() }

// newPipeline builds the pipeline for session id from the tunables current at
// the time the session opens. Reloaded tunables only affect later sessions.
func (a *App) newPipeline(id session.ID) session.Pipeline {
	cfg := a.Config()
	log := slog.Default().With("session_id", string(id))

	acc := evidence.New(a.providers.STT, a.providers.Recognition,
		evidence.WithStreamConfig(stt.StreamConfig{
			SampleRate: cfg.Session.SampleRate,
			Channels:   1,
			Language:   cfg.Session.Language,
		}),
		evidence.WithConfidenceFloor(cfg.Recognition.ConfidenceFloor),
		evidence.WithMaxFrameRate(cfg.Recognition.MaxFramesPerSecond),
		evidence.WithRetry(a.retryConfig(cfg, "recognition")),
		evidence.WithReconnect(evidence.ReconnectConfig{
			MaxRetries: cfg.Pipeline.STTReconnects,
			Backoff:    cfg.Pipeline.RetryBaseDelay,
		}),
	)

	orch := pipeline.New(a.pipelineDeps(cfg), acc, a.pipelineConfig(cfg),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(log),
	)
	acc.OnDelta(orch.Trigger)
	return &identification{acc: acc, orch: orch}
}

// pipelineDeps assembles the stage collaborators for cfg. They are cheap
// wrappers around the shared providers, catalog and roster cache.
func (a *App) pipelineDeps(cfg *config.Config) pipeline.Deps {
	c := cfg.Catalog
	retriever := retrieval.New(a.providers.Embeddings, a.catalog, retrieval.Options{
		Limit:           c.SearchLimit,
		MinQueryWords:   c.MinQueryWords,
		WindowWords:     c.QueryWindowWords,
		Fusion:          retrieval.Fusion(c.Fusion),
		SemanticWeight:  c.SemanticWeight,
		LexicalWeight:   c.LexicalWeight,
		VectorPenalty:   c.VectorPenalty,
		FulltextPenalty: c.FulltextPenalty,
		Retry:           a.retryConfig(cfg, "retrieval"),
	})

	var identity castmatch.Identity = castmatch.Lookup{}
	if cfg.Cast.Matcher == config.MatcherFuzzy {
		identity = castmatch.NewFuzzy(cfg.Cast.FuzzyThreshold)
	}
	matcher := castmatch.New(a.catalog, identity,
		castmatch.WithBilling(cfg.Cast.TopBilled, cfg.Cast.TopBilledWeight, cfg.Cast.SupportingWeight),
		castmatch.WithCache(a.rosters),
		castmatch.WithRetry(a.retryConfig(cfg, "cast")),
	)

	d := cfg.Decision
	rules := decision.Rules{
		Floor:       d.Floor,
		Margin:      d.Margin,
		MinStreak:   d.MinStreak,
		AcceptScore: d.AcceptScore,

		MinContinuity:  d.MinContinuity,
		PositionMargin: d.PositionMargin,
		Window:         d.Window,
	}
	var decider decision.Decider = decision.NewDeterministic(rules)
	if a.assisted(cfg) {
		decider = decision.NewAssisted(a.providers.LLM, rules,
			decision.WithLimits(d.MaxCandidates, d.MaxTranscriptChars),
			decision.WithTemperature(d.Temperature),
			decision.WithRetry(a.retryConfig(cfg, "llm")),
		)
	}

	resolver := metadata.New(a.catalog, metadata.WithRetry(a.retryConfig(cfg, "metadata")))

	return pipeline.Deps{
		Retriever: retriever,
		Matcher:   matcher,
		Decider:   decider,
		Resolver:  resolver,
	}
}

// assisted reports whether sessions under cfg use the LLM-assisted decider.
// Without an LLM provider the deterministic rules apply.
func (a *App) assisted(cfg *config.Config) bool {
	return cfg.Decision.Strategy == config.StrategyAssisted && a.providers.LLM != nil
}

func (a *App) pipelineConfig(cfg *config.Config) pipeline.Config {
	var kinds []types.MediaKind
	if len(cfg.Catalog.Kinds) > 0 {
		kinds = append(kinds, cfg.Catalog.Kinds...)
	}
	return pipeline.Config{
		Kinds:       kinds,
		TopK:        cfg.Catalog.TopK,
		MinScore:    cfg.Catalog.MinScore,
		Boost:       !a.assisted(cfg),
		BoostWeight: cfg.Decision.BoostWeight,
		MaxPasses:   cfg.Pipeline.MaxPasses,
		MaxDuration: cfg.Pipeline.MaxDuration,
		ScoreWindow: cfg.Decision.Window,
	}
}

// retryConfig is the bounded backoff applied to every collaborator call.
func (a *App) retryConfig(cfg *config.Config, op string) resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:      op,
		Attempts:  cfg.Pipeline.RetryAttempts,
		BaseDelay: cfg.Pipeline.RetryBaseDelay,
		OnRetry: func(int, error) {
			a.metrics.RecordRetry(context.Background(), op)
		},
	}
}
