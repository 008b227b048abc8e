// Command reelscout is the main entry point for the reelscout identification
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/reelscout/internal/app"
	"github.com/MrWong99/reelscout/internal/config"
	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/reelscout/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/reelscout/pkg/provider/embeddings/openai"
	"github.com/MrWong99/reelscout/pkg/provider/llm"
	"github.com/MrWong99/reelscout/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/reelscout/pkg/provider/llm/openai"
	"github.com/MrWong99/reelscout/pkg/provider/recognition"
	oarecognition "github.com/MrWong99/reelscout/pkg/provider/recognition/openai"
	"github.com/MrWong99/reelscout/pkg/provider/stt"
	"github.com/MrWong99/reelscout/pkg/provider/stt/deepgram"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload tunables when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reelscout: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reelscout: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("reelscout starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "reelscout",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config) {
			level.Set(slogLevel(next.Server.LogLevel))
			application.ApplyConfig(next)
		}, config.WithWatcherLogger(slog.Default()))
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with reelscout. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":         {"deepgram"},
	"recognition": {"openai"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings":  {"openai", "ollama"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// OpenAI goes through the official SDK; the rest share the any-llm
	// pattern of an optional APIKey and BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "ollama",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── Recognition ───────────────────────────────────────────────────────────

	reg.RegisterRecognition("openai", func(entry config.ProviderEntry) (recognition.Provider, error) {
		var opts []oarecognition.Option
		if entry.BaseURL != "" {
			opts = append(opts, oarecognition.WithBaseURL(entry.BaseURL))
		}
		if detail := optString(entry.Options, "detail"); detail != "" {
			opts = append(opts, oarecognition.WithDetail(detail))
		}
		return oarecognition.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every configured provider and its fallbacks.
// Each slot is wrapped in a resilience fallback so calls pass through a
// circuit breaker and are recorded in metrics.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	p := cfg.Providers

	if p.STT.Name != "" {
		primary, err := reg.CreateSTT(p.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", p.STT.Name, err)
		}
		f := resilience.NewSTTFallback(primary, p.STT.Name, fallbackConfig("stt", m))
		for _, fb := range p.STT.Fallbacks {
			if alt, err := reg.CreateSTT(fb); err != nil {
				slog.Warn("skipping stt fallback", "name", fb.Name, "err", err)
			} else {
				f.AddFallback(fb.Name, alt)
			}
		}
		ps.STT = f
		slog.Info("provider created", "kind", "stt", "name", p.STT.Name, "fallbacks", len(p.STT.Fallbacks))
	}

	if p.Recognition.Name != "" {
		primary, err := reg.CreateRecognition(p.Recognition)
		if err != nil {
			return nil, fmt.Errorf("create recognition provider %q: %w", p.Recognition.Name, err)
		}
		f := resilience.NewRecognitionFallback(primary, p.Recognition.Name, fallbackConfig("recognition", m))
		for _, fb := range p.Recognition.Fallbacks {
			if alt, err := reg.CreateRecognition(fb); err != nil {
				slog.Warn("skipping recognition fallback", "name", fb.Name, "err", err)
			} else {
				f.AddFallback(fb.Name, alt)
			}
		}
		ps.Recognition = f
		slog.Info("provider created", "kind", "recognition", "name", p.Recognition.Name, "fallbacks", len(p.Recognition.Fallbacks))
	}

	if p.LLM.Name != "" {
		primary, err := reg.CreateLLM(p.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", p.LLM.Name, err)
		}
		f := resilience.NewLLMFallback(primary, p.LLM.Name, fallbackConfig("llm", m))
		for _, fb := range p.LLM.Fallbacks {
			if alt, err := reg.CreateLLM(fb); err != nil {
				slog.Warn("skipping llm fallback", "name", fb.Name, "err", err)
			} else {
				f.AddFallback(fb.Name, alt)
			}
		}
		ps.LLM = f
		slog.Info("provider created", "kind", "llm", "name", p.LLM.Name, "fallbacks", len(p.LLM.Fallbacks))
	}

	if p.Embeddings.Name != "" {
		primary, err := reg.CreateEmbeddings(p.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", p.Embeddings.Name, err)
		}
		f := resilience.NewEmbeddingsFallback(primary, p.Embeddings.Name, fallbackConfig("embeddings", m))
		for _, fb := range p.Embeddings.Fallbacks {
			alt, err := reg.CreateEmbeddings(fb)
			switch {
			case err != nil:
				slog.Warn("skipping embeddings fallback", "name", fb.Name, "err", err)
			case alt.Dimensions() != primary.Dimensions():
				// Vectors from a different space would not match the index.
				slog.Warn("skipping embeddings fallback", "name", fb.Name,
					"dimensions", alt.Dimensions(), "want", primary.Dimensions())
			default:
				f.AddFallback(fb.Name, alt)
			}
		}
		ps.Embeddings = f
		slog.Info("provider created", "kind", "embeddings", "name", p.Embeddings.Name, "model", primary.ModelID())
	}

	return ps, nil
}

// fallbackConfig returns the breaker settings shared by every provider slot
// of the given kind.
func fallbackConfig(kind string, m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("circuit breaker state change", "kind", kind, "provider", name, "from", from, "to", to)
				m.RecordCircuitTransition(context.Background(), kind+"/"+name, to.String())
			},
		},
		OnCall: func(name string, start time.Time, err error) {
			m.RecordProviderCall(context.Background(), name, kind, start, err)
		},
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        reelscout startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Recognition", cfg.Providers.Recognition.Name, cfg.Providers.Recognition.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Printf("║  Decision        : %-19s ║\n", cfg.Decision.Strategy)
	fmt.Printf("║  Cast matcher    : %-19s ║\n", cfg.Cast.Matcher)
	if cfg.Session.MaxSessions > 0 {
		fmt.Printf("║  Max sessions    : %-19d ║\n", cfg.Session.MaxSessions)
	} else {
		fmt.Printf("║  Max sessions    : %-19s ║\n", "(unlimited)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer from a provider Options map. YAML decodes
// numbers as int, but float64 is accepted too.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
