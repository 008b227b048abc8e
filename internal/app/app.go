// Package app wires all reelscout subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithCatalog, WithMetrics). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/reelscout/internal/castmatch"
	"github.com/MrWong99/reelscout/internal/config"
	"github.com/MrWong99/reelscout/internal/health"
	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/internal/session"
	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/catalog/postgres"
	"github.com/MrWong99/reelscout/pkg/provider/embeddings"
	"github.com/MrWong99/reelscout/pkg/provider/llm"
	"github.com/MrWong99/reelscout/pkg/provider/recognition"
	"github.com/MrWong99/reelscout/pkg/provider/stt"
)

// Routes served by [App.Handler].
const (
	RouteIdentify       = "GET /ws/identify"
	RouteIdentifyLegacy = "GET /api/v1/ws/identify"
	RouteMetrics        = "GET /metrics"
)

const readHeaderTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	STT         stt.Provider
	Recognition recognition.Provider
	LLM         llm.Provider
	Embeddings  embeddings.Provider
}

// Catalog is what the running service needs from the title catalog.
type Catalog interface {
	catalog.ChunkIndex
	catalog.MediaStore
	health.Pinger
}

// App owns all subsystem lifetimes and serves the identification endpoint.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	// Subsystems: initialised in New, torn down in Shutdown.
	catalog  Catalog
	rosters  *castmatch.RosterCache
	metrics  *observe.Metrics
	sessions *session.Manager
	health   *health.Handler
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCatalog injects a catalog instead of connecting to PostgreSQL.
func WithCatalog(c Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics injects the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an stt provider is required")
	}
	if providers.Embeddings == nil {
		return nil, errors.New("app: an embeddings provider is required")
	}

	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}
	a.rosters = castmatch.NewRosterCache()

	// ── 2. Session manager ───────────────────────────────────────────────
	a.sessions = session.NewManager(a.newPipeline,
		session.Config{
			QueueSize:   cfg.Session.QueueSize,
			MaxSessions: cfg.Session.MaxSessions,
		},
		session.WithMetrics(a.metrics),
	)

	// ── 3. Health ────────────────────────────────────────────────────────
	a.health = health.New(health.PingChecker("catalog", a.catalog))

	if providers.Recognition == nil {
		slog.Warn("no recognition provider configured, frames are ignored")
	}
	if cfg.Decision.Strategy == config.StrategyAssisted && providers.LLM == nil {
		slog.Warn("assisted decision strategy without an llm provider, using deterministic rules")
	}
	return a, nil
}

// initCatalog connects to the PostgreSQL catalog unless one was injected.
func (a *App) initCatalog(ctx context.Context) error {
	if a.catalog != nil {
		return nil
	}
	c := a.Config().Catalog
	if c.PostgresDSN == "" {
		return errors.New("catalog.postgres_dsn is required when no catalog is injected")
	}
	store, err := postgres.NewStore(ctx, c.PostgresDSN, c.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.catalog = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// ─── Configuration ───────────────────────────────────────────────────────────

// Config returns the active configuration snapshot. Callers must not modify
// it.
func (a *App) Config() *config.Config {
	return a.cfg.Load()
}

// ApplyConfig makes cfg's tunables effective for sessions opened from now
// on. Settings that need a restart are logged and ignored; open sessions
// keep the tunables they started with.
func (a *App) ApplyConfig(cfg *config.Config) {
	old := a.Config()
	d := config.Diff(old, cfg)
	for _, field := range d.RestartRequired {
		slog.Warn("config change requires a restart", "field", field)
	}
	if !d.TuningChanged() {
		return
	}

	next := *old
	next.Catalog = cfg.Catalog
	next.Catalog.PostgresDSN = old.Catalog.PostgresDSN
	next.Catalog.EmbeddingDimensions = old.Catalog.EmbeddingDimensions
	next.Recognition = cfg.Recognition
	next.Cast = cfg.Cast
	next.Decision = cfg.Decision
	next.Pipeline = cfg.Pipeline
	// Queue size and the session cap belong to the manager built in New.
	next.Session.SampleRate = cfg.Session.SampleRate
	next.Session.Language = cfg.Session.Language
	next.Server.LogLevel = cfg.Server.LogLevel
	a.cfg.Store(&next)
	slog.Info("config tunables applied", "sections", d.Tuning)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving the identification websocket,
// health checks and metrics, wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	cfg := a.Config()
	ws := session.Handler(a.sessions, session.HandlerConfig{
		MaxFrameBytes:  cfg.Recognition.MaxFrameBytes,
		OriginPatterns: cfg.Server.AllowedOrigins,
	})

	mux := http.NewServeMux()
	mux.Handle(RouteIdentify, ws)
	mux.Handle(RouteIdentifyLegacy, ws)
	mux.Handle(RouteMetrics, observe.MetricsHandler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	cfg := a.Config()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("app running", "listen_addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order: readiness drains first, then
// the HTTP listener stops, open sessions receive a final result, and the
// closers run. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Len(), "closers", len(a.closers))
		a.health.SetDraining(true)

		if a.server != nil {
			// Hijacked websocket connections are not tracked by the server;
			// the session manager ends them below.
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}
		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("sessions did not stop in time", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
