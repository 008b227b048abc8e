// Package pipeline drives one session's identification attempt.
//
// The [Orchestrator] waits for new transcript text, then runs a pass through
// a small state machine:
//
//	AwaitingEvidence → Retrieving → Filtering → Matching → (Boosting) →
//	Deciding → {Committed → ResolvingMetadata → Done | AwaitingEvidence | Abstained}
//
// Only one pass is in flight at a time. Deltas arriving during a pass
// coalesce into a single follow-up pass. The session ends on the first
// commit, when the pass or time budget is spent, when the transcript stream
// is exhausted without a commit, or when the caller cancels.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/reelscout/internal/decision"
	"github.com/MrWong99/reelscout/internal/evidence"
	"github.com/MrWong99/reelscout/internal/metadata"
	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/internal/rank"
	"github.com/MrWong99/reelscout/pkg/types"
)

// Evidence is the session's evidence source.
type Evidence interface {
	Snapshot() evidence.Evidence
	Exhausted() <-chan struct{}
}

// Retriever finds transcript chunks similar to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, kinds []types.MediaKind) ([]types.ScoredChunk, error)
}

// CastMatcher fills in cast corroboration for candidates.
type CastMatcher interface {
	Match(ctx context.Context, candidates []types.Candidate, observations []types.ActorObservation) ([]types.Candidate, error)
}

// Resolver turns a committed title into its display payload.
type Resolver interface {
	Resolve(ctx context.Context, id types.MediaID) (types.DisplayPayload, error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Retriever Retriever
	Matcher   CastMatcher
	Decider   decision.Decider
	Resolver  Resolver
}

// Config holds the per-session tunables.
type Config struct {
	// Kinds restricts retrieval to these media kinds. Empty means all.
	Kinds []types.MediaKind

	// TopK and MinScore configure candidate filtering.
	TopK     int
	MinScore float64

	// Boost enables the boosting stage with BoostWeight.
	Boost       bool
	BoostWeight float64

	// MaxPasses and MaxDuration bound the session. Zero disables a limit.
	MaxPasses   int
	MaxDuration time.Duration

	// ScoreWindow is how many recent top scores are handed to the decider.
	// Zero hands none.
	ScoreWindow int
}

// Option is a functional option for configuring an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics records pass and stage metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger sets the logger used for per-pass log lines.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.log = l
	}
}

// WithClock overrides the clock used for elapsed-time accounting.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator runs the pipeline for a single session. [Orchestrator.Run]
// must be called at most once; [Orchestrator.Trigger] may be called from any
// goroutine.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	ev      Evidence
	metrics *observe.Metrics
	log     *slog.Logger
	now     func() time.Time

	trigger chan struct{}

	// Owned by the Run goroutine.
	started      time.Time
	passes       int
	lastRevision uint64
	leader       types.MediaID
	streak       int
	positions    []int
	recentTop    []float64
}

// New returns an Orchestrator for the session whose evidence is ev.
func New(deps Deps, ev Evidence, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		ev:      ev,
		log:     slog.Default(),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Trigger schedules a pass. It never blocks; triggers issued while one is
// already pending are merged.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run drives passes until the session reaches a terminal outcome. Cancelling
// ctx yields a Cancelled outcome; reaching the configured maximum duration
// yields Abstained.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	o.started = o.now()
	runCtx := ctx
	if o.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.MaxDuration)
		defer cancel()
	}

	exhausted := o.ev.Exhausted()
	streamEnded := false
	for {
		if streamEnded && o.ev.Snapshot().Revision == o.lastRevision {
			return o.finish(ctx, Outcome{Kind: Abstained, Reason: "stream_exhausted"})
		}
		if !streamEnded {
			select {
			case <-runCtx.Done():
				return o.finish(ctx, o.stopped(ctx))
			case <-exhausted:
				streamEnded = true
				continue
			case <-o.trigger:
			}
		}

		if out, done := o.runPass(runCtx); done {
			return o.finish(ctx, out)
		}
		if runCtx.Err() != nil {
			return o.finish(ctx, o.stopped(ctx))
		}
		if o.cfg.MaxPasses > 0 && o.passes >= o.cfg.MaxPasses {
			return o.finish(ctx, Outcome{Kind: Abstained, Reason: decision.ReasonBudget})
		}
	}
}

// stopped classifies a done run context: the caller's cancellation wins over
// the session deadline.
func (o *Orchestrator) stopped(parent context.Context) Outcome {
	if parent.Err() != nil {
		return Outcome{Kind: Cancelled, Reason: "cancelled"}
	}
	return Outcome{Kind: Abstained, Reason: "timeout"}
}

func (o *Orchestrator) finish(ctx context.Context, out Outcome) Outcome {
	out.Passes = o.passes
	attrs := []any{
		"outcome", out.Kind.String(),
		"reason", out.Reason,
		"passes", out.Passes,
		"elapsed", o.now().Sub(o.started),
	}
	if out.Err != nil {
		attrs = append(attrs, "err", out.Err)
	}
	if out.Kind == Identified {
		attrs = append(attrs, "media", out.Payload.ID)
	}
	o.log.InfoContext(ctx, "pipeline finished", attrs...)
	return out
}

// pass carries the data of a single pipeline pass between states.
type pass struct {
	number     int
	state      State
	evidence   evidence.Evidence
	chunks     []types.ScoredChunk
	candidates []types.Candidate
	decision   types.Decision
	payload    types.DisplayPayload
}

// runPass executes one pass. It returns done=true with the session outcome
// when the pass reached a terminal state or hit an unrecoverable error.
func (o *Orchestrator) runPass(ctx context.Context) (Outcome, bool) {
	snap := o.ev.Snapshot()
	if snap.Revision == o.lastRevision {
		return Outcome{}, false
	}
	o.lastRevision = snap.Revision
	o.passes++

	p := &pass{number: o.passes, state: StateRetrieving, evidence: snap}
	start := o.now()
	ctx, span := observe.StartSpan(ctx, "pipeline.pass")
	span.SetAttributes(attribute.Int("pass", p.number), attribute.Int("transcript_words", snap.Words))
	defer span.End()

	var err error
	for !p.state.resting() {
		from := p.state
		stageStart := o.now()
		stageCtx, stageSpan := observe.StartSpan(ctx, "pipeline."+from.String())
		p.state, err = o.step(stageCtx, p)
		if err != nil {
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
		}
		stageSpan.End()
		if o.metrics != nil {
			o.metrics.RecordStage(ctx, from.String(), o.now().Sub(stageStart))
		}
		if err != nil {
			break
		}
	}

	elapsed := o.now().Sub(start)
	label, out, done := o.classify(ctx, p, err)
	span.SetAttributes(attribute.String("result", label))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if o.metrics != nil {
		o.metrics.RecordPass(ctx, label, elapsed)
	}

	attrs := []any{
		"pass", p.number,
		"result", label,
		"candidates", len(p.candidates),
		"words", snap.Words,
		"actors", len(snap.Observations),
		"duration", elapsed,
	}
	if len(p.candidates) > 0 {
		attrs = append(attrs, "top", p.candidates[0].Media.String(), "top_score", p.candidates[0].Effective())
	}
	if p.decision.Reason != "" {
		attrs = append(attrs, "reason", p.decision.Reason)
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	if id := observe.CorrelationID(ctx); id != "" {
		attrs = append(attrs, "trace_id", id)
	}
	o.log.InfoContext(ctx, "pipeline pass", attrs...)
	return out, done
}

// classify maps the end of a pass onto a metric label and, for terminal
// passes, the session outcome.
func (o *Orchestrator) classify(ctx context.Context, p *pass, err error) (string, Outcome, bool) {
	switch {
	case err != nil && ctx.Err() != nil:
		// The run loop decides between cancelled and timed out.
		return "interrupted", Outcome{}, false
	case errors.Is(err, metadata.ErrInternalInconsistency):
		return "failed", Outcome{Kind: Failed, Reason: "internal_inconsistency", Err: err}, true
	case err != nil:
		return "abandoned", Outcome{}, false
	case p.state == StateDone:
		return "identified", Outcome{Kind: Identified, Payload: p.payload, Reason: p.decision.Reason}, true
	case p.state == StateAbstained:
		return "abstained", Outcome{Kind: Abstained, Reason: p.decision.Reason}, true
	}
	return "continue", Outcome{}, false
}

// step runs the work of p.state and returns the next state.
func (o *Orchestrator) step(ctx context.Context, p *pass) (State, error) {
	switch p.state {
	case StateRetrieving:
		chunks, err := o.deps.Retriever.Retrieve(ctx, p.evidence.Transcript, o.cfg.Kinds)
		if err != nil {
			return p.state, err
		}
		p.chunks = chunks
		return StateFiltering, nil

	case StateFiltering:
		p.candidates = rank.Filter(p.chunks, rank.FilterOptions{TopK: o.cfg.TopK, MinScore: o.cfg.MinScore})
		return StateMatching, nil

	case StateMatching:
		if o.deps.Matcher != nil && len(p.candidates) > 0 {
			matched, err := o.deps.Matcher.Match(ctx, p.candidates, p.evidence.Observations)
			if err != nil {
				return p.state, err
			}
			p.candidates = matched
		}
		if o.cfg.Boost {
			return StateBoosting, nil
		}
		return StateDeciding, nil

	case StateBoosting:
		p.candidates = rank.Boost(p.candidates, o.cfg.BoostWeight)
		return StateDeciding, nil

	case StateDeciding:
		o.trackLeader(p.candidates)
		d, err := o.deps.Decider.Decide(ctx, p.candidates, decision.Summary{
			Transcript:   p.evidence.Transcript,
			Observations: p.evidence.Observations,
			Pass:         p.number,
			Elapsed:      o.now().Sub(o.started),
			MaxPasses:    o.cfg.MaxPasses,
			MaxDuration:  o.cfg.MaxDuration,
			Leader:       o.leader,
			Streak:       o.streak,

			LeaderPositions: slices.Clone(o.positions),
			RecentTop:       slices.Clone(o.recentTop),
		})
		if err != nil {
			return p.state, err
		}
		p.decision = d
		switch d.Outcome {
		case types.Committed:
			return StateCommitted, nil
		case types.Abstained:
			return StateAbstained, nil
		}
		return StateAwaitingEvidence, nil

	case StateCommitted:
		return StateResolvingMetadata, nil

	case StateResolvingMetadata:
		payload, err := o.deps.Resolver.Resolve(ctx, p.decision.Media)
		if err != nil {
			return p.state, err
		}
		p.payload = payload
		return StateDone, nil
	}
	return p.state, nil
}

// trackLeader updates the consecutive-lead streak, the leader's best-chunk
// positions and the recent top scores with this pass's candidates.
func (o *Orchestrator) trackLeader(candidates []types.Candidate) {
	var topScore float64
	if len(candidates) == 0 {
		o.leader, o.streak, o.positions = types.MediaID{}, 0, nil
	} else {
		top := candidates[0]
		topScore = top.Effective()
		if top.Media == o.leader {
			o.streak++
			o.positions = append(o.positions, top.BestChunk.Position)
		} else {
			o.leader, o.streak = top.Media, 1
			o.positions = []int{top.BestChunk.Position}
		}
	}

	if o.cfg.ScoreWindow > 0 {
		o.recentTop = append(o.recentTop, topScore)
		if over := len(o.recentTop) - o.cfg.ScoreWindow; over > 0 {
			o.recentTop = slices.Delete(o.recentTop, 0, over)
		}
	}
}
