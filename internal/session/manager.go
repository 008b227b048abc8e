// Package session manages live identification sessions.
//
// A [Manager] owns every open session. Each session has a bounded inbound
// queue drained by one worker goroutine, so audio and frames are ingested in
// arrival order, and one goroutine running the session's [Pipeline]. The
// manager sends exactly one result per session and then closes the
// connection. A peer that disconnects first gets nothing.
//
// The websocket transport in ws.go is the only production [Conn]; tests
// drive the manager directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/reelscout/internal/evidence"
	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/internal/pipeline"
)

const (
	defaultQueueSize = 64

	// sendTimeout bounds delivery of the final result to a slow peer.
	sendTimeout = 5 * time.Second
)

// ID identifies a session. It is a random (v4) UUID string.
type ID string

// Conn is the server side of one client connection. Implementations must be
// safe for concurrent use.
type Conn interface {
	// Send writes one message to the peer.
	Send(ctx context.Context, msg Outbound) error

	// Close ends the connection. reason is informational.
	Close(reason string) error
}

// Pipeline is one session's identification machinery: the evidence
// accumulator and the orchestrator that consumes it.
type Pipeline interface {
	IngestAudio(ctx context.Context, chunk []byte) error
	IngestFrame(ctx context.Context, frame []byte) error

	// Run blocks until the session reaches a terminal outcome.
	Run(ctx context.Context) pipeline.Outcome

	// Close releases the pipeline's resources. Safe to call more than once.
	Close() error
}

// PipelineFactory builds the pipeline for a new session.
type PipelineFactory func(id ID) Pipeline

// Config tunes the [Manager].
type Config struct {
	// QueueSize bounds each session's inbound queue.
	QueueSize int

	// MaxSessions caps concurrent sessions. Zero means no cap.
	MaxSessions int
}

// Option is a functional option for configuring a [Manager].
type Option func(*Manager)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(mgr *Manager) {
		mgr.log = l
	}
}

// Manager tracks open sessions. All exported methods are safe for concurrent
// use.
type Manager struct {
	newPipeline PipelineFactory
	cfg         Config
	metrics     *observe.Metrics
	log         *slog.Logger

	mu       sync.Mutex
	sessions map[ID]*session
	wg       sync.WaitGroup
}

// NewManager creates a Manager that builds one pipeline per session with
// newPipeline.
func NewManager(newPipeline PipelineFactory, cfg Config, opts ...Option) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	m := &Manager{
		newPipeline: newPipeline,
		cfg:         cfg,
		sessions:    make(map[ID]*session),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

type session struct {
	id      ID
	conn    Conn
	pipe    Pipeline
	queue   chan Inbound
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	seq     atomic.Uint64
	endOnce sync.Once
}

// Open registers a session for conn and starts its goroutines. The session
// lives until it produces a result, [Manager.Close] is called, or ctx is
// cancelled.
func (m *Manager) Open(ctx context.Context, conn Conn) (ID, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.metrics.RecordRejection(ctx, "max_sessions")
		return "", ErrTooManySessions
	}
	id := ID(uuid.NewString())
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:      id,
		conn:    conn,
		pipe:    m.newPipeline(id),
		queue:   make(chan Inbound, m.cfg.QueueSize),
		ctx:     sctx,
		cancel:  cancel,
		started: time.Now(),
	}
	m.sessions[id] = s
	m.wg.Add(2)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	m.log.Info("session started", "session_id", id)

	go m.work(s)
	go m.run(s)
	return id, nil
}

// Dispatch hands one inbound message to session id. Pings are answered
// immediately; audio and frames are queued. A full queue ends the session
// with a capacity error and returns [ErrCapacityExceeded].
func (m *Manager) Dispatch(id ID, msg Inbound) error {
	s := m.lookup(id)
	if s == nil {
		return ErrUnknownSession
	}
	msg.Seq = s.seq.Add(1)
	m.metrics.RecordInbound(s.ctx, msg.Kind.String())

	if msg.Kind == KindPing {
		return s.conn.Send(s.ctx, Pong())
	}

	select {
	case s.queue <- msg:
		return nil
	case <-s.ctx.Done():
		return ErrUnknownSession
	default:
	}
	m.metrics.RecordRejection(s.ctx, "queue_full")
	m.log.Warn("session queue full", "session_id", id, "seq", msg.Seq, "queue_size", cap(s.queue))
	m.end(s, ptr(Failure(msgCapacity)), "capacity")
	return ErrCapacityExceeded
}

// Close ends session id without sending a result. Used when the peer has
// gone away. Unknown ids are ignored.
func (m *Manager) Close(id ID) {
	if s := m.lookup(id); s != nil {
		m.end(s, nil, "disconnected")
	}
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown ends every open session with a failure result and waits for their
// goroutines to exit or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		m.end(s, ptr(Failure(msgShuttingDown)), "shutdown")
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) lookup(id ID) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// work drains the inbound queue in arrival order.
func (m *Manager) work(s *session) {
	defer m.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			m.ingest(s, msg)
		}
	}
}

func (m *Manager) ingest(s *session, msg Inbound) {
	var err error
	switch msg.Kind {
	case KindAudio:
		err = s.pipe.IngestAudio(s.ctx, msg.Data)
	case KindFrame:
		err = s.pipe.IngestFrame(s.ctx, msg.Data)
	}
	if err == nil || errors.Is(err, evidence.ErrClosed) || s.ctx.Err() != nil {
		return
	}
	m.log.Warn("session ingest failed", "session_id", s.id, "kind", msg.Kind, "seq", msg.Seq, "err", err)
}

// run waits for the pipeline's outcome and reports it.
func (m *Manager) run(s *session) {
	defer m.wg.Done()
	out := s.pipe.Run(s.ctx)

	switch out.Kind {
	case pipeline.Identified:
		m.end(s, ptr(Identified(out.Payload)), "identified")
	case pipeline.Abstained:
		m.end(s, ptr(Failure(msgNoMatch)), "abstained")
	case pipeline.Failed:
		m.log.Error("session failed", "session_id", s.id, "err", out.Err)
		m.end(s, ptr(Failure(msgInternal)), "failed")
	default:
		m.end(s, nil, "cancelled")
	}
}

// end tears s down at most once. When msg is non-nil it is sent before the
// connection closes.
func (m *Manager) end(s *session, msg *Outbound, outcome string) {
	s.endOnce.Do(func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()

		if msg != nil {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), sendTimeout)
			if err := s.conn.Send(ctx, *msg); err != nil {
				m.log.Debug("session result not delivered", "session_id", s.id, "err", err)
			}
			cancel()
		}
		s.cancel()
		if err := s.pipe.Close(); err != nil {
			m.log.Warn("session pipeline close", "session_id", s.id, "err", err)
		}
		if err := s.conn.Close(outcome); err != nil {
			m.log.Debug("session connection close", "session_id", s.id, "err", err)
		}

		ctx := context.WithoutCancel(s.ctx)
		m.metrics.ActiveSessions.Add(ctx, -1)
		m.metrics.RecordSessionOutcome(ctx, outcome)
		if outcome == "identified" {
			m.metrics.TimeToIdentify.Record(ctx, time.Since(s.started).Seconds())
		}
		m.log.Info("session stopped",
			"session_id", s.id,
			"outcome", outcome,
			"messages", s.seq.Load(),
			"duration", time.Since(s.started).Round(time.Millisecond),
		)
	})
}

func ptr[T any](v T) *T { return &v }
