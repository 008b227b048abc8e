package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/reelscout/internal/pipeline"
	"github.com/MrWong99/reelscout/pkg/types"
)

// ── fakes ───────────────────────────────────────────────────────────────────

type fakeConn struct {
	mu     sync.Mutex
	sent   []Outbound
	closes []string
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) Send(_ context.Context, msg Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes = append(c.closes, reason)
	if len(c.closes) == 1 {
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) messages() []Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outbound(nil), c.sent...)
}

func (c *fakeConn) closeReasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closes...)
}

func (c *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not closed")
	}
}

// fakePipeline returns the outcome sent on outcome, or Cancelled when ctx
// ends first.
type fakePipeline struct {
	outcome chan pipeline.Outcome

	// block, when non-nil, stalls ingestion until closed.
	block chan struct{}

	mu       sync.Mutex
	ingested []Inbound
	closes   int
	runCtx   context.Context
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{outcome: make(chan pipeline.Outcome, 1)}
}

func (p *fakePipeline) IngestAudio(ctx context.Context, chunk []byte) error {
	return p.ingest(ctx, Inbound{Kind: KindAudio, Data: chunk})
}

func (p *fakePipeline) IngestFrame(ctx context.Context, frame []byte) error {
	return p.ingest(ctx, Inbound{Kind: KindFrame, Data: frame})
}

func (p *fakePipeline) ingest(ctx context.Context, in Inbound) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ingested = append(p.ingested, in)
	return nil
}

func (p *fakePipeline) Run(ctx context.Context) pipeline.Outcome {
	p.mu.Lock()
	p.runCtx = ctx
	p.mu.Unlock()
	select {
	case out := <-p.outcome:
		return out
	case <-ctx.Done():
		return pipeline.Outcome{Kind: pipeline.Cancelled}
	}
}

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePipeline) ingestedData() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, in := range p.ingested {
		out = append(out, in.Kind.String()+":"+string(in.Data))
	}
	return out
}

func (p *fakePipeline) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakePipeline) {
	t.Helper()
	p := newFakePipeline()
	m := NewManager(func(ID) Pipeline { return p }, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestManager_IdentifiedSendsOneResultAndCloses(t *testing.T) {
	t.Parallel()

	m, p := newTestManager(t, Config{})
	conn := newFakeConn()
	id, err := m.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("id = %q, want a UUID string", id)
	}

	p.outcome <- pipeline.Outcome{Kind: pipeline.Identified, Payload: types.DisplayPayload{ID: "movie:603", Title: "The Matrix"}}
	conn.waitClosed(t)

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1: %+v", len(msgs), msgs)
	}
	if !msgs[0].IsResult() || msgs[0].Success == nil || !*msgs[0].Success || msgs[0].Data.Title != "The Matrix" {
		t.Errorf("result = %+v", msgs[0])
	}
	if p.closeCount() != 1 {
		t.Errorf("pipeline closed %d times, want 1", p.closeCount())
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d after result, want 0", m.Len())
	}

	// Later disconnects and messages are no-ops.
	m.Close(id)
	if err := m.Dispatch(id, Inbound{Kind: KindAudio, Data: []byte("x")}); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Dispatch after end = %v, want ErrUnknownSession", err)
	}
	if got := conn.closeReasons(); len(got) != 1 || got[0] != "identified" {
		t.Errorf("close reasons = %v, want [identified]", got)
	}
}

func TestManager_FailureResultsAreGeneric(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  pipeline.Outcome
		want string
	}{
		{name: "abstained", out: pipeline.Outcome{Kind: pipeline.Abstained, Reason: "timeout"}, want: msgNoMatch},
		{name: "failed", out: pipeline.Outcome{Kind: pipeline.Failed, Err: errors.New("metadata: internal inconsistency: no record for movie:1")}, want: msgInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, p := newTestManager(t, Config{})
			conn := newFakeConn()
			if _, err := m.Open(context.Background(), conn); err != nil {
				t.Fatalf("Open: %v", err)
			}
			p.outcome <- tt.out
			conn.waitClosed(t)

			msgs := conn.messages()
			if len(msgs) != 1 || msgs[0].Success == nil || *msgs[0].Success || msgs[0].Error != tt.want {
				t.Errorf("messages = %+v, want one failure %q", msgs, tt.want)
			}
		})
	}
}

func TestManager_DisconnectSendsNothing(t *testing.T) {
	t.Parallel()

	m, p := newTestManager(t, Config{})
	conn := newFakeConn()
	id, err := m.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	waitFor(t, "run to start", func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.runCtx != nil
	})

	m.Close(id)
	conn.waitClosed(t)

	p.mu.Lock()
	runCtx := p.runCtx
	p.mu.Unlock()
	if runCtx.Err() == nil {
		t.Error("pipeline context not cancelled on disconnect")
	}
	if msgs := conn.messages(); len(msgs) != 0 {
		t.Errorf("sent %+v after disconnect, want nothing", msgs)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestManager_PingAnsweredImmediately(t *testing.T) {
	t.Parallel()

	m, p := newTestManager(t, Config{})
	p.block = make(chan struct{})
	defer close(p.block)

	conn := newFakeConn()
	id, err := m.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// A stalled ingest must not delay the pong.
	if err := m.Dispatch(id, Inbound{Kind: KindAudio, Data: []byte("a")}); err != nil {
		t.Fatalf("Dispatch audio: %v", err)
	}
	if err := m.Dispatch(id, Inbound{Kind: KindPing}); err != nil {
		t.Fatalf("Dispatch ping: %v", err)
	}
	msgs := conn.messages()
	if len(msgs) != 1 || msgs[0].Type != "pong" {
		t.Errorf("messages = %+v, want one pong", msgs)
	}
}

func TestManager_IngestsInArrivalOrder(t *testing.T) {
	t.Parallel()

	m, p := newTestManager(t, Config{})
	conn := newFakeConn()
	id, err := m.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	in := []Inbound{
		{Kind: KindAudio, Data: []byte("1")},
		{Kind: KindFrame, Data: []byte("2")},
		{Kind: KindAudio, Data: []byte("3")},
		{Kind: KindAudio, Data: []byte("4")},
	}
	for _, msg := range in {
		if err := m.Dispatch(id, msg); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	waitFor(t, "ingestion", func() bool { return len(p.ingestedData()) == len(in) })

	want := []string{"audio:1", "frame:2", "audio:3", "audio:4"}
	got := p.ingestedData()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ingested = %v, want %v", got, want)
		}
	}
}

func TestManager_QueueFullEndsSession(t *testing.T) {
	t.Parallel()

	m, p := newTestManager(t, Config{QueueSize: 1})
	p.block = make(chan struct{})
	defer close(p.block)

	conn := newFakeConn()
	id, err := m.Open(context.Background(), conn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// The worker takes the first chunk and stalls; the second fills the
	// queue; the third overflows.
	var overflow error
	for i := 0; i < 10 && overflow == nil; i++ {
		overflow = m.Dispatch(id, Inbound{Kind: KindAudio, Data: []byte{byte(i)}})
	}
	if !errors.Is(overflow, ErrCapacityExceeded) {
		t.Fatalf("overflow error = %v, want ErrCapacityExceeded", overflow)
	}
	conn.waitClosed(t)

	msgs := conn.messages()
	if len(msgs) != 1 || msgs[0].Error != msgCapacity {
		t.Errorf("messages = %+v, want one capacity failure", msgs)
	}
	if got := conn.closeReasons(); len(got) != 1 || got[0] != "capacity" {
		t.Errorf("close reasons = %v", got)
	}
}

func TestManager_MaxSessions(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{MaxSessions: 1})
	first, err := m.Open(context.Background(), newFakeConn())
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := m.Open(context.Background(), newFakeConn()); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("second Open = %v, want ErrTooManySessions", err)
	}

	m.Close(first)
	if _, err := m.Open(context.Background(), newFakeConn()); err != nil {
		t.Errorf("Open after Close: %v", err)
	}
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	t.Parallel()

	pipes := map[ID]*fakePipeline{}
	var mu sync.Mutex
	m := NewManager(func(id ID) Pipeline {
		mu.Lock()
		defer mu.Unlock()
		p := newFakePipeline()
		pipes[id] = p
		return p
	}, Config{})

	a, b := newFakeConn(), newFakeConn()
	idA, _ := m.Open(context.Background(), a)
	idB, _ := m.Open(context.Background(), b)
	if idA == idB {
		t.Fatal("session ids collide")
	}

	mu.Lock()
	pipes[idA].outcome <- pipeline.Outcome{Kind: pipeline.Abstained}
	mu.Unlock()
	a.waitClosed(t)

	if len(b.messages()) != 0 || len(b.closeReasons()) != 0 {
		t.Error("ending one session touched the other")
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if msgs := b.messages(); len(msgs) != 1 || msgs[0].Error != msgShuttingDown {
		t.Errorf("shutdown messages = %+v", msgs)
	}
}

func TestManager_ParentCancelEndsSilently(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	conn := newFakeConn()
	if _, err := m.Open(ctx, conn); err != nil {
		t.Fatalf("Open: %v", err)
	}
	cancel()
	conn.waitClosed(t)
	if msgs := conn.messages(); len(msgs) != 0 {
		t.Errorf("sent %+v, want nothing", msgs)
	}
}
