// Package evidence accumulates the per-session signals the identification
// pipeline reasons over: the final transcript of the audio stream and the
// actors recognised in video frames.
//
// Audio is forwarded to a speech-to-text stream that is opened on the first
// chunk. Only final transcripts are kept; each one bumps the transcript
// revision and fires the delta callback so the pipeline can schedule a pass.
// Frames are sent to the recognition provider and confident detections are
// merged into the actor set. Frames never fire a delta.
//
// A stream whose finals channel closes while the session is still open is
// treated as dropped and reopened with backoff (see [ReconnectConfig]).
package evidence

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/provider/recognition"
	"github.com/MrWong99/reelscout/pkg/provider/stt"
	"github.com/MrWong99/reelscout/pkg/types"
)

// ErrClosed is returned by the ingest methods after [Accumulator.Close].
var ErrClosed = errors.New("evidence: accumulator closed")

const defaultConfidenceFloor = 0.8

// Evidence is a point-in-time copy of the accumulated signals.
type Evidence struct {
	// Segments are the final transcript segments in arrival order.
	Segments []string

	// Transcript is Segments joined by single spaces.
	Transcript string

	// Words is the number of whitespace-separated words in Transcript.
	Words int

	// Revision increases by one with every appended segment.
	Revision uint64

	// Observations are the distinct actors seen, highest confidence first.
	Observations []types.ActorObservation
}

// Option is a functional option for configuring an [Accumulator].
type Option func(*Accumulator)

// WithStreamConfig sets the audio format used when the STT stream is opened.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(a *Accumulator) {
		a.streamCfg = cfg
	}
}

// WithConfidenceFloor sets the minimum recognition confidence for an actor
// detection to be kept. Default: 0.8.
func WithConfidenceFloor(floor float64) Option {
	return func(a *Accumulator) {
		a.floor = floor
	}
}

// WithMaxFrameRate limits how many frames per second reach the recognition
// provider. Frames over budget are dropped. Zero or negative means no limit.
func WithMaxFrameRate(fps float64) Option {
	return func(a *Accumulator) {
		if fps > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(fps), 1)
		} else {
			a.limiter = nil
		}
	}
}

// WithRetry configures retries of provider calls. By default every call is
// attempted once.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *Accumulator) {
		a.retry = cfg
	}
}

// WithReconnect sets how a dropped STT stream is reopened. See
// [ReconnectConfig] for the defaults.
func WithReconnect(cfg ReconnectConfig) Option {
	return func(a *Accumulator) {
		a.reconn = cfg
	}
}

// WithClock overrides the clock used to stamp observations.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		a.now = now
	}
}

// Accumulator owns the evidence of a single session. All methods are safe for
// concurrent use.
type Accumulator struct {
	stt   stt.Provider
	recog recognition.Provider

	streamCfg stt.StreamConfig
	floor     float64
	limiter   *rate.Limiter
	retry     resilience.RetryConfig
	reconn    ReconnectConfig
	now       func() time.Time

	mu       sync.Mutex
	segments []string
	words    int
	revision uint64
	actors   map[string]types.ActorObservation
	onDelta  func()
	handle   stt.SessionHandle
	closed   bool

	startMu sync.Mutex

	stop          chan struct{}
	pumpDone      chan struct{}
	exhausted     chan struct{}
	exhaustedOnce sync.Once
	closeOnce     sync.Once
}

// New returns an Accumulator forwarding audio to speech and frames to
// recognizer. recognizer may be nil, in which case frames are ignored.
func New(speech stt.Provider, recognizer recognition.Provider, opts ...Option) *Accumulator {
	a := &Accumulator{
		stt:       speech,
		recog:     recognizer,
		floor:     defaultConfidenceFloor,
		retry:     resilience.RetryConfig{Attempts: 1},
		now:       time.Now,
		actors:    make(map[string]types.ActorObservation),
		stop:      make(chan struct{}),
		exhausted: make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.reconn = a.reconn.withDefaults()
	return a
}

// OnDelta registers fn to be called after each appended transcript segment.
// fn is called from the STT pump goroutine and must not block.
func (a *Accumulator) OnDelta(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDelta = fn
}

// Exhausted returns a channel that is closed once the STT stream has ended
// and could not be reopened, so no further transcript will arrive.
func (a *Accumulator) Exhausted() <-chan struct{} {
	return a.exhausted
}

// IngestAudio forwards a PCM16 chunk to the STT stream, opening the stream on
// the first call. The context of that first call bounds the lifetime of the
// stream, so callers should pass the session context rather than a
// per-message one.
func (a *Accumulator) IngestAudio(ctx context.Context, chunk []byte) error {
	h, err := a.stream(ctx)
	if err != nil {
		return err
	}
	if err := h.SendAudio(chunk); err != nil {
		return fmt.Errorf("evidence: send audio: %w", err)
	}
	return nil
}

// stream returns the open STT handle, starting the stream and its pump on
// first use.
func (a *Accumulator) stream(ctx context.Context) (stt.SessionHandle, error) {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	a.mu.Lock()
	h, closed := a.handle, a.closed
	a.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if h != nil {
		return h, nil
	}

	cfg := a.retry
	cfg.Name = "stt"
	h, err := resilience.RetryWithResult(ctx, cfg, func(ctx context.Context) (stt.SessionHandle, error) {
		return a.stt.StartStream(ctx, a.streamCfg)
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: start transcription: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		_ = h.Close()
		return nil, ErrClosed
	}
	a.handle = h
	a.pumpDone = make(chan struct{})
	go a.pump(ctx, h)
	return h, nil
}

// pump drains the STT stream, reopening it after a drop, until the
// accumulator closes or the reconnect budget is spent. Partials are
// discarded.
func (a *Accumulator) pump(ctx context.Context, h stt.SessionHandle) {
	defer close(a.pumpDone)
	defer a.markExhausted()

	attempts := 0
	for {
		progressed, stopped := a.drain(h)
		if stopped {
			return
		}
		if progressed {
			attempts = 0
		}
		next, ok := a.reconnect(ctx, h, &attempts)
		if !ok {
			return
		}
		h = next
	}
}

// drain reads h until its finals channel closes. It reports whether any
// final arrived and whether the accumulator is stopping.
func (a *Accumulator) drain(h stt.SessionHandle) (progressed, stopped bool) {
	partials, finals := h.Partials(), h.Finals()
	for {
		select {
		case <-a.stop:
			return progressed, true
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case t, ok := <-finals:
			if !ok {
				select {
				case <-a.stop:
					return progressed, true
				default:
					return progressed, false
				}
			}
			a.appendFinal(t.Text)
			progressed = true
		}
	}
}

func (a *Accumulator) appendFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.mu.Lock()
	a.segments = append(a.segments, text)
	a.words += len(strings.Fields(text))
	a.revision++
	fn := a.onDelta
	a.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (a *Accumulator) markExhausted() {
	a.exhaustedOnce.Do(func() { close(a.exhausted) })
}

// IngestFrame runs actor recognition on an encoded video frame and merges
// detections at or above the confidence floor. It returns the observations
// accepted from this frame. Frames dropped by the rate limit return nil
// without an error.
func (a *Accumulator) IngestFrame(ctx context.Context, frame []byte) ([]types.ActorObservation, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if a.recog == nil {
		return nil, nil
	}
	if len(frame) == 0 {
		return nil, recognition.ErrEmptyFrame
	}
	if a.limiter != nil && !a.limiter.Allow() {
		observe.Logger(ctx).Debug("frame skipped by sampling limit")
		return nil, nil
	}

	cfg := a.retry
	cfg.Name = "recognition"
	detections, err := resilience.RetryWithResult(ctx, cfg, func(ctx context.Context) ([]recognition.Detection, error) {
		return a.recog.Recognize(ctx, frame)
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: recognize frame: %w", err)
	}

	seen := a.now()
	var accepted []types.ActorObservation

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range detections {
		obs := types.ActorObservation{Name: strings.TrimSpace(d.Name), Confidence: d.Confidence, LastSeen: seen}
		key := obs.Key()
		if key == "" || obs.Confidence < a.floor {
			continue
		}
		if prev, ok := a.actors[key]; ok {
			obs.Confidence = max(obs.Confidence, prev.Confidence)
			if prev.LastSeen.After(obs.LastSeen) {
				obs.LastSeen = prev.LastSeen
			}
			obs.Name = prev.Name
		}
		a.actors[key] = obs
		accepted = append(accepted, obs)
	}
	return accepted, nil
}

// Snapshot returns a copy of the current evidence.
func (a *Accumulator) Snapshot() Evidence {
	a.mu.Lock()
	defer a.mu.Unlock()

	obs := make([]types.ActorObservation, 0, len(a.actors))
	for _, o := range a.actors {
		obs = append(obs, o)
	}
	slices.SortFunc(obs, func(x, y types.ActorObservation) int {
		return cmp.Or(cmp.Compare(y.Confidence, x.Confidence), cmp.Compare(x.Key(), y.Key()))
	})

	return Evidence{
		Segments:     slices.Clone(a.segments),
		Transcript:   strings.Join(a.segments, " "),
		Words:        a.words,
		Revision:     a.revision,
		Observations: obs,
	}
}

// Close ends the STT stream, waits for the pump to finish and rejects further
// input. Calling Close more than once is safe.
func (a *Accumulator) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		h, done := a.handle, a.pumpDone
		a.onDelta = nil
		a.mu.Unlock()

		close(a.stop)
		if h == nil {
			a.markExhausted()
			return
		}
		err = h.Close()
		<-done
	})
	return err
}
