package evidence

import (
	"context"
	"time"

	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/pkg/provider/stt"
)

// Default reconnection parameters.
const (
	defaultMaxReconnects = 3
	defaultBackoff       = 250 * time.Millisecond
	defaultMaxBackoff    = 5 * time.Second
)

// ReconnectConfig bounds how a dropped STT stream is reopened.
//
// A stream counts as dropped when its finals channel closes before
// [Accumulator.Close]. The accumulator then opens a new stream with
// exponential backoff. The attempt counter resets once the new stream
// delivers a final transcript, so only consecutive failures spend the
// budget. When it is spent the accumulator reports [Accumulator.Exhausted].
type ReconnectConfig struct {
	// MaxRetries is the number of consecutive reconnection attempts.
	// Defaults to 3 if zero. Negative disables reconnection.
	MaxRetries int

	// Backoff is the wait before the second attempt. Doubles each attempt
	// up to MaxBackoff. The first attempt is immediate. Defaults to 250ms.
	Backoff time.Duration

	// MaxBackoff caps the backoff. Defaults to 5s.
	MaxBackoff time.Duration
}

func (c ReconnectConfig) withDefaults() ReconnectConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxReconnects
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// delay returns the wait before attempt (1-based).
func (c ReconnectConfig) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := c.Backoff
	for range attempt - 2 {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(d, c.MaxBackoff)
}

// reconnect replaces the dropped handle old with a fresh stream. attempts
// carries the consecutive attempt count across drops. It reports false when
// the budget is spent or the accumulator is closing.
func (a *Accumulator) reconnect(ctx context.Context, old stt.SessionHandle, attempts *int) (stt.SessionHandle, bool) {
	_ = old.Close()
	log := observe.Logger(ctx)

	for *attempts < a.reconn.MaxRetries {
		*attempts++
		wait := a.reconn.delay(*attempts)

		log.Info("reopening transcription stream",
			"attempt", *attempts,
			"max_retries", a.reconn.MaxRetries,
			"backoff", wait,
		)

		select {
		case <-a.stop:
			return nil, false
		case <-ctx.Done():
			return nil, false
		case <-time.After(wait):
		}

		h, err := a.stt.StartStream(ctx, a.streamCfg)
		if err != nil {
			log.Warn("transcription reconnect failed", "attempt", *attempts, "err", err)
			continue
		}

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			_ = h.Close()
			return nil, false
		}
		a.handle = h
		a.mu.Unlock()
		return h, true
	}

	log.Error("transcription stream lost", "max_retries", a.reconn.MaxRetries)
	return nil, false
}
