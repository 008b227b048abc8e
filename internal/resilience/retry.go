package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// ErrRetriesExhausted is returned by [Retry] when every attempt failed with a
// retryable error. Callers treat it as a transient collaborator failure.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryConfig holds tuning knobs for [Retry].
type RetryConfig struct {
	// Name labels the operation in logs and errors (e.g. "embeddings").
	Name string

	// Attempts is the total number of calls, including the first. Default: 3.
	Attempts int

	// BaseDelay is the wait before the second attempt; it doubles after each
	// failure. Default: 200ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 5s.
	MaxDelay time.Duration

	// OnRetry, if set, is called before each backoff sleep.
	OnRetry func(attempt int, err error)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// permanentError marks an error as not worth retrying.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that [Retry] returns it immediately and
// [FallbackGroup] does not fail over or count it against a breaker. Use it for
// caller-side faults such as invalid input. Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with [Permanent].
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry calls fn until it succeeds, returns a [Permanent] error, ctx is done,
// or cfg.Attempts calls have failed. Backoff is exponential with full jitter.
// Exhaustion yields an error matching both [ErrRetriesExhausted] and the last
// failure; cancellation yields ctx.Err().
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for functions that return a value.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (R, error)) (R, error) {
	cfg = cfg.withDefaults()
	var zero R
	delay := cfg.BaseDelay

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if IsPermanent(err) {
			return zero, err
		}
		if attempt >= cfg.Attempts {
			return zero, fmt.Errorf("%s: %w after %d attempts: %w", cfg.Name, ErrRetriesExhausted, attempt, err)
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		wait := time.Duration(rand.Int64N(int64(delay)) + 1)
		slog.Debug("retrying collaborator call",
			"op", cfg.Name,
			"attempt", attempt,
			"backoff", wait,
			"err", err,
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, cfg.MaxDelay)
	}
}
