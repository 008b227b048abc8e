// Package metadata resolves a committed title into the payload shown to the
// client.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/types"
)

// ErrInternalInconsistency is returned when a title chosen from the chunk
// index has no record in the media store. It is fatal to the session.
var ErrInternalInconsistency = errors.New("metadata: internal inconsistency")

// genreSeparator joins multiple genres in [types.DisplayPayload.Genre].
const genreSeparator = " | "

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithClock overrides the clock used to stamp IdentifiedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithRetry retries failed store reads. A missing record is never retried.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Resolver) {
		r.retry = cfg
	}
}

// Resolver maps media records onto display payloads. It is safe for
// concurrent use.
type Resolver struct {
	store catalog.MediaStore
	now   func() time.Time
	retry resilience.RetryConfig
}

// New returns a Resolver reading from store.
func New(store catalog.MediaStore, opts ...Option) *Resolver {
	r := &Resolver{
		store: store,
		now:   time.Now,
		retry: resilience.RetryConfig{Name: "metadata", Attempts: 1},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the display payload for id. A missing record yields an
// error wrapping [ErrInternalInconsistency]; other store failures are
// returned as transient errors.
func (r *Resolver) Resolve(ctx context.Context, id types.MediaID) (types.DisplayPayload, error) {
	rec, err := resilience.RetryWithResult(ctx, r.retry, func(ctx context.Context) (types.MediaRecord, error) {
		rec, err := r.store.Media(ctx, id)
		if errors.Is(err, catalog.ErrNotFound) {
			return rec, resilience.Permanent(err)
		}
		return rec, err
	})
	if errors.Is(err, catalog.ErrNotFound) {
		return types.DisplayPayload{}, fmt.Errorf("%w: no record for %s", ErrInternalInconsistency, id)
	}
	if err != nil {
		return types.DisplayPayload{}, fmt.Errorf("metadata: resolve %s: %w", id, err)
	}

	return types.DisplayPayload{
		ID:           id.String(),
		Title:        rec.Title,
		PosterURL:    rec.PosterURL,
		Year:         rec.Year,
		Genre:        strings.Join(rec.Genres, genreSeparator),
		Description:  rec.Overview,
		TMDBRating:   rec.Rating,
		Duration:     rec.RuntimeMinutes,
		IdentifiedAt: r.now().UTC().Format(time.RFC3339),
	}, nil
}
