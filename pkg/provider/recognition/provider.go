// Package recognition defines the Provider interface for on-screen actor
// recognition backends.
//
// A recognition provider receives a single encoded video frame (JPEG or PNG)
// and reports which known actors it believes are visible, each with a
// confidence in [0, 1]. Backends with a 0–100 scale must normalise.
//
// Implementations must be safe for concurrent use.
package recognition

import (
	"context"
	"errors"
)

// ErrEmptyFrame is returned when a frame has no bytes.
var ErrEmptyFrame = errors.New("recognition: empty frame")

// Detection is one recognised actor in a frame.
type Detection struct {
	// Name is the actor's display name.
	Name string

	// Confidence is the recognition confidence in [0, 1].
	Confidence float64
}

// Provider is the abstraction over any actor-recognition backend.
type Provider interface {
	// Recognize analyses frame and returns the actors it found. A frame with
	// no recognisable actors yields an empty slice and a nil error.
	Recognize(ctx context.Context, frame []byte) ([]Detection, error)
}
