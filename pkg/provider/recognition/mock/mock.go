// Package mock provides a test double for the recognition.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/reelscout/pkg/provider/recognition"
)

// Provider is a mock implementation of recognition.Provider.
type Provider struct {
	mu sync.Mutex

	// Detections is returned by Recognize.
	Detections []recognition.Detection

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// RecognizeFunc, if set, overrides Detections and Err.
	RecognizeFunc func(ctx context.Context, frame []byte) ([]recognition.Detection, error)

	calls int
}

// Recognize records the call and returns the configured result.
func (p *Provider) Recognize(ctx context.Context, frame []byte) ([]recognition.Detection, error) {
	p.mu.Lock()
	p.calls++
	fn, dets, err := p.RecognizeFunc, p.Detections, p.Err
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, frame)
	}
	return dets, err
}

// CallCount returns the number of Recognize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

var _ recognition.Provider = (*Provider)(nil)
