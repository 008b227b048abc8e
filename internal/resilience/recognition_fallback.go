package resilience

import (
	"context"

	"github.com/MrWong99/reelscout/pkg/provider/recognition"
)

// RecognitionFallback implements [recognition.Provider] with failover across
// actor recognition backends.
type RecognitionFallback struct {
	group *FallbackGroup[recognition.Provider]
}

var _ recognition.Provider = (*RecognitionFallback)(nil)

// NewRecognitionFallback creates a [RecognitionFallback] with primary as the
// preferred backend.
func NewRecognitionFallback(primary recognition.Provider, primaryName string, cfg FallbackConfig) *RecognitionFallback {
	return &RecognitionFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognition provider as a fallback.
func (f *RecognitionFallback) AddFallback(name string, provider recognition.Provider) {
	f.group.AddFallback(name, provider)
}

// Recognize runs recognition on the first healthy provider.
func (f *RecognitionFallback) Recognize(ctx context.Context, frame []byte) ([]recognition.Detection, error) {
	return ExecuteWithResult(f.group, func(p recognition.Provider) ([]recognition.Detection, error) {
		return p.Recognize(ctx, frame)
	})
}
