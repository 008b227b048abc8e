package resilience

import (
	"context"
	"errors"
	"testing"

	embmock "github.com/MrWong99/reelscout/pkg/provider/embeddings/mock"
	"github.com/MrWong99/reelscout/pkg/provider/recognition"
	recmock "github.com/MrWong99/reelscout/pkg/provider/recognition/mock"
)

func TestEmbeddingsFallback_Failover(t *testing.T) {
	primary := &embmock.Provider{
		EmbedErr:        errors.New("primary down"),
		EmbedBatchErr:   errors.New("primary down"),
		DimensionsValue: 4,
		ModelIDValue:    "primary-model",
	}
	secondary := &embmock.Provider{
		EmbedResult:     []float32{1, 2, 3, 4},
		DimensionsValue: 4,
		ModelIDValue:    "secondary-model",
	}

	fb := NewEmbeddingsFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	vec, err := fb.Embed(context.Background(), "there is no spoon")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("len(vec) = %d, want 4", len(vec))
	}

	batch, err := fb.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("len(batch) = %d, want 2", len(batch))
	}

	if fb.Dimensions() != 4 || fb.ModelID() != "primary-model" {
		t.Fatalf("metadata = %d/%q, want primary's", fb.Dimensions(), fb.ModelID())
	}
}

func TestRecognitionFallback_Failover(t *testing.T) {
	primary := &recmock.Provider{Err: errors.New("primary down")}
	secondary := &recmock.Provider{Detections: []recognition.Detection{{Name: "Keanu Reeves", Confidence: 0.97}}}

	fb := NewRecognitionFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	dets, err := fb.Recognize(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(dets) != 1 || dets[0].Name != "Keanu Reeves" {
		t.Fatalf("detections = %+v", dets)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}

func TestRecognitionFallback_AllFail(t *testing.T) {
	primary := &recmock.Provider{Err: errors.New("primary down")}
	fb := NewRecognitionFallback(primary, "primary", FallbackConfig{})

	_, err := fb.Recognize(context.Background(), []byte{1})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
