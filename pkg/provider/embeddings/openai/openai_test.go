package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
)

func TestModelDimensions(t *testing.T) {
	tests := map[string]int{
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		"some-future-model":      1536,
	}
	for model, want := range tests {
		if got := modelDimensions(model); got != want {
			t.Errorf("modelDimensions(%q) = %d, want %d", model, got, want)
		}
	}
}

func TestDimensions_ExplicitOverride(t *testing.T) {
	p, err := New("key", "text-embedding-3-large", WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want 256", got)
	}
	if p.params(oaiStringInput("x")).Dimensions.Value != 256 {
		t.Error("expected dimensions to be forwarded in request params")
	}
}

func TestNew_Defaults(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("key", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID() = %q, want %q", p.ModelID(), DefaultModel)
	}
	if p.maxBatch != DefaultMaxBatch {
		t.Errorf("maxBatch = %d, want %d", p.maxBatch, DefaultMaxBatch)
	}
}

// embeddingServer answers /embeddings with a vector whose first component
// encodes the input text length, in reverse index order to exercise reordering.
func embeddingServer(t *testing.T, batches *[][]string, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var inputs []string
		if err := json.Unmarshal(req.Input, &inputs); err != nil {
			var single string
			if err := json.Unmarshal(req.Input, &single); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			inputs = []string{single}
		}
		mu.Lock()
		*batches = append(*batches, inputs)
		mu.Unlock()

		var data []string
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, fmt.Sprintf(`{"object":"embedding","index":%d,"embedding":[%d,0.5]}`, i, len(inputs[i])))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"object":"list","model":"text-embedding-3-small","data":[%s],"usage":{"prompt_tokens":1,"total_tokens":1}}`, strings.Join(data, ","))
	}))
}

func TestEmbedBatch_SplitsAndOrders(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]string
	)
	srv := embeddingServer(t, &batches, &mu)
	defer srv.Close()

	p, err := New("key", "", WithBaseURL(srv.URL+"/"), WithMaxBatch(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := []string{"a", "bb", "ccc"}
	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(batches))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vecs[%d][0] = %v, want %d", i, v[0], len(texts[i]))
		}
	}

	vec, err := p.Embed(context.Background(), "dddd")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vec[0] != 4 {
		t.Errorf("Embed()[0] = %v, want 4", vec[0])
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	p, _ := New("key", "")
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func oaiStringInput(s string) oai.EmbeddingNewParamsInputUnion {
	return oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(s)}
}
