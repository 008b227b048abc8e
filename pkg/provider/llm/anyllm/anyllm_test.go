package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/reelscout/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
	}{
		{name: "empty provider", provider: "", model: "gpt-4o"},
		{name: "empty model", provider: "openai", model: ""},
		{name: "unsupported provider", provider: "fakecloud", model: "some-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.provider, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Backends(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "ollama"} {
		t.Run(name, func(t *testing.T) {
			p, err := New(name, "some-model", anyllmlib.WithAPIKey("sk-test"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != "some-model" {
				t.Errorf("model = %q", p.model)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-sonnet-latest"}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You identify films.",
		Messages:     []llm.Message{{Role: "user", Content: "transcript"}},
		MaxTokens:    300,
		JSONMode:     true,
	})

	if params.Model != "claude-3-5-sonnet-latest" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	sys := params.Messages[0].ContentString()
	if !strings.HasPrefix(sys, "You identify films.") || !strings.HasSuffix(sys, jsonInstruction) {
		t.Errorf("system prompt = %q", sys)
	}
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Errorf("Temperature = %v, want explicit 0", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 300 {
		t.Errorf("MaxTokens = %v, want 300", params.MaxTokens)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "x"}}})
	if len(params.Messages) != 1 {
		t.Fatalf("expected only the user message, got %d", len(params.Messages))
	}
	if params.MaxTokens != nil {
		t.Error("MaxTokens should be unset")
	}
}
