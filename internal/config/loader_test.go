package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/reelscout/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		extra   string // appended to minimalYAML
		full    string // replaces minimalYAML when set
		wantErr string
	}{
		{name: "minimal is valid"},
		{name: "invalid log level", extra: "server:\n  log_level: verbose\n", wantErr: "server.log_level"},
		{name: "tls without key", extra: "server:\n  tls:\n    cert_file: a.pem\n", wantErr: "server.tls"},
		{name: "invalid strategy", extra: "decision:\n  strategy: vibes\n", wantErr: "decision.strategy"},
		{name: "assisted without llm", extra: "decision:\n  strategy: assisted\n", wantErr: "requires an LLM provider"},
		{name: "unknown field", extra: "catalog2: {}\n", wantErr: "field catalog2 not found"},
		{name: "invalid matcher", extra: "cast:\n  matcher: psychic\n", wantErr: "cast.matcher"},
		{name: "floor out of range", extra: "recognition:\n  confidence_floor: 1.5\n", wantErr: "recognition.confidence_floor"},
		{name: "negative fps", extra: "recognition:\n  max_frames_per_second: -1\n", wantErr: "max_frames_per_second"},
		{name: "negative max sessions", extra: "session:\n  max_sessions: -2\n", wantErr: "session.max_sessions"},
		{name: "negative boost", extra: "decision:\n  boost_weight: -0.1\n", wantErr: "decision.boost_weight"},
		{name: "negative window", extra: "decision:\n  window: -3\n", wantErr: "decision.window"},
		{name: "continuity rules", extra: "decision:\n  min_continuity: 2\n  window: 4\n"},
		{
			name: "missing required",
			full: "server:\n  log_level: info\n",
			wantErr: "providers.stt.name is required",
		},
		{
			name: "bad kind",
			full: strings.Replace(minimalYAML, "catalog:\n", "catalog:\n  kinds: [book]\n", 1),
			wantErr: "catalog.kinds[0]",
		},
		{
			name: "invalid fusion",
			full: strings.Replace(minimalYAML, "catalog:\n", "catalog:\n  fusion: blend\n", 1),
			wantErr: "catalog.fusion",
		},
		{
			name: "search limit below top k",
			full: strings.Replace(minimalYAML, "catalog:\n", "catalog:\n  top_k: 30\n", 1),
			wantErr: "catalog.search_limit",
		},
		{
			name: "unnamed fallback",
			full: strings.Replace(minimalYAML, "    name: deepgram\n", "    name: deepgram\n    fallbacks:\n      - api_key: x\n", 1),
			wantErr: "providers.stt.fallbacks[0].name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := minimalYAML + tt.extra
			if tt.full != "" {
				src = tt.full
			}
			_, err := config.LoadFromReader(strings.NewReader(src))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\ncast:\n  matcher: nope\n"))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, want := range []string{"server.log_level", "cast.matcher", "providers.stt.name", "catalog.postgres_dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "recognition", "llm", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
	if !slices.Contains(config.ValidProviderNames["llm"], "openai") {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Catalog.EmbeddingDimensions != 1536 {
		t.Errorf("unexpected example config: stt=%q dims=%d", cfg.Providers.STT.Name, cfg.Catalog.EmbeddingDimensions)
	}
	if len(cfg.Providers.LLM.Fallbacks) != 1 {
		t.Errorf("llm fallbacks = %d, want 1", len(cfg.Providers.LLM.Fallbacks))
	}
	if d := cfg.Decision; d.PositionMargin != 3 || d.MinContinuity != 0 || d.Window != 0 {
		t.Errorf("decision continuity = %+v, want margin 3 with the rules off", d)
	}
	if cfg.Pipeline.STTReconnects != 3 {
		t.Errorf("stt_reconnects = %d, want 3", cfg.Pipeline.STTReconnects)
	}
}

func TestApplyDefaults_STTReconnects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int
		want int
	}{
		{name: "unset uses default", in: 0, want: config.DefaultSTTReconnects},
		{name: "explicit kept", in: 5, want: 5},
		{name: "negative disables", in: -1, want: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Pipeline: config.PipelineConfig{STTReconnects: tt.in}}
			config.ApplyDefaults(cfg)
			if cfg.Pipeline.STTReconnects != tt.want {
				t.Errorf("STTReconnects = %d, want %d", cfg.Pipeline.STTReconnects, tt.want)
			}
		})
	}
}
