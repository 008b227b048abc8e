package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":         {"deepgram"},
	"recognition": {"openai"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings":  {"openai", "ollama"},
}

// Defaults applied by [ApplyDefaults] to zero-valued fields.
const (
	DefaultListenAddr          = ":8080"
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultEmbeddingDimensions = 1536
	DefaultTopK                = 5
	DefaultSearchLimit         = 20
	DefaultMinQueryWords       = 3
	DefaultQueryWindowWords    = 200
	DefaultSemanticWeight      = 0.7
	DefaultLexicalWeight       = 0.3
	DefaultVectorPenalty       = 30
	DefaultFulltextPenalty     = 20
	DefaultConfidenceFloor     = 0.8
	DefaultMaxFrameBytes       = 5 << 20
	DefaultTopBilled           = 3
	DefaultTopBilledWeight     = 1.0
	DefaultSupportingWeight    = 0.75
	DefaultFuzzyThreshold      = 0.9
	DefaultFloor               = 0.5
	DefaultMargin              = 0.2
	DefaultBoostWeight         = 0.3
	DefaultMaxCandidates       = 5
	DefaultMaxTranscriptChars  = 2000
	DefaultMaxPasses           = 10
	DefaultMaxDuration         = 2 * time.Minute
	DefaultRetryAttempts       = 3
	DefaultRetryBaseDelay      = 200 * time.Millisecond
	DefaultSTTReconnects       = 3
	DefaultPositionMargin      = 3
	DefaultQueueSize           = 64
	DefaultSampleRate          = 16000
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their defaults. Fields whose
// zero value is meaningful (MinScore, AcceptScore, MaxSessions,
// MaxFramesPerSecond, Temperature) are left untouched.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	c := &cfg.Catalog
	setDefault(&c.EmbeddingDimensions, DefaultEmbeddingDimensions)
	setDefault(&c.TopK, DefaultTopK)
	setDefault(&c.SearchLimit, DefaultSearchLimit)
	setDefault(&c.MinQueryWords, DefaultMinQueryWords)
	setDefault(&c.QueryWindowWords, DefaultQueryWindowWords)
	setDefault(&c.Fusion, FusionLinear)
	if c.SemanticWeight == 0 && c.LexicalWeight == 0 {
		c.SemanticWeight = DefaultSemanticWeight
		c.LexicalWeight = DefaultLexicalWeight
	}
	setDefault(&c.VectorPenalty, DefaultVectorPenalty)
	setDefault(&c.FulltextPenalty, DefaultFulltextPenalty)

	setDefault(&cfg.Recognition.ConfidenceFloor, DefaultConfidenceFloor)
	setDefault(&cfg.Recognition.MaxFrameBytes, DefaultMaxFrameBytes)

	setDefault(&cfg.Cast.Matcher, MatcherLookup)
	setDefault(&cfg.Cast.TopBilled, DefaultTopBilled)
	setDefault(&cfg.Cast.TopBilledWeight, DefaultTopBilledWeight)
	setDefault(&cfg.Cast.SupportingWeight, DefaultSupportingWeight)
	setDefault(&cfg.Cast.FuzzyThreshold, DefaultFuzzyThreshold)

	d := &cfg.Decision
	setDefault(&d.Strategy, StrategyDeterministic)
	setDefault(&d.Floor, DefaultFloor)
	setDefault(&d.Margin, DefaultMargin)
	setDefault(&d.BoostWeight, DefaultBoostWeight)
	setDefault(&d.PositionMargin, DefaultPositionMargin)
	setDefault(&d.MaxCandidates, DefaultMaxCandidates)
	setDefault(&d.MaxTranscriptChars, DefaultMaxTranscriptChars)

	setDefault(&cfg.Pipeline.MaxPasses, DefaultMaxPasses)
	setDefault(&cfg.Pipeline.MaxDuration, DefaultMaxDuration)
	setDefault(&cfg.Pipeline.RetryAttempts, DefaultRetryAttempts)
	setDefault(&cfg.Pipeline.RetryBaseDelay, DefaultRetryBaseDelay)
	setDefault(&cfg.Pipeline.STTReconnects, DefaultSTTReconnects)

	setDefault(&cfg.Session.QueueSize, DefaultQueueSize)
	setDefault(&cfg.Session.SampleRate, DefaultSampleRate)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("stt", p.STT)
	validateProviderName("recognition", p.Recognition)
	validateProviderName("llm", p.LLM)
	validateProviderName("embeddings", p.Embeddings)
	if p.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if p.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	if p.Recognition.Name == "" {
		slog.Warn("providers.recognition is not configured; video frames will be ignored and cast matching disabled")
	}
	for kind, entry := range map[string]ProviderEntry{"stt": p.STT, "recognition": p.Recognition, "llm": p.LLM, "embeddings": p.Embeddings} {
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
			}
		}
	}

	// Catalog
	c := cfg.Catalog
	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("catalog.postgres_dsn is required"))
	}
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("catalog.embedding_dimensions %d must be positive", c.EmbeddingDimensions))
	}
	for i, k := range c.Kinds {
		if !k.IsValid() {
			errs = append(errs, fmt.Errorf("catalog.kinds[%d] %q is invalid; valid values: movie, tv", i, k))
		}
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("catalog.top_k %d must be positive", c.TopK))
	}
	if c.SearchLimit < c.TopK {
		errs = append(errs, fmt.Errorf("catalog.search_limit %d must be at least top_k %d", c.SearchLimit, c.TopK))
	}
	if !c.Fusion.IsValid() {
		errs = append(errs, fmt.Errorf("catalog.fusion %q is invalid; valid values: linear, rrf", c.Fusion))
	}
	if c.SemanticWeight < 0 || c.LexicalWeight < 0 {
		errs = append(errs, errors.New("catalog.semantic_weight and catalog.lexical_weight must not be negative"))
	}
	if c.VectorPenalty < 0 || c.FulltextPenalty < 0 {
		errs = append(errs, errors.New("catalog.vector_penalty and catalog.fulltext_penalty must not be negative"))
	}
	if c.MinScore < 0 {
		errs = append(errs, fmt.Errorf("catalog.min_score %.2f must not be negative", c.MinScore))
	}

	// Recognition
	r := cfg.Recognition
	if r.ConfidenceFloor < 0 || r.ConfidenceFloor > 1 {
		errs = append(errs, fmt.Errorf("recognition.confidence_floor %.2f is out of range [0, 1]", r.ConfidenceFloor))
	}
	if r.MaxFramesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_frames_per_second %.2f must not be negative", r.MaxFramesPerSecond))
	}

	// Cast
	if !cfg.Cast.Matcher.IsValid() {
		errs = append(errs, fmt.Errorf("cast.matcher %q is invalid; valid values: lookup, fuzzy", cfg.Cast.Matcher))
	}
	if t := cfg.Cast.FuzzyThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("cast.fuzzy_threshold %.2f is out of range (0, 1]", t))
	}

	// Decision
	d := cfg.Decision
	if !d.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("decision.strategy %q is invalid; valid values: deterministic, assisted", d.Strategy))
	}
	if d.Strategy == StrategyAssisted && p.LLM.Name == "" {
		errs = append(errs, errors.New("decision.strategy \"assisted\" requires an LLM provider but providers.llm is not configured"))
	}
	if d.Floor < 0 || d.Margin < 0 {
		errs = append(errs, errors.New("decision.floor and decision.margin must not be negative"))
	}
	if d.BoostWeight < 0 {
		errs = append(errs, fmt.Errorf("decision.boost_weight %.2f must not be negative", d.BoostWeight))
	}
	if d.MinContinuity < 0 || d.PositionMargin < 0 || d.Window < 0 {
		errs = append(errs, errors.New("decision.min_continuity, decision.position_margin and decision.window must not be negative"))
	}

	// Pipeline
	if cfg.Pipeline.MaxPasses <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_passes %d must be positive", cfg.Pipeline.MaxPasses))
	}
	if cfg.Pipeline.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_duration %s must be positive", cfg.Pipeline.MaxDuration))
	}

	// Session
	if cfg.Session.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("session.queue_size %d must be positive", cfg.Session.QueueSize))
	}
	if cfg.Session.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("session.max_sessions %d must not be negative", cfg.Session.MaxSessions))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if the entry or any of its fallbacks
// names a provider not found in the [ValidProviderNames] list for kind.
func validateProviderName(kind string, entry ProviderEntry) {
	names := []string{entry.Name}
	for _, fb := range entry.Fallbacks {
		names = append(names, fb.Name)
	}
	known := ValidProviderNames[kind]
	for _, name := range names {
		if name == "" || slices.Contains(known, name) {
			continue
		}
		slog.Warn("unknown provider name, may be a typo or a third-party provider",
			"kind", kind,
			"name", name,
			"known", known,
		)
	}
}
