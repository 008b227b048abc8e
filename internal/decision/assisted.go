package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/reelscout/internal/observe"
	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/provider/llm"
	"github.com/MrWong99/reelscout/pkg/types"
)

const (
	defaultMaxCandidates      = 5
	defaultMaxTranscriptChars = 2000
	defaultTemperature        = 0
	defaultMaxTokens          = 200
)

// errUnusableResponse marks a model reply that cannot be turned into a
// verdict. It never leaves this package.
var errUnusableResponse = errors.New("decision: unusable assisted response")

const systemPrompt = `You are the final arbiter of a live movie and TV identification service.
Decide whether any candidate title matches what the viewer is currently watching.

Evidence, strongest first:
1. Overlap between the transcript and each candidate's excerpt: distinctive phrases, names, numbers, places. The transcript comes from speech recognition and may contain small errors or near-homophones.
2. Cast evidence, only as a tie-breaker: a higher cast_match and more matched_cast names mean stronger support. Do not infer cast that is not listed.

Policy:
- If exactly one candidate clearly fits, return it as the match using its type and id exactly as given.
- If the evidence is promising but not decisive, set "requery" to true.
- If nothing meaningfully matches, set "end" to true.
- Never invent ids. Never pick a candidate whose excerpt does not align with the transcript.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"match": {"type": "movie|tv", "id": "<id>"} or null, "requery": <bool>, "end": <bool>, "confidence": <0.0-1.0>}`

// AssistedOption is a functional option for configuring an [Assisted] decider.
type AssistedOption func(*Assisted)

// WithLimits caps how many candidates and how many trailing transcript
// characters are shown to the model. Non-positive values keep the defaults
// (5 candidates, 2000 characters).
func WithLimits(maxCandidates, maxTranscriptChars int) AssistedOption {
	return func(a *Assisted) {
		if maxCandidates > 0 {
			a.maxCandidates = maxCandidates
		}
		if maxTranscriptChars > 0 {
			a.maxTranscriptChars = maxTranscriptChars
		}
	}
}

// WithTemperature sets the sampling temperature. Default: 0.
func WithTemperature(temp float64) AssistedOption {
	return func(a *Assisted) {
		a.temperature = temp
	}
}

// WithRetry configures retries of failed model calls. By default a call is
// attempted once.
func WithRetry(cfg resilience.RetryConfig) AssistedOption {
	return func(a *Assisted) {
		a.retry = cfg
	}
}

// Assisted is the model-assisted [Decider]. A clear, cast-corroborated
// winner is committed without consulting the model.
type Assisted struct {
	llm   llm.Provider
	rules Rules
	retry resilience.RetryConfig

	maxCandidates      int
	maxTranscriptChars int
	temperature        float64
}

// NewAssisted returns an Assisted decider that uses rules for the fast path
// and provider for arbitration.
func NewAssisted(provider llm.Provider, rules Rules, opts ...AssistedOption) *Assisted {
	a := &Assisted{
		llm:                provider,
		rules:              rules,
		retry:              resilience.RetryConfig{Name: "llm", Attempts: 1},
		maxCandidates:      defaultMaxCandidates,
		maxTranscriptChars: defaultMaxTranscriptChars,
		temperature:        defaultTemperature,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Decide implements [Decider].
//
// Model failures that survive the retry policy are returned as errors; the
// caller abandons the pass. Replies that do not name a presented candidate
// yield Continue.
func (a *Assisted) Decide(ctx context.Context, candidates []types.Candidate, s Summary) (types.Decision, error) {
	if len(candidates) == 0 {
		return orAbstain(types.Decision{Outcome: types.Continue, Reason: ReasonNoCandidates}, s), nil
	}

	// The rules alone may only commit a cast-corroborated winner. A spent
	// score window ends the session without asking the model.
	switch d := a.rules.evaluate(candidates, s); {
	case d.Outcome == types.Abstained:
		return d, nil
	case d.Outcome == types.Committed && candidates[0].MatchConfidence > 0:
		return d, nil
	}

	presented := candidates[:min(len(candidates), a.maxCandidates)]
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: a.buildPrompt(presented, s)}},
		Temperature:  a.temperature,
		MaxTokens:    defaultMaxTokens,
		JSONMode:     true,
	}
	resp, err := resilience.RetryWithResult(ctx, a.retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		return a.llm.Complete(ctx, req)
	})
	if err != nil {
		return types.Decision{Outcome: types.Continue}, fmt.Errorf("decision: assisted reasoning: %w", err)
	}

	d, err := interpret(resp, presented)
	if err != nil {
		observe.Logger(ctx).Debug("assisted decision treated as continue", "pass", s.Pass, "err", err)
		d = types.Decision{Outcome: types.Continue, Reason: ReasonUnusable}
	}
	return orAbstain(d, s), nil
}

// buildPrompt renders the candidates and the transcript tail for the model.
func (a *Assisted) buildPrompt(candidates []types.Candidate, s Summary) string {
	var sb strings.Builder
	sb.WriteString("Candidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. type=%s id=%s score=%.3f cast_match=%.2f",
			i+1, c.Media.Kind, c.Media.ID, c.Effective(), c.MatchConfidence)
		if len(c.MatchedCast) > 0 {
			fmt.Fprintf(&sb, " matched_cast=%s", strings.Join(c.MatchedCast, ", "))
		}
		fmt.Fprintf(&sb, "\n   excerpt: %q\n", c.BestChunk.Text)
	}

	if len(s.Observations) > 0 {
		names := make([]string, 0, len(s.Observations))
		for _, o := range s.Observations {
			names = append(names, o.Name)
		}
		fmt.Fprintf(&sb, "\nActors on screen: %s\n", strings.Join(names, ", "))
	}

	fmt.Fprintf(&sb, "\nTranscript (most recent):\n%s\n", tail(s.Transcript, a.maxTranscriptChars))
	if s.MaxPasses > 0 {
		fmt.Fprintf(&sb, "\nThis is attempt %d of %d.\n", s.Pass, s.MaxPasses)
	}
	return sb.String()
}

// verdict is the JSON object the model is asked to return.
type verdict struct {
	Match *struct {
		Type string     `json:"type"`
		ID   flexString `json:"id"`
	} `json:"match"`
	Requery    bool    `json:"requery"`
	End        bool    `json:"end"`
	Confidence float64 `json:"confidence"`
}

// interpret maps a model reply onto a decision. Errors wrap
// errUnusableResponse.
func interpret(resp *llm.CompletionResponse, presented []types.Candidate) (types.Decision, error) {
	if resp == nil {
		return types.Decision{}, fmt.Errorf("%w: empty response", errUnusableResponse)
	}
	var v verdict
	if err := llm.DecodeJSON(resp.Content, &v); err != nil {
		return types.Decision{}, fmt.Errorf("%w: %w", errUnusableResponse, err)
	}

	if v.Match != nil && (v.Match.Type != "" || v.Match.ID != "") {
		c, ok := lookup(presented, v.Match.Type, string(v.Match.ID))
		if !ok {
			return types.Decision{}, fmt.Errorf("%w: unknown candidate %s:%s", errUnusableResponse, v.Match.Type, v.Match.ID)
		}
		conf := clamp01(v.Confidence)
		if conf == 0 {
			conf = clamp01(c.Effective())
		}
		return types.Decision{Outcome: types.Committed, Media: c.Media, Confidence: conf, Reason: ReasonModelMatch}, nil
	}

	if v.End {
		return types.Decision{Outcome: types.Continue, Reason: ReasonModelEnd}, nil
	}
	return types.Decision{Outcome: types.Continue, Reason: ReasonModelRequery}, nil
}

// lookup finds the presented candidate the model named. id may also carry
// the kind prefix ("movie:603"). An empty kind matches when the id is
// unambiguous.
func lookup(presented []types.Candidate, kind, id string) (types.Candidate, bool) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	id = strings.TrimSpace(id)
	if parsed, err := types.ParseMediaID(id); err == nil {
		kind, id = string(parsed.Kind), parsed.ID
	}

	var (
		found types.Candidate
		n     int
	)
	for _, c := range presented {
		if c.Media.ID != id {
			continue
		}
		if kind != "" && string(c.Media.Kind) != kind {
			continue
		}
		found = c
		n++
	}
	return found, n == 1
}

// tail returns at most n trailing bytes of s without splitting a rune.
func tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// flexString accepts both JSON strings and numbers; models frequently emit
// numeric ids unquoted.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if i, err := n.Int64(); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

var _ Decider = (*Assisted)(nil)
