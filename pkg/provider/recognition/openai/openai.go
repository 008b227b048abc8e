// Package openai provides an actor-recognition provider backed by an OpenAI
// vision-capable chat model. The frame is sent inline as a base64 data URL
// and the model is asked to name the well-known actors it can see.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/reelscout/pkg/provider/llm"
	"github.com/MrWong99/reelscout/pkg/provider/recognition"
)

// DefaultModel is the default vision model.
const DefaultModel = "gpt-4.1-mini"

const systemPrompt = `You recognise film and television actors in still frames.
List only people you can identify by name with reasonable certainty. Do not guess
from costume, setting or captions alone.

Respond with JSON: {"actors":[{"name":"<full name>","confidence":<0.0-1.0>}]}
Return {"actors":[]} when no actor is recognisable.`

var _ recognition.Provider = (*Provider)(nil)

// Provider implements recognition.Provider using OpenAI chat completions with
// image input.
type Provider struct {
	client oai.Client
	model  string
	detail string
}

type config struct {
	baseURL string
	timeout time.Duration
	detail  string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDetail sets the image detail level ("low", "high" or "auto").
// Defaults to "low", which is enough for face recognition and much cheaper.
func WithDetail(detail string) Option {
	return func(c *config) {
		c.detail = detail
	}
}

// New constructs a new vision recognition Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai recognition: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{detail: "low"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, detail: cfg.detail}, nil
}

type actorsResponse struct {
	Actors []struct {
		Name       string  `json:"name"`
		Confidence float64 `json:"confidence"`
	} `json:"actors"`
}

// Recognize implements recognition.Provider.
func (p *Provider) Recognize(ctx context.Context, frame []byte) ([]recognition.Detection, error) {
	if len(frame) == 0 {
		return nil, recognition.ErrEmptyFrame
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(frame))
	if err != nil {
		return nil, fmt.Errorf("openai recognition: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai recognition: empty choices in response")
	}
	return parseDetections(resp.Choices[0].Message.Content)
}

func (p *Provider) buildParams(frame []byte) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart("Which actors are visible in this frame?"),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
					URL:    dataURL(frame),
					Detail: p.detail,
				}),
			}),
		},
		Temperature: param.NewOpt(0.0),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
}

// parseDetections decodes the model output, dropping nameless entries and
// clamping confidences into [0, 1].
func parseDetections(content string) ([]recognition.Detection, error) {
	var r actorsResponse
	if err := llm.DecodeJSON(content, &r); err != nil {
		return nil, fmt.Errorf("openai recognition: %w", err)
	}
	out := make([]recognition.Detection, 0, len(r.Actors))
	for _, a := range r.Actors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			continue
		}
		out = append(out, recognition.Detection{
			Name:       name,
			Confidence: min(max(a.Confidence, 0), 1),
		})
	}
	return out, nil
}

// dataURL encodes frame as an inline data URL with a sniffed MIME type.
func dataURL(frame []byte) string {
	mime := http.DetectContentType(frame)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(frame)
}
