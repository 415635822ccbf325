// Package openai is an llm.Provider for the OpenAI chat completions API and
// servers that speak it (LM Studio, vLLM, LocalAI, ...), selected with
// WithBaseURL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/hafiz/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider talks to one model on one endpoint.
type Provider struct {
	client     oai.Client
	model      string
	nativeJSON bool
}

type options struct {
	baseURL      string
	organization string
	httpClient   *http.Client
	timeout      time.Duration
	jsonMode     *bool
}

// Option configures a Provider.
type Option func(*options)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithOrganization sends the OpenAI organization header.
func WithOrganization(org string) Option {
	return func(o *options) { o.organization = org }
}

// WithHTTPClient replaces the HTTP client, e.g. with an instrumented one.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout bounds each request. It is applied to the client given with
// WithHTTPClient when both are set.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithJSONMode overrides whether response_format is sent for JSON replies.
// It defaults to true for api.openai.com and false for other base URLs, since
// many compatible servers reject the field.
func WithJSONMode(enabled bool) Option {
	return func(o *options) { o.jsonMode = &enabled }
}

// New returns a provider for model. apiKey may be any non-empty string for
// local servers that ignore it.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(o.organization))
	}
	hc := o.httpClient
	if o.timeout > 0 {
		if hc == nil {
			hc = &http.Client{}
		} else {
			c := *hc
			hc = &c
		}
		hc.Timeout = o.timeout
	}
	if hc != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(hc))
	}

	native := o.baseURL == "" || strings.Contains(o.baseURL, "api.openai.com")
	if o.jsonMode != nil {
		native = *o.jsonMode
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, nativeJSON: native}, nil
}

// Complete sends one chat completion request.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities reports limits for the GPT-4o and GPT-4.1 families and
// conservative defaults for anything else.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, NativeJSON: p.nativeJSON}
	switch {
	case strings.HasPrefix(p.model, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(p.model, "gpt-4.1"):
		caps.ContextWindow = 1_047_576
		caps.MaxOutputTokens = 32_768
	}
	return caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	system := req.SystemPrompt
	if req.JSONOutput && !p.nativeJSON {
		system = strings.TrimSpace(system + "\n" + llm.JSONInstruction)
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONOutput && p.nativeJSON {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", m.Role)
}
