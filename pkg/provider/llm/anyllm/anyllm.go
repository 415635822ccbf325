// Package anyllm adapts github.com/mozilla-ai/any-llm-go to llm.Provider, so
// one adapter covers Gemini, OpenAI, Anthropic, Ollama, DeepSeek, Mistral,
// Groq, llama.cpp and llamafile.
//
//	p, err := anyllm.New("gemini", "gemini-2.5-flash", anyllmlib.WithAPIKey(key))
//	p, err := anyllm.NewOllama("llama3.2")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/hafiz/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// LlamafileURL is where a llamafile serves its OpenAI-compatible API by default.
const LlamafileURL = "http://localhost:8080/v1"

var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	// llamafile speaks the OpenAI API locally and ignores the key. Caller
	// options come last so a configured base URL wins.
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		defaults := []anyllmlib.Option{anyllmlib.WithAPIKey("no-key"), anyllmlib.WithBaseURL(LlamafileURL)}
		return anyllmoai.New(append(defaults, o...)...)
	},
}

// Provider is one model on one any-llm backend.
type Provider struct {
	name    string
	backend anyllmlib.Provider
	model   string
}

// New creates a provider for model on the named backend (see
// SupportedProviders). Without anyllmlib.WithAPIKey the backend reads its
// usual environment variable (GEMINI_API_KEY, OPENAI_API_KEY, ...).
func New(providerName, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, errors.New("anyllm: provider name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	name := strings.ToLower(providerName)
	create, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(SupportedProviders(), ", "))
	}
	backend, err := create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{name: name, backend: backend, model: model}, nil
}

// NewGemini is New("gemini", ...), the default feedback backend.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama is New("ollama", ...). Without options it connects to
// http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// SupportedProviders lists the backend names accepted by New, sorted.
func SupportedProviders() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Name returns the backend name.
func (p *Provider) Name() string { return p.name }

// Complete sends one completion request.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s response has no choices", p.name)
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// buildParams maps the request onto any-llm. JSON replies are requested
// through the system prompt, which every backend honours.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	system := req.SystemPrompt
	if req.JSONOutput {
		system = strings.TrimSpace(system + "\n" + llm.JSONInstruction)
	}

	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if system != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}
	return params
}

func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content}
}

// modelCapabilities knows the model families feedback is usually pointed at.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gemini-2.5"):
		caps.ContextWindow, caps.MaxOutputTokens = 1_048_576, 65_536
	case strings.Contains(m, "gemini-2.0-flash"), strings.Contains(m, "gemini-1.5-flash"):
		caps.ContextWindow, caps.MaxOutputTokens = 1_048_576, 8_192
	case strings.HasPrefix(m, "gemini"):
		caps.MaxOutputTokens = 8_192
	case strings.HasPrefix(m, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(m, "claude"):
		caps.ContextWindow, caps.MaxOutputTokens = 200_000, 8_192
	case strings.HasPrefix(m, "llama3"), strings.HasPrefix(m, "qwen"):
		caps.ContextWindow, caps.MaxOutputTokens = 32_768, 2_048
	}
	return caps
}
