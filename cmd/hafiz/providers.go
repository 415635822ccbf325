package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/hafiz/internal/app"
	"github.com/MrWong99/hafiz/internal/config"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/resilience"
	"github.com/MrWong99/hafiz/pkg/provider/llm"
	"github.com/MrWong99/hafiz/pkg/provider/llm/anyllm"
	"github.com/MrWong99/hafiz/pkg/provider/llm/openai"
	"github.com/MrWong99/hafiz/pkg/provider/stt"
	"github.com/MrWong99/hafiz/pkg/provider/stt/deepgram"
	"github.com/MrWong99/hafiz/pkg/provider/stt/whisper"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// STT factories receive the recitation settings so the stream language and
// sample rate match what the browser sends.
func registerBuiltinProviders(reg *config.Registry, rc config.RecitationConfig) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted providers share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"gemini", "openai", "anthropic",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	// Any server speaking the OpenAI chat completions API.
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{
			openai.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if v, ok := config.OptBool(entry.Options, "json_mode"); ok {
			opts = append(opts, openai.WithJSONMode(v))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		key := entry.APIKey
		if key == "" && entry.BaseURL != "" {
			key = "no-key" // local servers ignore it
		}
		return openai.New(key, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithLanguage(rc.Language),
			deepgram.WithSampleRate(rc.SampleRate),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if ms, ok := config.OptInt(entry.Options, "endpointing_ms"); ok {
			opts = append(opts, deepgram.WithEndpointing(time.Duration(ms)*time.Millisecond))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(rc.Language),
			whisper.WithSampleRate(rc.SampleRate),
			whisper.WithHTTPClient(&http.Client{
				Timeout:   30 * time.Second,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if ms, ok := config.OptInt(entry.Options, "silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{whisper.WithNativeLanguage(rc.Language)}
		if ms, ok := config.OptInt(entry.Options, "silence_threshold_ms"); ok {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		if n, ok := config.OptInt(entry.Options, "concurrency"); ok {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	for _, kind := range []string{"llm", "stt"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg. An unconfigured
// slot stays nil: feedback then falls back to static messages and live
// recitation reports itself unsupported. When fallbacks are listed the slot
// holds a failover chain with one circuit breaker per provider.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	pc := cfg.Providers
	opts := []resilience.GroupOption{
		resilience.WithBreaker(resilience.BreakerConfig{
			MaxFailures: pc.CircuitBreaker.MaxFailures,
			Cooldown:    pc.CircuitBreaker.Cooldown,
		}),
		resilience.WithMetrics(observe.DefaultMetrics()),
	}
	ps := &app.Providers{}

	llms, err := buildChain("llm", pc.LLM, pc.LLMFallbacks, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	switch len(llms) {
	case 0:
	case 1:
		ps.LLM = llms[0].Backend
	default:
		if ps.LLM, err = resilience.NewLLMFailover(llms, opts...); err != nil {
			return nil, err
		}
	}

	stts, err := buildChain("stt", pc.STT, pc.STTFallbacks, reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	switch len(stts) {
	case 0:
	case 1:
		ps.STT = stts[0].Backend
	default:
		if ps.STT, err = resilience.NewSTTFailover(stts, opts...); err != nil {
			return nil, err
		}
	}

	return ps, nil
}

// buildChain creates the primary and fallback providers of one kind, in
// order. Entries naming an unregistered provider are skipped with a warning.
func buildChain[T any](kind string, primary config.ProviderEntry, fallbacks []config.ProviderEntry, create func(config.ProviderEntry) (T, error)) ([]resilience.Member[T], error) {
	if primary.Name == "" {
		return nil, nil
	}
	var chain []resilience.Member[T]
	for _, entry := range append([]config.ProviderEntry{primary}, fallbacks...) {
		p, err := create(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown provider, skipping", "kind", kind, "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
		}
		slog.Info("provider created", "kind", kind, "name", entry.Name, "position", len(chain))
		chain = append(chain, resilience.Member[T]{Name: entry.Name, Backend: p})
	}
	return chain, nil
}
