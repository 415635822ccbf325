// NativeProvider needs the whisper.cpp static library (libwhisper.a) and
// headers at link time via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider with an in-process whisper.cpp model.
// The model is loaded once and shared; every utterance gets a fresh context.
// At most the configured number of utterances decode at once, since each
// decode keeps all cores busy.
type NativeProvider struct {
	model       whisperlib.Model
	language    string
	seg         segmentation
	concurrency int64
	slots       *semaphore.Weighted
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the recognition language. Defaults to "ar".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceThresholdMs sets how much trailing silence closes an utterance.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.seg.silenceThresholdMs = ms }
}

// WithNativeConcurrency caps simultaneous decodes across all sessions.
// Defaults to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.concurrency = int64(n)
		}
	}
}

// NewNative loads the model at modelPath. Call Close when done.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
		seg: segmentation{
			sampleRate:          defaultSampleRate,
			silenceThresholdMs:  defaultSilenceThresholdMs,
			maxBufferDurationMs: defaultMaxBufferDurationMs,
		},
		concurrency: 1,
	}
	for _, o := range opts {
		o(p)
	}
	p.slots = semaphore.NewWeighted(p.concurrency)
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a session. whisper.cpp expects 16 kHz audio; callers
// must resample before SendAudio when the source rate differs.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	ch := max(cfg.Channels, 1)

	infer := func(ctx context.Context, pcm []byte, prompt string) (string, error) {
		if err := p.slots.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("whisper: wait for decoder: %w", err)
		}
		defer p.slots.Release(1)
		return p.infer(pcmToFloat32Mono(pcm, ch), lang, prompt)
	}
	return startBatchSession(ctx, p.seg, cfg, infer), nil
}

func (p *NativeProvider) infer(samples []float32, lang, prompt string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
