// Package deepgram is an stt.Provider over Deepgram's live transcription
// WebSocket (wss://api.deepgram.com/v1/listen).
//
// Recitation sessions send the verse words as recognition hints: "keywords"
// with a boost for nova-2 and older models, "keyterm" for nova-3. Children
// pause between verses, so an idle session sends KeepAlive frames to stop
// Deepgram from closing the socket after ten seconds without audio.
package deepgram

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

const (
	liveEndpoint      = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "ar"
	defaultSampleRate = 16000

	// A short endpointing window splits one recited verse into several
	// finals at the pauses between words.
	defaultEndpointingMs = 1200

	// Deepgram drops a stream after 10 s without data.
	defaultKeepAlive = 8 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-3" or "whisper-large".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when StreamConfig.Language is empty.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithSampleRate sets the rate used when StreamConfig.SampleRate is zero.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithEndpointing sets how much trailing silence ends an utterance.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) { p.endpointingMs = int(d / time.Millisecond) }
}

// WithEndpoint replaces the live endpoint, for self-hosted Deepgram or tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithKeepAlive sets the idle interval after which a KeepAlive frame is
// sent. Zero or less disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// Provider opens Deepgram live sessions with one API key.
type Provider struct {
	apiKey        string
	endpoint      string
	model         string
	language      string
	sampleRate    int
	endpointingMs int
	keepAlive     time.Duration
}

func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:        apiKey,
		endpoint:      liveEndpoint,
		model:         defaultModel,
		language:      defaultLanguage,
		sampleRate:    defaultSampleRate,
		endpointingMs: defaultEndpointingMs,
		keepAlive:     defaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram. The session's loops run until Close or until
// ctx is cancelled.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	return openSession(ctx, conn, p.keepAlive), nil
}

// usesKeyterms reports whether model takes "keyterm" hints instead of
// boosted "keywords".
func usesKeyterms(model string) bool {
	return strings.HasPrefix(model, "nova-3")
}

func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cmp.Or(cfg.Language, p.language)
	sr := cmp.Or(cfg.SampleRate, p.sampleRate)

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("interim_results", "true")
	if p.endpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(p.endpointingMs))
	}
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		if usesKeyterms(p.model) {
			q.Add("keyterm", kw.Keyword)
			continue
		}
		q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
