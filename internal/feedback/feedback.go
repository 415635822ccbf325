// Package feedback produces the child-facing encouragement and quiz shown
// after a collection is finished, and short answers to questions about the
// practice guides. Generation goes through an [llm.Provider]; every failure
// degrades to a static localized message.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/pkg/provider/llm"
)

const (
	defaultTemperature       = 0.7
	defaultAnswerTemperature = 0.5
	defaultTimeout           = 30 * time.Second
)

// plain strips any markup the model emits; replies are shown to children as
// plain text.
var plain = bluemonday.StrictPolicy()

func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(plain.Sanitize(s)))
}

// Quiz is a three-option multiple-choice question. Answer is "A", "B" or "C".
type Quiz struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// Feedback is the post-collection message. Quiz is nil when unavailable.
// Fallback marks static messages.
type Feedback struct {
	Encouragement string `json:"encouragement"`
	Quiz          *Quiz  `json:"quiz,omitempty"`
	Fallback      bool   `json:"fallback,omitempty"`
}

// Option configures a Generator.
type Option func(*Generator)

// WithTemperature sets the sampling temperature for Generate.
func WithTemperature(t float64) Option {
	return func(g *Generator) { g.temperature = t }
}

// WithAnswerTemperature sets the sampling temperature for Answer.
func WithAnswerTemperature(t float64) Option {
	return func(g *Generator) { g.answerTemperature = t }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithMetrics records latency and provider outcomes in m under providerName.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(g *Generator) {
		g.metrics = m
		g.providerName = providerName
	}
}

// Generator talks to the language model. A Generator with a nil provider
// always answers with the "not configured" fallbacks.
type Generator struct {
	llm               llm.Provider
	temperature       float64
	answerTemperature float64
	timeout           time.Duration
	metrics           *observe.Metrics
	providerName      string
}

// New returns a Generator using p, which may be nil.
func New(p llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:               p,
		temperature:       defaultTemperature,
		answerTemperature: defaultAnswerTemperature,
		timeout:           defaultTimeout,
		providerName:      "llm",
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Available reports whether a provider is configured.
func (g *Generator) Available() bool { return g.llm != nil }

// Generate asks for encouragement and a quiz about the named collection in
// lang ("en", "fr" or "ar"; anything else means English). It never fails.
func (g *Generator) Generate(ctx context.Context, collectionName, lang string) Feedback {
	msgs := messagesFor(lang)
	if g.llm == nil {
		return Feedback{Encouragement: msgs.feedbackUnconfigured, Fallback: true}
	}

	start := time.Now()
	text, err := g.complete(ctx, feedbackPrompt(collectionName, lang), g.temperature, true)
	if err == nil {
		var fb Feedback
		if fb, err = ParseFeedback(text); err == nil {
			g.record(ctx, start, "ok")
			return fb
		}
	}
	observe.Logger(ctx).Warn("feedback: generation failed", "collection", collectionName, "lang", lang, "err", err)
	g.record(ctx, start, "fallback")
	return Feedback{Encouragement: msgs.feedbackFailed, Fallback: true}
}

// Answer gives a short, child-friendly answer to a question about topic. It
// never fails.
func (g *Generator) Answer(ctx context.Context, topic, question, lang string) string {
	msgs := messagesFor(lang)
	if g.llm == nil {
		return msgs.answerUnconfigured
	}
	start := time.Now()
	text, err := g.complete(ctx, answerPrompt(topic, question, lang), g.answerTemperature, false)
	text = clean(text)
	if err == nil && text == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		observe.Logger(ctx).Warn("feedback: answer failed", "topic", topic, "err", err)
		g.record(ctx, start, "fallback")
		return msgs.answerFailed
	}
	g.record(ctx, start, "ok")
	return text
}

func (g *Generator) complete(ctx context.Context, prompt string, temperature float64, jsonReply bool) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, "feedback.complete",
		attribute.String("provider.name", g.providerName),
		attribute.Bool("json", jsonReply),
	)
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: temperature,
		JSONOutput:  jsonReply,
	})
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	observe.EndSpan(span, err)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", "error")
			g.metrics.RecordProviderError(ctx, g.providerName, "llm")
		}
		return "", fmt.Errorf("feedback: complete: %w", err)
	}
	if g.metrics != nil {
		g.metrics.RecordProviderRequest(ctx, g.providerName, "llm", "ok")
	}
	return resp.Content, nil
}

func (g *Generator) record(ctx context.Context, start time.Time, status string) {
	if g.metrics != nil {
		g.metrics.RecordFeedback(ctx, time.Since(start).Seconds(), status)
	}
}

// ParseFeedback decodes a model reply, with or without a Markdown code
// fence. An invalid quiz is dropped; a missing encouragement is an error.
func ParseFeedback(text string) (Feedback, error) {
	var fb Feedback
	if err := json.Unmarshal([]byte(StripFences(text)), &fb); err != nil {
		return Feedback{}, fmt.Errorf("feedback: decode reply: %w", err)
	}
	fb.Encouragement = clean(fb.Encouragement)
	if fb.Encouragement == "" {
		return Feedback{}, errors.New("feedback: reply has no encouragement")
	}
	fb.Fallback = false
	if fb.Quiz != nil {
		fb.Quiz.Question = clean(fb.Quiz.Question)
		for i, o := range fb.Quiz.Options {
			fb.Quiz.Options[i] = clean(o)
		}
		fb.Quiz.Answer = strings.ToUpper(strings.TrimSpace(fb.Quiz.Answer))
		if err := fb.Quiz.validate(); err != nil {
			fb.Quiz = nil
		}
	}
	return fb, nil
}

func (q *Quiz) validate() error {
	var errs []error
	if strings.TrimSpace(q.Question) == "" {
		errs = append(errs, errors.New("empty question"))
	}
	if len(q.Options) != 3 {
		errs = append(errs, fmt.Errorf("want 3 options, got %d", len(q.Options)))
	}
	switch q.Answer {
	case "A", "B", "C":
	default:
		errs = append(errs, fmt.Errorf("answer %q is not A, B or C", q.Answer))
	}
	return errors.Join(errs...)
}

// StripFences removes a surrounding ``` or ```json fence.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// Drop the language tag on the opening line.
	if i := strings.IndexByte(body, '\n'); i >= 0 && !strings.ContainsAny(body[:i], "{[") {
		body = body[i+1:]
	} else if i < 0 {
		body = strings.TrimLeft(body, "abcdefghijklmnopqrstuvwxyz")
	}
	return strings.TrimSpace(body)
}
