// Package observe holds the observability plumbing shared by every Hafiz
// subsystem: OpenTelemetry instruments exported to Prometheus, tracing
// helpers, trace-aware slog loggers and the HTTP middleware.
//
// Production code uses [DefaultMetrics], bound to the global meter provider
// that [InitProvider] installs. Tests build their own with [NewMetrics] over
// a ManualReader.
package observe

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/hafiz"

// Metrics is the set of Hafiz instruments. The attribute keys each one is
// recorded with are listed beside it.
type Metrics struct {
	RecitationAttempts   metric.Int64Counter       // verdict
	RecitationSimilarity metric.Float64Histogram   //
	ActiveReciteSessions metric.Int64UpDownCounter //

	ProgressWrites metric.Int64Counter // key, status

	FeedbackDuration   metric.Float64Histogram // status: ok|fallback
	ProviderRequests   metric.Int64Counter     // provider, kind, status
	ProviderErrors     metric.Int64Counter     // provider, kind
	BreakerTransitions metric.Int64Counter     // provider, state

	ToolCalls metric.Int64Counter // tool, status

	HTTPRequestDuration metric.Float64Histogram // method, path
}

// Seconds; model round trips dominate.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30}

// Tenths of [0, 1]; 0.6 is the default pass mark.
var similarityBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1}

// NewMetrics creates every instrument on mp. All creation errors are
// returned together.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var errs []error
	keep := func(err error) { errs = append(errs, err) }
	var err error

	met.RecitationAttempts, err = m.Int64Counter("hafiz.recitation.attempts",
		metric.WithDescription("Scored recitation attempts by verdict."))
	keep(err)
	met.RecitationSimilarity, err = m.Float64Histogram("hafiz.recitation.similarity",
		metric.WithDescription("Word-overlap similarity of scored attempts."),
		metric.WithExplicitBucketBoundaries(similarityBuckets...))
	keep(err)
	met.ActiveReciteSessions, err = m.Int64UpDownCounter("hafiz.recite.sessions.active",
		metric.WithDescription("Open streaming recitation sessions."))
	keep(err)
	met.ProgressWrites, err = m.Int64Counter("hafiz.progress.writes",
		metric.WithDescription("Progress store writes by key and status."))
	keep(err)
	met.FeedbackDuration, err = m.Float64Histogram("hafiz.feedback.duration",
		metric.WithDescription("Latency of feedback and answer generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...))
	keep(err)
	met.ProviderRequests, err = m.Int64Counter("hafiz.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind and status."))
	keep(err)
	met.ProviderErrors, err = m.Int64Counter("hafiz.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."))
	keep(err)
	met.BreakerTransitions, err = m.Int64Counter("hafiz.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."))
	keep(err)
	met.ToolCalls, err = m.Int64Counter("hafiz.tool.calls",
		metric.WithDescription("MCP tool invocations by tool and status."))
	keep(err)
	met.HTTPRequestDuration, err = m.Float64Histogram("hafiz.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"))
	keep(err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide instruments, created on first use
// from otel.GetMeterProvider. Call it after [InitProvider] so they export.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordAttempt(ctx context.Context, verdict string, similarity float64) {
	m.RecitationAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
	m.RecitationSimilarity.Record(ctx, similarity)
}

func (m *Metrics) RecordProgressWrite(ctx context.Context, key, status string) {
	m.ProgressWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key", key),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordFeedback(ctx context.Context, seconds float64, status string) {
	m.FeedbackDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordBreakerTransition counts a breaker moving to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("state", state),
	))
}

func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}
