package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/hafiz/internal/observe"
)

// ErrAllFailed is returned when no backend in a [Group] produced a result.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Member is one backend of a [Group].
type Member[T any] struct {
	Name    string
	Backend T
}

type member[T any] struct {
	Member[T]
	breaker *Breaker
}

// Group tries its backends in order, skipping those whose breaker is open.
// Members are fixed at construction, so a Group is safe for concurrent use.
type Group[T any] struct {
	kind    string
	members []member[T]
	metrics *observe.Metrics
}

// GroupOption customises a [Group].
type GroupOption func(*groupOptions)

type groupOptions struct {
	breaker BreakerConfig
	metrics *observe.Metrics
}

// WithBreaker sets the config used for every member's breaker. The Name field
// is overwritten with the member name.
func WithBreaker(cfg BreakerConfig) GroupOption {
	return func(o *groupOptions) { o.breaker = cfg }
}

// WithMetrics records one provider error per failed member call and every
// breaker state change.
func WithMetrics(m *observe.Metrics) GroupOption {
	return func(o *groupOptions) { o.metrics = m }
}

// NewGroup builds a group of the given kind ("llm", "stt") over members, the
// first being the preferred backend.
func NewGroup[T any](kind string, members []Member[T], opts ...GroupOption) (*Group[T], error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("resilience: %s group needs at least one provider", kind)
	}
	var o groupOptions
	for _, opt := range opts {
		opt(&o)
	}
	g := &Group[T]{kind: kind, metrics: o.metrics}
	if met := o.metrics; met != nil {
		next := o.breaker.OnStateChange
		o.breaker.OnStateChange = func(name string, from, to State) {
			met.RecordBreakerTransition(context.Background(), name, to.String())
			if next != nil {
				next(name, from, to)
			}
		}
	}
	for _, m := range members {
		cfg := o.breaker
		cfg.Name = m.Name
		g.members = append(g.members, member[T]{Member: m, breaker: NewBreaker(cfg)})
	}
	return g, nil
}

// Names lists the member names in order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.Name
	}
	return names
}

// Primary returns the first member's backend.
func (g *Group[T]) Primary() T { return g.members[0].Backend }

// Breaker returns the breaker guarding the named member, or nil.
func (g *Group[T]) Breaker(name string) *Breaker {
	for _, m := range g.members {
		if m.Name == name {
			return m.breaker
		}
	}
	return nil
}

// Call runs fn against each member of g in turn and returns the first
// successful result. Context cancellation stops the chain without trying
// further members.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		var out R
		err := m.breaker.Do(func() error {
			sctx, span := observe.StartSpan(ctx, "provider.call",
				attribute.String("provider.kind", g.kind),
				attribute.String("provider.name", m.Name),
			)
			var err error
			out, err = fn(sctx, m.Backend)
			observe.EndSpan(span, err)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, circuit open", "kind", g.kind, "provider", m.Name)
			continue
		}
		if g.metrics != nil {
			g.metrics.RecordProviderError(ctx, m.Name, g.kind)
		}
		slog.Warn("provider failed, trying next", "kind", g.kind, "provider", m.Name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
