// Package resilience keeps feedback generation and live recitation working
// when a provider backend misbehaves.
//
// A [Breaker] stops calling a backend after repeated failures and lets a few
// probe calls through once a cool-down has passed. A [Group] chains several
// backends of the same kind, each behind its own breaker, and
// [LLMFailover] and [STTFailover] expose a group as a plain provider.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down has passed.
	StateOpen
	// StateHalfOpen lets a bounded number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Defaults applied by [NewBreaker] to zero config fields.
const (
	DefaultMaxFailures = 5
	DefaultCooldown    = 30 * time.Second
	DefaultProbes      = 3
)

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int

	// Cooldown is how long an open breaker waits before probing.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close again.
	Probes int

	// OnStateChange, if set, is called after every transition with the
	// breaker's mutex released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inflight  int // probes admitted in the current half-open window
	successes int // probes that succeeded in the current half-open window
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = DefaultProbes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn when the breaker admits the call and records its outcome.
// A rejected call returns [ErrCircuitOpen] without running fn.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it counts as a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.inflight, b.successes = 0, 0
	}
	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.inflight >= b.cfg.Probes {
			b.mu.Unlock()
			b.notify(changed, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.inflight++
		probe = true
	}
	b.mu.Unlock()
	b.notify(changed, from, StateHalfOpen)
	return probe, nil
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	from := b.state
	if err != nil {
		b.failures++
		// A failed probe re-opens at once; a stale probe finishing after a
		// re-open only refreshes the cool-down.
		if probe || b.state == StateOpen || b.failures >= b.cfg.MaxFailures {
			b.state = StateOpen
			b.openedAt = b.cfg.Now()
		}
	} else {
		b.failures = 0
		if probe && b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.cfg.Probes {
				b.state = StateClosed
			}
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from != to, from, to)
}

func (b *Breaker) notify(changed bool, from, to State) {
	if !changed {
		return
	}
	slog.Info("circuit breaker state changed", "name", b.cfg.Name, "from", from, "to", to)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State reports the current mode. An open breaker whose cool-down has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures, b.inflight, b.successes = 0, 0, 0
	b.mu.Unlock()
	b.notify(from != StateClosed, from, StateClosed)
}
