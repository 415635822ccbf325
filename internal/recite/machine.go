package recite

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrUnsupported means no speech recognizer is available. It is sticky:
	// once reported, Start keeps failing with it.
	ErrUnsupported = errors.New("recite: speech recognition is not supported in this environment")

	// ErrStartFailed wraps failures to open a recognition session.
	ErrStartFailed = errors.New("recite: could not start listening, please try again")
)

// State is the recitation widget state.
type State int

const (
	Idle State = iota
	Listening
	Processing
	Correct
	Incorrect
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// VerdictFunc receives every scored attempt, correct or not.
type VerdictFunc func(attempt Attempt)

// Snapshot is a consistent copy of a Machine's observable state.
type Snapshot struct {
	State   State    `json:"state"`
	VerseID int      `json:"verse_id"`
	Interim string   `json:"interim,omitempty"`
	Final   string   `json:"final,omitempty"`
	Error   string   `json:"error,omitempty"`
	Attempt *Attempt `json:"attempt,omitempty"`
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithVerdictFunc registers the verdict callback.
func WithVerdictFunc(fn VerdictFunc) MachineOption {
	return func(m *Machine) { m.onVerdict = fn }
}

// WithObserver registers a callback invoked with a Snapshot after every
// transition or transcript update.
func WithObserver(fn func(Snapshot)) MachineOption {
	return func(m *Machine) { m.observe = fn }
}

// Machine is the verdict state machine for one verse at a time. Events may
// arrive from recognizer goroutines; callbacks run outside the lock in the
// order events were applied by the calling goroutine.
type Machine struct {
	mu          sync.Mutex
	scorer      *Scorer
	state       State
	verseID     int
	reference   string
	interim     string
	final       []string
	err         error
	unsupported bool
	attempt     *Attempt
	// round identifies the current attempt. Events from a listener of an
	// earlier round are dropped.
	round uint64

	onVerdict VerdictFunc
	observe   func(Snapshot)
}

// NewMachine returns an Idle machine scoring with scorer.
func NewMachine(scorer *Scorer, opts ...MachineOption) *Machine {
	if scorer == nil {
		scorer = defaultScorer
	}
	m := &Machine{scorer: scorer}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetScorer swaps the scorer used for subsequent attempts.
func (m *Machine) SetScorer(s *Scorer) {
	m.mu.Lock()
	m.scorer = s
	m.mu.Unlock()
}

// Scorer returns the scorer in use.
func (m *Machine) Scorer() *Scorer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scorer
}

// SetVerse makes verse the active one. The machine resets to Idle, or to
// Correct when the verse was already completed.
func (m *Machine) SetVerse(verseID int, reference string, completed bool) {
	m.apply(func() {
		m.verseID = verseID
		m.reference = reference
		m.clearAttempt()
		m.state = Idle
		if completed {
			m.state = Correct
		}
	})
}

// Start begins a new attempt from any state, clearing previous transcripts.
func (m *Machine) Start() error {
	_, err := m.begin()
	return err
}

// begin starts a new attempt and returns its round.
func (m *Machine) begin() (uint64, error) {
	var (
		round uint64
		err   error
	)
	m.apply(func() {
		if m.unsupported {
			err = ErrUnsupported
			return
		}
		m.clearAttempt()
		m.state = Listening
		round = m.round
	})
	return round, err
}

// Interim replaces the live transcript. Ignored unless Listening.
func (m *Machine) Interim(text string) {
	m.apply(func() { m.interimLocked(text) })
}

// Final appends a committed transcript segment. Ignored unless Listening.
func (m *Machine) Final(text string) {
	m.apply(func() { m.finalLocked(text) })
}

// End reports that listening stopped. With a non-empty final transcript the
// attempt is scored and the verdict callback fires; otherwise the machine
// returns to Idle.
func (m *Machine) End() {
	var verdict *Attempt
	m.apply(func() { verdict = m.endLocked() })
	m.deliver(verdict)
}

// Stop is the user's stop action; it ends listening like End.
func (m *Machine) Stop() { m.End() }

// Cancel abandons the current attempt without scoring it.
func (m *Machine) Cancel() {
	m.apply(m.cancelLocked)
}

// Fail records a recognition error and abandons the attempt. The machine
// never scores after a failure.
func (m *Machine) Fail(err error) {
	if err == nil {
		return
	}
	m.apply(func() { m.failLocked(err) })
}

func (m *Machine) interimLocked(text string) {
	if m.state == Listening {
		m.interim = text
	}
}

func (m *Machine) finalLocked(text string) {
	if m.state != Listening {
		return
	}
	if t := strings.TrimSpace(text); t != "" {
		m.final = append(m.final, t)
	}
	m.interim = ""
}

func (m *Machine) endLocked() *Attempt {
	if m.state != Listening {
		return nil
	}
	transcript := strings.Join(m.final, " ")
	if transcript == "" {
		m.state = Idle
		return nil
	}
	m.state = Processing
	a := m.scorer.Attempt(m.verseID, m.reference, transcript)
	m.attempt = &a
	m.state = Incorrect
	if a.Correct() {
		m.state = Correct
	}
	return &a
}

func (m *Machine) cancelLocked() {
	if m.state == Listening || m.state == Processing {
		m.clearAttempt()
		m.state = Idle
	}
}

func (m *Machine) failLocked(err error) {
	if m.state == Listening || m.state == Processing {
		m.state = Idle
	}
	m.interim = ""
	m.final = nil
	m.err = err
	m.round++
}

func (m *Machine) deliver(verdict *Attempt) {
	if verdict != nil && m.onVerdict != nil {
		m.onVerdict(*verdict)
	}
}

// MarkUnsupported records that no recognizer is available.
func (m *Machine) MarkUnsupported() {
	m.apply(func() {
		m.unsupported = true
		m.err = ErrUnsupported
		if m.state == Listening || m.state == Processing {
			m.state = Idle
		}
	})
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error to display, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Snapshot returns a copy of the observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Highlight marks the active verse's words against the live transcript.
func (m *Machine) Highlight() []WordMark {
	m.mu.Lock()
	ref, heard, norm := m.reference, m.interim, m.scorer.Normalizer()
	if heard == "" {
		heard = strings.Join(m.final, " ")
	}
	m.mu.Unlock()
	return norm.Highlight(ref, heard)
}

func (m *Machine) clearAttempt() {
	m.round++
	m.interim = ""
	m.final = nil
	m.attempt = nil
	if !m.unsupported {
		m.err = nil
	}
}

func (m *Machine) apply(fn func()) {
	m.mu.Lock()
	fn()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if m.observe != nil {
		m.observe(snap)
	}
}

// applyRound is apply for events of one attempt. It drops fn, and reports
// false, once round is no longer current.
func (m *Machine) applyRound(round uint64, fn func()) bool {
	m.mu.Lock()
	if m.round != round {
		m.mu.Unlock()
		return false
	}
	fn()
	snap := m.snapshotLocked()
	m.mu.Unlock()
	if m.observe != nil {
		m.observe(snap)
	}
	return true
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		State:   m.state,
		VerseID: m.verseID,
		Interim: m.interim,
		Final:   strings.Join(m.final, " "),
	}
	if m.err != nil {
		s.Error = m.err.Error()
	}
	if m.attempt != nil {
		a := *m.attempt
		s.Attempt = &a
	}
	return s
}
