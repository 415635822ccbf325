package recite

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

// keywordBoost is the Deepgram-scale boost applied to the verse words.
const keywordBoost = 2

// Recognizer binds Machines to a speech-to-text provider. A nil provider
// means recognition is unsupported.
type Recognizer struct {
	provider stt.Provider
	cfg      stt.StreamConfig
}

// NewRecognizer returns a Recognizer opening streams with cfg as the base
// configuration.
func NewRecognizer(p stt.Provider, cfg stt.StreamConfig) *Recognizer {
	return &Recognizer{provider: p, cfg: cfg}
}

// Supported reports whether a provider is configured.
func (r *Recognizer) Supported() bool {
	return r != nil && r.provider != nil
}

// Listen starts an attempt on m and opens a recognition stream biased
// towards the words of reference. The returned Listener forwards audio and
// pumps transcripts into m until the recognizer reports a final transcript,
// the stream ends, or ctx is cancelled.
func (r *Recognizer) Listen(ctx context.Context, m *Machine, reference string) (*Listener, error) {
	if !r.Supported() {
		m.MarkUnsupported()
		return nil, ErrUnsupported
	}
	round, err := m.begin()
	if err != nil {
		return nil, err
	}

	cfg := r.cfg
	cfg.Keywords = stt.KeywordsFromWords(m.Scorer().Normalizer().Words(reference), keywordBoost)
	h, err := r.provider.StartStream(ctx, cfg)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrStartFailed, err)
		m.applyRound(round, func() { m.failLocked(err) })
		return nil, err
	}

	l := &Listener{
		m:     m,
		h:     h,
		round: round,
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.pump(ctx)
	return l, nil
}

// Listener is one open recognition stream feeding a Machine. It only acts
// on the attempt it started: once that attempt is cancelled, failed or
// replaced by a new Start, late transcripts from its stream are dropped.
type Listener struct {
	m     *Machine
	h     stt.SessionHandle
	round uint64

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	once     sync.Once
}

// SendAudio forwards a PCM chunk. A send failure fails the attempt.
func (l *Listener) SendAudio(chunk []byte) error {
	if err := l.h.SendAudio(chunk); err != nil {
		l.m.applyRound(l.round, func() { l.m.failLocked(err) })
		return err
	}
	return nil
}

// Stop closes the stream so pending audio is flushed; the resulting final
// transcript, if any, is scored.
func (l *Listener) Stop() {
	l.once.Do(func() { _ = l.h.Close() })
}

// Cancel abandons the attempt and closes the stream. The pump exits without
// delivering anything further, even if the stream flushes a final
// transcript while closing.
func (l *Listener) Cancel() {
	l.quitOnce.Do(func() { close(l.quit) })
	l.m.applyRound(l.round, l.m.cancelLocked)
	l.Stop()
}

// Done is closed once the pump has delivered its last event.
func (l *Listener) Done() <-chan struct{} { return l.done }

func (l *Listener) pump(ctx context.Context) {
	defer close(l.done)
	defer l.Stop()

	partials, finals := l.h.Partials(), l.h.Finals()
	for partials != nil || finals != nil {
		select {
		case <-l.quit:
			return
		case <-ctx.Done():
			l.m.applyRound(l.round, l.m.cancelLocked)
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			l.apply(func() { l.m.interimLocked(t.Text) })
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			l.apply(func() { l.m.finalLocked(t.Text) })
			l.end()
			return
		}
	}
	l.end()
}

// apply runs fn on the machine unless the listener was cancelled or its
// attempt is over.
func (l *Listener) apply(fn func()) {
	select {
	case <-l.quit:
		return
	default:
	}
	l.m.applyRound(l.round, fn)
}

func (l *Listener) end() {
	var verdict *Attempt
	l.apply(func() { verdict = l.m.endLocked() })
	l.m.deliver(verdict)
}
