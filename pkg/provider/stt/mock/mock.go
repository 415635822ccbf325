// Package mock provides stt doubles for recitation tests: a Provider that
// records stream configs and a Session the test speaks through.
//
//	sess := mock.NewSession(4)
//	p := &mock.Provider{Session: sess}
//	// ... start a listener on p ...
//	sess.Hear("قل هو")            // interim
//	sess.Conclude("قل هو الله احد") // final
package mock

import (
	"bytes"
	"context"
	"sync"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall is one recorded StartStream invocation.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider returns Session from StartStream, or a fresh buffered session
// when Session is nil.
type Provider struct {
	mu sync.Mutex

	Session        stt.SessionHandle
	StartStreamErr error

	StartStreamCalls []StartStreamCall
}

// StartStream records cfg and returns Session or StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Reset forgets recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Session is a scripted stt.SessionHandle. Tests own PartialsCh and
// FinalsCh; Hear and Conclude are shorthands for sending on them.
type Session struct {
	mu sync.Mutex

	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript

	SendAudioErr   error
	SetKeywordsErr error
	CloseErr       error

	// CloseChannels makes the first Close close both channels, the way a
	// real provider ends its streams.
	CloseChannels bool

	audio    bytes.Buffer
	chunks   int
	keywords [][]stt.KeywordBoost
	closes   int
}

// NewSession returns a session whose channels hold buffer transcripts.
func NewSession(buffer int) *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, buffer),
		FinalsCh:   make(chan stt.Transcript, buffer),
	}
}

// Hear emits an interim transcript.
func (s *Session) Hear(text string) {
	s.PartialsCh <- stt.Transcript{Text: text}
}

// Conclude emits a final transcript.
func (s *Session) Conclude(text string) {
	s.FinalsCh <- stt.Transcript{Text: text, IsFinal: true}
}

// SendAudio appends chunk to the captured audio and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks++
	s.audio.Write(chunk)
	return s.SendAudioErr
}

func (s *Session) Partials() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

func (s *Session) Finals() <-chan stt.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SetKeywords records keywords and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []stt.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, append([]stt.KeywordBoost(nil), keywords...))
	return s.SetKeywordsErr
}

// SendAudioCallCount is the number of SendAudio calls.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Audio returns every byte sent so far, in order.
func (s *Session) Audio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.audio.Bytes())
}

// Keywords returns the keyword lists passed to SetKeywords.
func (s *Session) Keywords() [][]stt.KeywordBoost {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]stt.KeywordBoost(nil), s.keywords...)
}

// Close returns CloseErr. See CloseChannels.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.CloseChannels && s.closes == 1 {
		if s.PartialsCh != nil {
			close(s.PartialsCh)
		}
		if s.FinalsCh != nil {
			close(s.FinalsCh)
		}
	}
	return s.CloseErr
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}
