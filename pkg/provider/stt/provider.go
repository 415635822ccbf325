// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or
// a Whisper server) and exposes a uniform streaming interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames and emits two streams of Transcript values: low-latency partials that
// drive live word highlighting, and authoritative finals that are scored
// against the reference verse.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by optional SessionHandle features the provider
// does not implement.
var ErrNotSupported = errors.New("stt: not supported")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is what browsers are
	// asked to capture; 48000 is the Opus decode output.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "ar", "ar-SA").
	Language string

	// Keywords are vocabulary hints; a recitation session passes the words of
	// the reference verse.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of 16-bit little-endian PCM audio.
	// Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim Transcript values. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits authoritative Transcript values. Closed when the session ends.
	Finals() <-chan Transcript

	// SetKeywords replaces the active keyword list without restarting the
	// session. Providers that cannot do this return ErrNotSupported.
	SetKeywords(keywords []KeywordBoost) error

	// Close terminates the session and flushes pending audio. After Close
	// returns, Partials and Finals will be closed. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller owns
	// the returned SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
