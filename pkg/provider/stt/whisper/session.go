package whisper

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the energy below which a chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "ar"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 800
	defaultMaxBufferDurationMs = 15_000
)

var errClosed = errors.New("whisper: session is closed")

// inferFunc transcribes one utterance of PCM audio. prompt carries the
// vocabulary hint derived from the session keywords.
type inferFunc func(ctx context.Context, pcm []byte, prompt string) (string, error)

// segmentation holds the silence-detection parameters shared by both providers.
type segmentation struct {
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// batchSession turns a batch transcription engine into a streaming
// stt.SessionHandle. Incoming PCM is buffered until a run of silence (or the
// size cap) closes the utterance, which is then transcribed in one call and
// emitted as both a partial and a final.
type batchSession struct {
	infer      inferFunc
	sampleRate int
	channels   int
	silenceMs  int
	maxBytes   int

	promptMu sync.RWMutex
	prompt   string

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*batchSession)(nil)

func startBatchSession(ctx context.Context, seg segmentation, cfg stt.StreamConfig, infer inferFunc) *batchSession {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = seg.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}
	s := &batchSession{
		infer:      infer,
		sampleRate: sr,
		channels:   ch,
		silenceMs:  seg.silenceThresholdMs,
		maxBytes:   seg.maxBufferDurationMs * sr * ch * (bitsPerSample / 8) / 1000,
		prompt:     keywordPrompt(cfg.Keywords),
		audioCh:    make(chan []byte, 256),
		partials:   make(chan stt.Transcript, 16),
		finals:     make(chan stt.Transcript, 16),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// annotation matches the non-speech markers whisper emits for silence and
// noise, such as [BLANK_AUDIO] or (music).
var annotation = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)

// cleanTranscript drops annotations and collapses whitespace, so a silent
// utterance yields "" rather than a marker that would be scored.
func cleanTranscript(text string) string {
	return strings.Join(strings.Fields(annotation.ReplaceAllString(text, " ")), " ")
}

// keywordPrompt joins keyword hints into an initial prompt; whisper biases
// decoding toward vocabulary that appears in it.
func keywordPrompt(kws []stt.KeywordBoost) string {
	words := make([]string, 0, len(kws))
	for _, kw := range kws {
		words = append(words, kw.Keyword)
	}
	return strings.Join(words, " ")
}

func (s *batchSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *batchSession) Partials() <-chan stt.Transcript { return s.partials }

func (s *batchSession) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords replaces the prompt used for the next utterance.
func (s *batchSession) SetKeywords(kws []stt.KeywordBoost) error {
	s.promptMu.Lock()
	s.prompt = keywordPrompt(kws)
	s.promptMu.Unlock()
	return nil
}

// Close flushes any buffered speech, then closes both transcript channels.
func (s *batchSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *batchSession) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	flush := func(fctx context.Context) {
		pcm, speech := buffer, hadSpeech
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}

		s.promptMu.RLock()
		prompt := s.prompt
		s.promptMu.RUnlock()

		start := time.Now()
		text, err := s.infer(fctx, pcm, prompt)
		if err != nil {
			slog.Warn("whisper: inference failed", "err", err)
			return
		}
		text = cleanTranscript(text)
		if text == "" {
			return
		}
		dur := time.Duration(len(pcm)) * time.Second / time.Duration(s.sampleRate*s.channels*bitsPerSample/8)
		slog.Debug("whisper: utterance transcribed", "audio", dur, "took", time.Since(start))

		select {
		case s.partials <- stt.Transcript{Text: text, Duration: dur}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true, Duration: dur}:
		default:
		}
	}

	// The caller's ctx may already be cancelled when the session ends; the
	// trailing utterance still gets transcribed.
	finalFlush := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		flush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			finalFlush()
			return
		case <-s.done:
			finalFlush()
			return
		case chunk := <-s.audioCh:
			if computeRMS(chunk) < defaultRMSThreshold {
				if !hadSpeech {
					continue // leading silence
				}
				silenceMs += chunkDurationMs(chunk, s.sampleRate, s.channels)
				buffer = append(buffer, chunk...)
				if silenceMs >= s.silenceMs {
					flush(ctx)
				}
				continue
			}
			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if s.maxBytes > 0 && len(buffer) >= s.maxBytes {
				flush(ctx)
			}
		}
	}
}
