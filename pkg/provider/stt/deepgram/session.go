package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/hafiz/pkg/provider/stt"
)

// closeTimeout bounds how long Close waits for Deepgram's last results.
const closeTimeout = 5 * time.Second

var (
	msgCloseStream = []byte(`{"type":"CloseStream"}`)
	msgKeepAlive   = []byte(`{"type":"KeepAlive"}`)
)

var errClosed = errors.New("deepgram: session is closed")

type session struct {
	conn      *websocket.Conn
	keepAlive time.Duration

	partials chan stt.Transcript
	finals   chan stt.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func openSession(ctx context.Context, conn *websocket.Conn, keepAlive time.Duration) *session {
	s := &session{
		conn:      conn,
		keepAlive: keepAlive,
		partials:  make(chan stt.Transcript, 64),
		finals:    make(chan stt.Transcript, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop(ctx)
	go s.writeLoop(ctx)
	return s
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *session) Partials() <-chan stt.Transcript { return s.partials }

func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// SetKeywords fails: Deepgram fixes hints when the stream opens.
func (s *session) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("deepgram: keyword update: %w", stt.ErrNotSupported)
}

// Close sends CloseStream so Deepgram flushes its last results, then waits
// up to closeTimeout for the read loop to see the socket close.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		drained := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			s.conn.Close(websocket.StatusNormalClosure, "session closed")
		case <-time.After(closeTimeout):
			s.conn.CloseNow()
			<-drained
		}
	})
	return nil
}

// writeLoop owns all writes to conn. After done it drains queued audio and
// sends CloseStream.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if s.keepAlive > 0 {
		timer = time.NewTimer(s.keepAlive)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			if timer != nil {
				timer.Reset(s.keepAlive)
			}
		case <-idle:
			if err := s.conn.Write(ctx, websocket.MessageText, msgKeepAlive); err != nil {
				return
			}
			timer.Reset(s.keepAlive)
		case <-ctx.Done():
			return
		case <-s.done:
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, msgCloseStream)
					return
				}
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := parseDeepgramResponse(msg)
		if !ok {
			continue
		}
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		// Block on a full channel only while someone may still read it.
		select {
		case out <- t:
			continue
		default:
		}
		select {
		case out <- t:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// result is the subset of a Deepgram "Results" message that Hafiz reads.
type result struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse keeps Results messages with a non-empty best
// alternative; metadata, UtteranceEnd and empty results report false.
func parseDeepgramResponse(data []byte) (stt.Transcript, bool) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil {
		return stt.Transcript{}, false
	}
	if r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	best := r.Channel.Alternatives[0]
	if best.Transcript == "" {
		return stt.Transcript{}, false
	}
	words := make([]stt.WordDetail, len(best.Words))
	for i, w := range best.Words {
		words[i] = stt.WordDetail{
			Word:       w.Word,
			Start:      seconds(w.Start),
			End:        seconds(w.End),
			Confidence: w.Confidence,
		}
	}
	return stt.Transcript{
		Text:       best.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: best.Confidence,
		Words:      words,
		Timestamp:  seconds(r.Start),
		Duration:   seconds(r.Duration),
	}, true
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
