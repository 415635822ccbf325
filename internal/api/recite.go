package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/hafiz/internal/catalog"
	"github.com/MrWong99/hafiz/internal/observe"
	"github.com/MrWong99/hafiz/internal/progress"
	"github.com/MrWong99/hafiz/internal/recite"
	"github.com/MrWong99/hafiz/pkg/audio/opus"
)

const (
	// audioReadLimit caps a single audio frame from the browser.
	audioReadLimit = 1 << 20

	eventBuffer = 64
)

// reciteEvent is a server-to-client message on /ws/recite. Type is one of
// session, state, highlight, verdict or error.
type reciteEvent struct {
	Type                string            `json:"type"`
	Session             string            `json:"session,omitempty"`
	State               *recite.Snapshot  `json:"state,omitempty"`
	Words               []recite.WordMark `json:"words,omitempty"`
	Attempt             *recite.Attempt   `json:"attempt,omitempty"`
	CollectionCompleted bool              `json:"collection_completed,omitempty"`
	CollectionAttempted bool              `json:"collection_attempted,omitempty"`
	NextVerse           int               `json:"next_verse,omitempty"`
	Message             string            `json:"message,omitempty"`
	Unsupported         bool              `json:"unsupported,omitempty"`
}

// reciteControl is a client-to-server text message: start, stop or cancel.
// Binary messages carry audio.
type reciteControl struct {
	Type string `json:"type"`
}

// handleRecite streams one verse recitation. Query parameters: collection,
// verse, and codec (pcm, the default, or opus). The first attempt starts on
// connect; "start" begins another one.
func (s *Server) handleRecite(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	colID, err1 := strconv.Atoi(q.Get("collection"))
	verseID, err2 := strconv.Atoi(q.Get("verse"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "collection and verse must be integers")
		return
	}
	col, err := s.d.Catalog.Collection(colID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	verse, err := s.d.Catalog.Verse(colID, verseID)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	var dec *opus.Decoder
	switch codec := q.Get("codec"); codec {
	case "", "pcm":
	case "opus":
		if dec, err = opus.NewDecoder(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "codec must be pcm or opus")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: accept recite socket", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(audioReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rs := &reciteSession{
		s:     s,
		id:    uuid.NewString(),
		col:   col,
		verse: verse,
		dec:   dec,
		out:   make(chan reciteEvent, eventBuffer),
	}
	rs.log = observe.Logger(ctx).With("session", rs.id, "collection", col.ID, "verse", verse.ID)

	var wg sync.WaitGroup
	wg.Go(func() { rs.writeLoop(ctx, conn, cancel) })

	s.d.Metrics.ActiveReciteSessions.Add(ctx, 1)
	defer s.d.Metrics.ActiveReciteSessions.Add(context.WithoutCancel(ctx), -1)

	rs.log.Info("recitation session opened")
	rs.run(ctx, conn)
	rs.log.Info("recitation session closed")

	cancel()
	wg.Wait()
	conn.Close(websocket.StatusNormalClosure, "")
}

type reciteSession struct {
	s     *Server
	id    string
	col   catalog.Collection
	verse catalog.Verse
	dec   *opus.Decoder
	out   chan reciteEvent
	log   *slog.Logger

	tracker  *progress.Tracker
	machine  *recite.Machine
	listener *recite.Listener
}

func (rs *reciteSession) run(ctx context.Context, conn *websocket.Conn) {
	rs.emit(ctx, reciteEvent{Type: "session", Session: rs.id})

	store := rs.s.d.Store
	sess := progress.NewSession(rs.col.ID, store.Load(ctx))
	rs.tracker = progress.NewTracker(store, sess)

	rs.machine = recite.NewMachine(rs.s.d.Scorer(),
		recite.WithObserver(func(snap recite.Snapshot) { rs.onSnapshot(ctx, snap) }),
		recite.WithVerdictFunc(func(a recite.Attempt) { rs.onVerdict(ctx, a) }),
	)
	completed, _ := sess.Attempt(rs.verse.ID)
	rs.machine.SetVerse(rs.verse.ID, rs.verse.Text, completed)
	rs.start(ctx)
	defer func() {
		if rs.listener != nil {
			rs.listener.Cancel()
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			rs.audio(ctx, data)
		case websocket.MessageText:
			var c reciteControl
			if err := json.Unmarshal(data, &c); err != nil {
				rs.emit(ctx, reciteEvent{Type: "error", Message: "invalid control message"})
				continue
			}
			rs.control(ctx, c.Type)
		}
	}
}

func (rs *reciteSession) control(ctx context.Context, kind string) {
	switch kind {
	case "start":
		rs.start(ctx)
	case "stop":
		if rs.listener != nil {
			rs.listener.Stop()
		}
	case "cancel":
		if rs.listener != nil {
			rs.listener.Cancel()
		}
	default:
		rs.emit(ctx, reciteEvent{Type: "error", Message: "unknown control message " + strconv.Quote(kind)})
	}
}

// start opens a new recognition stream, abandoning any running one.
func (rs *reciteSession) start(ctx context.Context) {
	if rs.listener != nil {
		rs.listener.Cancel()
		rs.listener = nil
	}
	rs.machine.SetScorer(rs.s.d.Scorer())
	l, err := rs.s.d.Recognizer.Listen(ctx, rs.machine, rs.verse.Text)
	if err != nil {
		rs.log.Warn("recitation could not start", "err", err)
		rs.emit(ctx, reciteEvent{
			Type:        "error",
			Message:     err.Error(),
			Unsupported: errors.Is(err, recite.ErrUnsupported),
		})
		return
	}
	rs.listener = l
}

func (rs *reciteSession) audio(ctx context.Context, data []byte) {
	l := rs.listener
	if l == nil {
		return
	}
	select {
	case <-l.Done():
		return
	default:
	}
	pcm := data
	if rs.dec != nil {
		var err error
		if pcm, err = rs.dec.Decode(data); err != nil {
			rs.emit(ctx, reciteEvent{Type: "error", Message: err.Error()})
			return
		}
	}
	if err := l.SendAudio(pcm); err != nil {
		rs.log.Warn("recitation audio rejected", "err", err)
		rs.emit(ctx, reciteEvent{Type: "error", Message: err.Error()})
	}
}

func (rs *reciteSession) onSnapshot(ctx context.Context, snap recite.Snapshot) {
	rs.emit(ctx, reciteEvent{Type: "state", State: &snap})
	if snap.State == recite.Listening {
		heard := snap.Interim
		if heard == "" {
			heard = snap.Final
		}
		words := rs.machine.Scorer().Normalizer().Highlight(rs.verse.Text, heard)
		rs.emit(ctx, reciteEvent{Type: "highlight", Words: words})
	}
}

func (rs *reciteSession) onVerdict(ctx context.Context, a recite.Attempt) {
	rs.s.d.Metrics.RecordAttempt(ctx, string(a.Verdict), a.Similarity)
	ev := reciteEvent{Type: "verdict", Attempt: &a}
	if err := rs.tracker.Record(ctx, rs.col.ID, a.VerseID, a.Correct()); err != nil {
		rs.log.Error("recitation progress not saved", "err", err)
		ev.Message = "progress could not be saved"
	}
	sess := rs.tracker.Session()
	ev.CollectionCompleted = sess.AllCorrect(rs.col)
	ev.CollectionAttempted = sess.Completed(rs.col)
	if next, ok := sess.NextVerse(rs.col); ok {
		ev.NextVerse = next
	}
	rs.emit(ctx, ev)
}

func (rs *reciteSession) emit(ctx context.Context, ev reciteEvent) {
	select {
	case rs.out <- ev:
	case <-ctx.Done():
	}
}

func (rs *reciteSession) writeLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-rs.out:
			if err := writeEvent(ctx, conn, ev); err != nil {
				cancel()
				return
			}
		}
	}
}
