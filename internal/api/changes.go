package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/hafiz/internal/observe"
)

const wsWriteTimeout = 5 * time.Second

type changeEvent struct {
	Type string `json:"type"`
}

// handleChanges pushes {"type":"changed"} whenever progress or the practice
// log changes, in this process or (with Postgres) in another one. Bursts are
// coalesced.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	feed := s.d.Store.Changes()
	if feed == nil {
		writeError(w, http.StatusServiceUnavailable, "change feed is not configured")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: accept changes socket", "err", err)
		return
	}
	defer conn.CloseNow()

	changes, cancel := feed.Subscribe()
	defer cancel()

	// Only control frames are expected; CloseRead cancels ctx on close.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if err := writeEvent(ctx, conn, changeEvent{Type: "changed"}); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
