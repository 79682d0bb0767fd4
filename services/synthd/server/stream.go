package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"otcswap/services/synthd/storage"
)

const wsWriteTimeout = 10 * time.Second

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	after, _, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents drains the journal after cursor page by page and then
// switches to live records. Live records already covered by the backlog are
// skipped.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	updates, cancel, backlog, err := s.journal.Subscribe(ctx, cursor, 0)
	if err != nil {
		return err
	}
	defer cancel()

	last := cursor
	for len(backlog) > 0 {
		for _, rec := range backlog {
			if err := writeEvent(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.ID
		}
		if backlog, err = s.journal.List(ctx, last, 0); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber too slow, resume from cursor")
			}
			if rec.ID <= last {
				continue
			}
			if err := writeEvent(ctx, conn, rec); err != nil {
				return err
			}
			last = rec.ID
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, rec storage.EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
