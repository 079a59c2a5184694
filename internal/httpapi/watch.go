package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"

	"github.com/p-n-ai/pai-papers/internal/ingest"
)

const watchWriteTimeout = 5 * time.Second

// handleWatch streams batch snapshots over a websocket. A snapshot is sent
// on connect and whenever the status or log grows; the stream closes after
// a terminal status.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		slog.Warn("websocket accept failed", "batch_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	if err := s.watch(ctx, conn, b); err != nil {
		if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
			slog.Warn("batch watch ended", "batch_id", id, "error", err)
		}
		return
	}
	conn.Close(websocket.StatusNormalClosure, "batch finished")
}

func (s *Server) watch(ctx context.Context, conn *websocket.Conn, b *ingest.Batch) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := writeSnapshot(ctx, conn, b); err != nil {
			return err
		}
		if b.Status.Terminal() {
			return nil
		}

		status, logs := b.Status, len(b.Logs)
		for b.Status == status && len(b.Logs) == logs {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			next, err := s.svc.Get(ctx, b.ID)
			if errors.Is(err, ingest.ErrNotFound) {
				conn.Close(websocket.StatusGoingAway, "batch deleted")
				return nil
			}
			if err != nil {
				return err
			}
			b = next
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, b *ingest.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, b)
}
