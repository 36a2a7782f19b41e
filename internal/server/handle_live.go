package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const liveWriteTimeout = 5 * time.Second

// handleAdminLive pushes admin feed snapshots over a WebSocket. The
// connection is write-only; client messages are discarded.
func handleAdminLive(logger *slog.Logger, broker *Broker, feed *Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ch := broker.Subscribe(TopicAdmin)
		defer broker.Unsubscribe(TopicAdmin, ch)

		// CloseRead cancels ctx once the client goes away.
		ctx := conn.CloseRead(r.Context())

		send := func(data []byte) bool {
			wctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
			defer cancel()
			if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return false
			}
			return true
		}

		if data := feed.Latest(TopicAdmin); data != nil && !send(data) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case data := <-ch:
				if !send(data) {
					return
				}
			}
		}
	}
}
