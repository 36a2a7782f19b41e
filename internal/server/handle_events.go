package server

import (
	"fmt"
	"net/http"
	"time"
)

// handleEvents streams the public leaderboard feed as Server-Sent Events.
// The latest snapshot is sent first, then every change.
func handleEvents(broker *Broker, feed *Feed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		ch := broker.Subscribe(TopicPublic)
		defer broker.Unsubscribe(TopicPublic, ch)

		if data := feed.Latest(TopicPublic); data != nil {
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
