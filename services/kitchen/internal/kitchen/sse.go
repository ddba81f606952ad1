package kitchen

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sseEventName = "status-change"

var sseKeepalive = 30 * time.Second

// StreamEvents serves broadcaster events as Server-Sent Events. Without a
// station query parameter the client follows the global channel.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	channel := GlobalChannel()
	if station := NormalizeStation(r.URL.Query().Get("station")); station != "" {
		channel = StationChannel(station)
	}

	sub := h.broadcaster.Subscribe(channel)
	defer sub.Close()

	fmt.Fprintf(w, ": connected\n\n")
	fmt.Fprintf(w, "retry: 2000\n\n")
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "subscriber_id", sub.ID)
			return

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("failed to encode SSE event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\n", sseEventName)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
