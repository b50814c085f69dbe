package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/live-caption-translator/internal/message"
	"github.com/MimeLyc/live-caption-translator/pkg/log"
)

// handleStream relays every bus broadcast to the client as server-sent
// events. A slow client misses messages instead of stalling the bus.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id := "sse-" + uuid.NewString()
	ch := make(chan message.Message, 32)
	if err := s.bus.Subscribe(id, ch); err != nil {
		writeBusError(w, err)
		return
	}
	defer func() {
		_ = s.bus.Unsubscribe(id)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	log.Debug("SSE client %s connected", id)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("SSE client %s disconnected", id)
			return
		case msg := <-ch:
			payload, err := message.Encode(msg)
			if err != nil {
				log.Warn("Skipping unencodable message %q: %v", msg.Kind(), err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind(), payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
