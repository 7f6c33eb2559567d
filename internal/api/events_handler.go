package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/deskhook/internal/events"
)

// keepAliveInterval spaces SSE comment lines on idle streams.
const keepAliveInterval = 15 * time.Second

// sseStream writes server-sent event frames and remembers the last ID sent
// so replayed and live events are never written twice.
type sseStream struct {
	w      http.ResponseWriter
	lastID int64
}

func (s *sseStream) send(ev events.Event) error {
	if ev.ID <= s.lastID {
		return nil
	}
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	// Payloads are compact JSON and fit on one data line.
	frame += "data: " + string(ev.Data) + "\n\n"
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *sseStream) ping() error {
	_, err := fmt.Fprint(s.w, ": keep-alive\n\n")
	return err
}

// handleEvents streams audit writes as server-sent events. Clients resuming
// with Last-Event-ID get the buffered events they missed first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// The subscription must exist before replay or events published in
	// between would be missed.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	stream := &sseStream{w: w}
	for _, ev := range s.events.SnapshotSince(parseLastEventID(r.Header.Get("Last-Event-ID"))) {
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open {
				return
			}
			err = stream.send(ev)
		case <-ticker.C:
			err = stream.ping()
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}

// parseLastEventID returns the resume point; anything unparsable restarts
// from the beginning of the buffer.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
