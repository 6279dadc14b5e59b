package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/manthysbr/aula/internal/core/domain"
)

// handleStreamSSE upgrades the request into a one-way SSE push channel bound
// to a job. A synthetic snapshot event is sent first so late subscribers get
// a consistent view without replaying history, then live events flow until
// job_completed is flushed or the client disconnects. There is no
// cross-reconnect buffering: a reconnecting client snapshots and resubscribes.
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(r.URL.Query().Get("jobId"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before snapshotting so no transition is lost in between.
	ch, unsub := s.bus.Subscribe(jobID)
	defer unsub()

	snap, err := s.manager.Snapshot(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("stream snapshot failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, snapshotEvent(jobID, snap))
	flusher.Flush()

	// Job already terminal: nothing further will be published.
	if snap.Job.Status == domain.JobStatusCompleted {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Type == domain.EventJobCompleted {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, evt domain.StatusEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
}

func snapshotEvent(jobID domain.JobID, snap *domain.JobSnapshot) domain.StatusEvent {
	return domain.StatusEvent{
		Type:      domain.EventSnapshot,
		JobID:     jobID,
		Timestamp: time.Now(),
		Snapshot:  snap,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser dashboards connect cross-origin in dev; CORS policy is
	// enforced by the outer middleware for the REST surface.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStreamWS serves the same contract as the SSE endpoint over a
// WebSocket, for clients behind proxies that buffer event streams. One JSON
// StatusEvent per text message.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	jobID := domain.JobID(r.URL.Query().Get("jobId"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	if _, err := s.manager.Snapshot(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe(jobID)
	defer unsub()

	snap, err := s.manager.Snapshot(r.Context(), jobID)
	if err != nil {
		return
	}
	if err := conn.WriteJSON(snapshotEvent(jobID, snap)); err != nil {
		return
	}
	if snap.Job.Status == domain.JobStatusCompleted {
		return
	}

	// Reader goroutine notices client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
			if evt.Type == domain.EventJobCompleted {
				return
			}
		}
	}
}
