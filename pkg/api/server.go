// Package api exposes the batch grading pipeline over HTTP: job start,
// snapshot polling, and live status streaming (SSE and WebSocket).
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/manthysbr/aula/internal/core/domain"
	"github.com/manthysbr/aula/internal/core/services"
)

type Server struct {
	logger  *slog.Logger
	manager *services.JobManager
	bus     *services.EventBus
}

func NewServer(logger *slog.Logger, manager *services.JobManager, bus *services.EventBus) *Server {
	return &Server{logger: logger, manager: manager, bus: bus}
}

// Handler returns the http.Handler for the server. Streaming endpoints are
// plain handlers on the same mux; SSE needs nothing more than a Flusher.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /batch", s.handleStartBatch)
	mux.HandleFunc("GET /batch", s.handleSnapshot)
	mux.HandleFunc("GET /batch/stream", s.handleStreamSSE)
	mux.HandleFunc("GET /batch/ws", s.handleStreamWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type startBatchRequest struct {
	AssignmentID  string   `json:"assignmentId"`
	SubmissionIDs []string `json:"submissionIds"`
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req startBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssignmentID == "" {
		writeError(w, http.StatusBadRequest, "assignmentId is required")
		return
	}

	ids := make([]domain.SubmissionID, 0, len(req.SubmissionIDs))
	for _, id := range req.SubmissionIDs {
		ids = append(ids, domain.SubmissionID(id))
	}

	jobID, err := s.manager.Start(r.Context(), domain.AssignmentID(req.AssignmentID), ids)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoSubmissions), errors.Is(err, domain.ErrAssignmentNotFound):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("start batch failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start batch")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"jobId": string(jobID)})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	snap, err := s.manager.Snapshot(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("snapshot failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job":        snap.Job,
		"queueItems": snap.QueueItems,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
