package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// maxEventBytes bounds the size of a change event body
const maxEventBytes = 10 << 20

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// StatusResponse represents a simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// VersionResponse represents the API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// ChangeAcceptedResponse is returned once a change event was applied
type ChangeAcceptedResponse struct {
	Status     string            `json:"status" example:"accepted"`
	ChangeType domain.ChangeType `json:"change_type" example:"update"`
}

// ReindexTriggeredResponse is returned when a full reindex run is queued
type ReindexTriggeredResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status" example:"queued"`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the database and the task queue, plus Redis and the in-process worker when configured
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	checks := []struct {
		name   string
		pinger Pinger
	}{
		{"database", s.db},
		{"queue", s.taskQueue},
		{"redis", s.redisClient},
		{"worker", s.worker},
	}
	for _, c := range checks {
		if c.pinger == nil {
			continue
		}
		if err := c.pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", c.name, "error", err)
			writeError(w, http.StatusServiceUnavailable, c.name+" unavailable")
			return
		}
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "ready"})
}

// handleVersion godoc
// @Summary      Version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{Version: s.version})
}

// Change events

// handleChangeEvent godoc
// @Summary      Apply a document change
// @Description  Applies one before/after document change to the search index
// @Tags         Sync
// @Accept       json
// @Produce      json
// @Param        request  body      domain.ChangeEvent  true  "Change event"
// @Success      202      {object}  ChangeAcceptedResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      401      {object}  ErrorResponse
// @Router       /api/v1/events [post]
func (s *Server) handleChangeEvent(w http.ResponseWriter, r *http.Request) {
	var event domain.ChangeEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBytes)).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if err := s.changeHandler.HandleChange(r.Context(), &event); err != nil {
		if errors.Is(err, domain.ErrInvalidChange) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("failed to handle change event", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to handle change event")
		return
	}

	writeJSON(w, http.StatusAccepted, ChangeAcceptedResponse{
		Status:     "accepted",
		ChangeType: event.Type(),
	})
}

// Reindex

// handleTriggerReindex godoc
// @Summary      Start a full reindex
// @Tags         Reindex
// @Produce      json
// @Success      202  {object}  ReindexTriggeredResponse
// @Failure      409  {object}  ErrorResponse  "Run already in progress"
// @Router       /api/v1/reindex [post]
func (s *Server) handleTriggerReindex(w http.ResponseWriter, r *http.Request) {
	task, err := s.reindexer.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrReindexInProgress) {
			writeError(w, http.StatusConflict, "reindex already in progress")
			return
		}
		s.logger.Error("failed to trigger reindex", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to trigger reindex")
		return
	}

	if authCtx := GetAuthContext(r.Context()); authCtx != nil {
		s.logger.Info("reindex triggered", "task_id", task.ID, "subject", authCtx.Subject)
	}

	writeJSON(w, http.StatusAccepted, ReindexTriggeredResponse{TaskID: task.ID, Status: "queued"})
}

// handleReindexStatus godoc
// @Summary      Last reindex report
// @Tags         Reindex
// @Produce      json
// @Success      200  {object}  domain.ProcessingState
// @Failure      404  {object}  ErrorResponse  "No run has finished yet"
// @Router       /api/v1/reindex/status [get]
func (s *Server) handleReindexStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.reindexer.Status(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no reindex report")
			return
		}
		s.logger.Error("failed to read reindex status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read reindex status")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// Queue

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.taskQueue.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to read queue stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
