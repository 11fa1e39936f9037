// Package api provides the admin HTTP API: health, retailer sync state,
// and manual sync triggering.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cartfeed/catalog-sync-server/internal/jobs"
	"github.com/cartfeed/catalog-sync-server/internal/monitor"
	"github.com/cartfeed/catalog-sync-server/internal/scheduler"
	"github.com/cartfeed/catalog-sync-server/internal/state"
	"github.com/cartfeed/catalog-sync-server/internal/status"
)

// TaskRunner executes a scheduled task run delivered by the scheduler.
// Task ids are the ones registered at trigger time (retailer-sync,
// sync-recovery-sweep).
type TaskRunner interface {
	RunTask(ctx context.Context, taskID, runID string, payload json.RawMessage) error
}

// Server bundles the admin API's collaborators
type Server struct {
	states       state.RetailerStateService
	jobScheduler jobs.Scheduler
	scheduler    scheduler.Client
	runner       TaskRunner
}

// NewServer creates and configures the HTTP router
func NewServer(
	states state.RetailerStateService,
	jobScheduler jobs.Scheduler,
	schedulerClient scheduler.Client,
	runner TaskRunner,
) *chi.Mux {
	s := &Server{
		states:       states,
		jobScheduler: jobScheduler,
		scheduler:    schedulerClient,
		runner:       runner,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/v1/retailers/{retailerID}/sync", s.handleGetSyncState)
	r.Post("/v1/retailers/{retailerID}/sync", s.handleTriggerSync)
	r.Post("/v1/recovery/sweep", s.handleTriggerSweep)
	r.Post("/v1/tasks/{taskID}/runs/{runID}", s.handleExecuteTask)

	return r
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetSyncState(w http.ResponseWriter, r *http.Request) {
	retailerID := chi.URLParam(r, "retailerID")

	syncState, err := s.states.GetSyncState(r.Context(), retailerID)
	if err != nil {
		if errors.Is(err, state.ErrRetailerNotFound) {
			writeError(w, http.StatusNotFound, "retailer not found")
			return
		}
		slog.Error("Failed to load sync state", "retailer", retailerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sync state")
		return
	}
	writeJSON(w, http.StatusOK, syncState)
}

// triggerSyncRequest is the manual sync trigger payload
type triggerSyncRequest struct {
	Style status.SyncStyle `json:"style"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	retailerID := chi.URLParam(r, "retailerID")

	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Style != status.SyncStyleFull && req.Style != status.SyncStylePartial {
		writeError(w, http.StatusBadRequest, "style must be full or partial")
		return
	}

	if _, err := s.states.GetRetailer(r.Context(), retailerID); err != nil {
		if errors.Is(err, state.ErrRetailerNotFound) {
			writeError(w, http.StatusNotFound, "retailer not found")
			return
		}
		slog.Error("Failed to load retailer", "retailer", retailerID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load retailer")
		return
	}

	runID, err := s.jobScheduler.Schedule(r.Context(), retailerID, req.Style, "manual", nil)
	if err != nil {
		slog.Error("Failed to schedule sync", "retailer", retailerID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to schedule sync")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *Server) handleTriggerSweep(w http.ResponseWriter, r *http.Request) {
	runID, err := s.scheduler.Trigger(r.Context(), monitor.TaskRecoverySweep, nil, scheduler.TriggerOptions{})
	if err != nil {
		slog.Error("Failed to trigger recovery sweep", "error", err)
		writeError(w, http.StatusBadGateway, "failed to trigger sweep")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

// handleExecuteTask receives task run deliveries from the scheduler. Runs
// execute in the background since a sync can outlive any webhook timeout.
func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	runID := chi.URLParam(r, "runID")

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	go func() {
		if err := s.runner.RunTask(context.Background(), taskID, runID, payload); err != nil {
			slog.Error("Task run failed", "task", taskID, "run", runID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
