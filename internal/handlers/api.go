package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sales-insight/internal/errors"
	"sales-insight/internal/models"
	"sales-insight/internal/observability"
	"sales-insight/internal/scheduler"
)

const (
	defaultHistoryLimit = 24
	maxHistoryLimit     = 1000
)

type SnapshotReader interface {
	Read() (models.Snapshot, error)
	History(limit int) ([]models.HistoryEntry, error)
}

type RunController interface {
	Tick(ctx context.Context) (scheduler.RunResult, bool)
	Status() scheduler.Status
}

type APIHandlers struct {
	store   SnapshotReader
	runner  RunController
	version string
	logger  *slog.Logger
}

func NewAPIHandlers(store SnapshotReader, runner RunController, version string, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		store:   store,
		runner:  runner,
		version: version,
		logger:  logger,
	}
}

func (h *APIHandlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.store.Read()
	if err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "Failed to read snapshot"), observability.GetRequestID(r.Context()))
		return
	}

	headers := map[string]string{
		"Cache-Control": "no-cache",
		"Last-Modified": snap.LastUpdated.UTC().Format(http.TimeFormat),
	}

	errors.WriteSuccessWithHeaders(w, snap, headers)
}

func (h *APIHandlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			errors.WriteError(w, h.logger, errors.BadRequest("limit must be between 1 and 1000"), requestID)
			return
		}
		limit = n
	}

	entries, err := h.store.History(limit)
	if err != nil {
		errors.WriteError(w, h.logger, errors.InternalWrap(err, "Failed to read history"), requestID)
		return
	}

	errors.WriteSuccess(w, entries)
}

func (h *APIHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   h.version,
	}

	if snap, err := h.store.Read(); err == nil {
		health["last_updated"] = snap.LastUpdated.Format(time.RFC3339)
	} else {
		health["status"] = "degraded"
		health["snapshot_error"] = err.Error()
	}

	errors.WriteSuccess(w, health)
}

func (h *APIHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	errors.WriteSuccess(w, h.runner.Status())
}

// HandleRun performs a manual run and responds with its result. The run is
// detached from the request so a disconnecting client cannot abort a write.
func (h *APIHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	requestID := observability.GetRequestID(r.Context())

	result, ran := h.runner.Tick(context.WithoutCancel(r.Context()))
	if !ran {
		if h.runner.Status().Stopped {
			errors.WriteError(w, h.logger, errors.Stopped("The scheduler has stopped"), requestID)
			return
		}
		errors.WriteError(w, h.logger, errors.Conflict("A run is already in progress"), requestID)
		return
	}

	h.logger.Info("manual run finished",
		"run_id", result.RunID,
		"state", result.State.String(),
		"request_id", requestID,
	)

	errors.WriteSuccess(w, result)
}
