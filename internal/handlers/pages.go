package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"sales-insight/internal/ui"
)

const renderTimeout = 10 * time.Second

type PageHandlers struct {
	store  SnapshotReader
	logger *slog.Logger
}

func NewPageHandlers(store SnapshotReader, logger *slog.Logger) *PageHandlers {
	return &PageHandlers{store: store, logger: logger}
}

func (h *PageHandlers) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), renderTimeout)
	defer cancel()

	snap, err := h.store.Read()
	if err != nil {
		h.logger.Error("read snapshot for dashboard", "error", err)
		http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := ui.Dashboard(snap).Render(ctx, w); err != nil {
		h.logger.Error("render dashboard", "error", err)
	}
}
