package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"

	"sales-insight/internal/models"
	"sales-insight/internal/ui"
)

// ChangeNotifier delivers a value on the returned channel whenever the
// snapshot changes. The channel is closed when the notifier shuts down.
type ChangeNotifier interface {
	Subscribe() (<-chan struct{}, func())
}

type SSEHandlers struct {
	store    SnapshotReader
	notifier ChangeNotifier
	logger   *slog.Logger
}

func NewSSEHandlers(store SnapshotReader, notifier ChangeNotifier, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// HandleSnapshot streams the snapshot as Datastar signals plus a patched
// panel, once on connect and again after every change.
func (h *SSEHandlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	var (
		changes     <-chan struct{}
		unsubscribe = func() {}
	)
	if h.notifier != nil {
		changes, unsubscribe = h.notifier.Subscribe()
	}
	defer unsubscribe()

	sse := datastar.NewSSE(w, r)

	if err := h.push(sse, r); err != nil {
		h.logger.Error("push snapshot", "error", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := h.push(sse, r); err != nil {
				h.logger.Warn("push snapshot update", "error", err)
				return
			}
		}
	}
}

func (h *SSEHandlers) push(sse *datastar.ServerSentEventGenerator, r *http.Request) error {
	snap, err := h.store.Read()
	if err != nil {
		return err
	}

	signals, err := snapshotSignals(snap)
	if err != nil {
		return err
	}
	if err := sse.PatchSignals(signals); err != nil {
		return err
	}

	var panel strings.Builder
	if err := ui.SnapshotPanel(snap).Render(r.Context(), &panel); err != nil {
		return err
	}
	return sse.PatchElements(panel.String())
}

func snapshotSignals(snap models.Snapshot) ([]byte, error) {
	return json.Marshal(map[string]any{
		"snapshot": snap,
	})
}
