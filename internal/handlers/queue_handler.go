package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-monitor/internal/status"
	"queue-monitor/internal/store"
	"queue-monitor/models"
	"queue-monitor/services"
)

// QueueHandler serves the reconciled collections of each queue.
type QueueHandler struct {
	store     store.Store
	replayer  *services.Replayer
	monitored map[string]struct{}
}

// NewQueueHandler takes the IDs of the queues this process is polling;
// rebuilding one of them over HTTP is refused.
func NewQueueHandler(s store.Store, replayer *services.Replayer, monitored []string) *QueueHandler {
	set := make(map[string]struct{}, len(monitored))
	for _, id := range monitored {
		set[id] = struct{}{}
	}
	return &QueueHandler{store: s, replayer: replayer, monitored: set}
}

// ListEntries - GET /api/v1/queues/{queueId}/entries[?status=]
func (h *QueueHandler) ListEntries(e *core.RequestEvent) error {
	queueID := e.Request.PathValue("queueId")

	var filter models.EntryState
	if raw := e.Request.URL.Query().Get("status"); raw != "" {
		filter = models.EntryState(raw)
		if !filter.Valid() {
			return apis.NewBadRequestError("Unknown status", map[string]string{"status": raw})
		}
	}

	entries, err := h.store.Entries(e.Request.Context(), queueID)
	if err != nil {
		slog.Error("list entries", "queue_id", queueID, "error", err)
		return apis.NewInternalServerError("Failed to load entries", err)
	}

	if filter != "" {
		filtered := make([]models.EntryRecord, 0, len(entries))
		for _, entry := range entries {
			if entry.Status == filter {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	return e.JSON(http.StatusOK, map[string]any{
		"queue_id": queueID,
		"total":    len(entries),
		"entries":  entries,
	})
}

// GetEntry - GET /api/v1/queues/{queueId}/entries/{hash}
func (h *QueueHandler) GetEntry(e *core.RequestEvent) error {
	queueID := e.Request.PathValue("queueId")
	hash := e.Request.PathValue("hash")

	entry, err := h.store.Entry(e.Request.Context(), queueID, hash)
	if errors.Is(err, status.ErrEntryNotFound) {
		return apis.NewNotFoundError("Entry not found", nil)
	}
	if err != nil {
		return apis.NewInternalServerError("Failed to load entry", err)
	}
	return e.JSON(http.StatusOK, entry)
}

// ListEvents - GET /api/v1/queues/{queueId}/events
func (h *QueueHandler) ListEvents(e *core.RequestEvent) error {
	queueID := e.Request.PathValue("queueId")

	events, err := h.store.Events(e.Request.Context(), queueID)
	if err != nil {
		return apis.NewInternalServerError("Failed to load events", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"queue_id": queueID,
		"events":   events,
	})
}

// GetHistory - GET /api/v1/queues/{queueId}/history[?distinct=true]
//
// By default every content change is listed at the time it was observed;
// distinct lists each distinct snapshot once, at its first observation.
func (h *QueueHandler) GetHistory(e *core.RequestEvent) error {
	queueID := e.Request.PathValue("queueId")
	ctx := e.Request.Context()

	var (
		records []models.HistoryRecord
		err     error
	)
	if e.Request.URL.Query().Get("distinct") == "true" {
		records, err = h.store.History(ctx, queueID)
	} else {
		records, err = h.store.Timeline(ctx, queueID)
	}
	if err != nil {
		return apis.NewInternalServerError("Failed to load history", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"queue_id": queueID,
		"total":    len(records),
		"records":  records,
	})
}

// Rebuild - POST /api/v1/queues/{queueId}/rebuild (superusers only)
func (h *QueueHandler) Rebuild(e *core.RequestEvent) error {
	queueID := e.Request.PathValue("queueId")
	if _, ok := h.monitored[queueID]; ok {
		return e.JSON(http.StatusConflict, map[string]string{
			"message": "Queue is being monitored by this process; stop it before rebuilding",
		})
	}

	result, err := h.replayer.Rebuild(e.Request.Context(), queueID)
	if err != nil {
		slog.Error("rebuild", "queue_id", queueID, "error", err)
		return apis.NewInternalServerError("Rebuild failed", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"queue_id":    queueID,
		"records":     result.Records,
		"entries":     result.Inserted,
		"transitions": result.Transitions,
		"events":      result.Events,
		"duration_ms": result.Duration.Milliseconds(),
	})
}
