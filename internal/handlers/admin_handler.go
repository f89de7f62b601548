package handlers

import (
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"queue-monitor/internal/store"
	"queue-monitor/models"
)

type AdminHandler struct {
	store  store.Store
	queues []string
}

func NewAdminHandler(s store.Store, queues []string) *AdminHandler {
	return &AdminHandler{store: s, queues: queues}
}

type queueSummary struct {
	QueueID    string                    `json:"queue_id"`
	State      models.QueueState         `json:"state,omitempty"`
	ObservedAt any                       `json:"observed_at"`
	Entries    map[models.EntryState]int `json:"entries"`
	Events     int                       `json:"events"`
}

// GetQueueDashboard - GET /api/v1/admin/queues
func (h *AdminHandler) GetQueueDashboard(e *core.RequestEvent) error {
	ctx := e.Request.Context()

	summaries := make([]queueSummary, 0, len(h.queues))
	for _, queueID := range h.queues {
		summary := queueSummary{
			QueueID: queueID,
			Entries: map[models.EntryState]int{
				models.EntryWaiting:    0,
				models.EntryInProgress: 0,
				models.EntryServed:     0,
				models.EntryRemoved:    0,
			},
		}

		latest, err := h.store.LatestObservation(ctx, queueID)
		if err != nil {
			slog.Error("dashboard latest observation", "queue_id", queueID, "error", err)
			return apis.NewInternalServerError("Failed to load queue history", err)
		}
		if latest != nil {
			summary.State = latest.State
			summary.ObservedAt = latest.Timestamp
		}

		entries, err := h.store.Entries(ctx, queueID)
		if err != nil {
			return apis.NewInternalServerError("Failed to load entries", err)
		}
		for _, entry := range entries {
			summary.Entries[entry.Status]++
		}

		events, err := h.store.Events(ctx, queueID)
		if err != nil {
			return apis.NewInternalServerError("Failed to load events", err)
		}
		summary.Events = len(events)

		summaries = append(summaries, summary)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"queues": summaries,
	})
}
