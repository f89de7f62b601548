package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"queue-monitor/internal/store"
	"queue-monitor/models"
	"queue-monitor/monitoring"
)

// DetectQueueEvent returns the event for a genuine open/close edge between
// two consecutive states, or nil.
func DetectQueueEvent(queueID string, from, to models.QueueState, at time.Time) *models.QueueEvent {
	var eventType models.EventType
	switch {
	case from == models.QueueClosed && to == models.QueueOpen:
		eventType = models.EventQueueOpen
	case from == models.QueueOpen && to == models.QueueClosed:
		eventType = models.EventQueueClose
	default:
		return nil
	}
	ev := models.NewQueueEvent(queueID, eventType, at)
	return &ev
}

type EventDetector struct {
	store   store.EventStore
	monitor *monitoring.Monitor
	logger  *slog.Logger
}

func NewEventDetector(events store.EventStore, monitor *monitoring.Monitor, logger *slog.Logger) *EventDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventDetector{store: events, monitor: monitor, logger: logger}
}

// Record appends the event for the from -> to edge, if there is one. It
// returns nil when there is no edge or the event was already recorded.
func (d *EventDetector) Record(ctx context.Context, queueID string, from, to models.QueueState, at time.Time) (*models.QueueEvent, error) {
	ev := DetectQueueEvent(queueID, from, to, at)
	if ev == nil {
		return nil, nil
	}
	appended, err := d.store.AppendEvent(ctx, queueID, *ev)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", ev.Type, err)
	}
	if !appended {
		return nil, nil
	}
	d.monitor.TrackQueueEvent(queueID, string(ev.Type))
	d.logger.Info("queue event", "queue_id", queueID, "event", ev.Type, "at", ev.Timestamp)
	return ev, nil
}
