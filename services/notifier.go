package services

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"

	"queue-monitor/models"
)

// Notifier is told about changes detected during live reconciliation.
// It is never called while replaying the ledger.
type Notifier interface {
	NotifyQueueEvent(ctx context.Context, queueID string, ev models.QueueEvent)
	NotifyTransitions(ctx context.Context, queueID string, transitions []Transition)
}

type nopNotifier struct{}

func (nopNotifier) NotifyQueueEvent(context.Context, string, models.QueueEvent) {}

func (nopNotifier) NotifyTransitions(context.Context, string, []Transition) {}

// PubNubNotifier publishes changes to the "queue-{id}" channel.
type PubNubNotifier struct {
	pubnub *pubnub.PubNub
	logger *slog.Logger
}

func NewPubNubNotifier(pn *pubnub.PubNub, logger *slog.Logger) *PubNubNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PubNubNotifier{pubnub: pn, logger: logger}
}

func queueChannel(queueID string) string {
	return fmt.Sprintf("queue-%s", queueID)
}

func (n *PubNubNotifier) NotifyQueueEvent(ctx context.Context, queueID string, ev models.QueueEvent) {
	n.publish(queueID, map[string]any{
		"type":      string(ev.Type),
		"queue_id":  queueID,
		"event_id":  ev.ID,
		"timestamp": ev.Timestamp,
	})
}

func (n *PubNubNotifier) NotifyTransitions(ctx context.Context, queueID string, transitions []Transition) {
	if len(transitions) == 0 {
		return
	}
	n.publish(queueID, map[string]any{
		"type":        "entry_transitions",
		"queue_id":    queueID,
		"transitions": transitions,
	})
}

func (n *PubNubNotifier) publish(queueID string, message map[string]any) {
	_, _, err := n.pubnub.Publish().
		Channel(queueChannel(queueID)).
		Message(message).
		Execute()
	if err != nil {
		// Notifications are best effort; the store is the record.
		n.logger.Warn("pubnub publish failed", "queue_id", queueID, "type", message["type"], "error", err)
	}
}
