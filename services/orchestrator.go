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

type UpdateResult struct {
	Ledger      store.LedgerResult
	Inserted    int
	Transitions []Transition
	Event       *models.QueueEvent
}

// Orchestrator applies one (previous, next) snapshot pair to the store. Live
// polling and ledger replay both go through ProcessUpdate, so the stored
// result depends only on the snapshots and the time they are processed at.
type Orchestrator struct {
	ledger     *Ledger
	reconciler *EntryReconciler
	events     *EventDetector
	notifier   Notifier
	logger     *slog.Logger
}

func NewOrchestrator(s store.Store, monitor *monitoring.Monitor, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Orchestrator{
		ledger:     NewLedger(s, monitor, logger),
		reconciler: NewEntryReconciler(s, monitor, logger),
		events:     NewEventDetector(s, monitor, logger),
		notifier:   notifier,
		logger:     logger,
	}
}

func (o *Orchestrator) Ledger() *Ledger {
	return o.ledger
}

// ProcessUpdate records next (when recordToLedger is set), reconciles its
// entries and detects an open/close edge from prev to next. Calling it again
// with the same arguments changes nothing. Notifications are only sent for
// live updates, i.e. when recordToLedger is set.
func (o *Orchestrator) ProcessUpdate(ctx context.Context, queueID string, prev, next models.Snapshot, at time.Time, recordToLedger bool) (*UpdateResult, error) {
	at = at.UTC()
	result := &UpdateResult{}

	if recordToLedger {
		res, err := o.ledger.Append(ctx, queueID, next, at)
		if err != nil {
			return nil, fmt.Errorf("ledger append: %w", err)
		}
		result.Ledger = res
	}

	reconciled, err := o.reconciler.Reconcile(ctx, queueID, next.Entries, at)
	if err != nil {
		return nil, fmt.Errorf("reconcile entries: %w", err)
	}
	result.Inserted = reconciled.Inserted
	result.Transitions = reconciled.Transitions

	ev, err := o.events.Record(ctx, queueID, prev.State, next.State, at)
	if err != nil {
		return nil, err
	}
	result.Event = ev

	if recordToLedger {
		o.notifier.NotifyTransitions(ctx, queueID, result.Transitions)
		if ev != nil {
			o.notifier.NotifyQueueEvent(ctx, queueID, *ev)
		}
	}
	return result, nil
}
