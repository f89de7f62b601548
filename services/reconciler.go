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

// Transition is a status change applied to a stored entry.
type Transition struct {
	ContentHash string            `json:"content_hash"`
	Name        string            `json:"name"`
	From        models.EntryState `json:"from"`
	To          models.EntryState `json:"to"`
	Implicit    bool              `json:"implicit"`
	At          time.Time         `json:"at"`
}

type ReconcileResult struct {
	Inserted    int
	Transitions []Transition
}

// EntryReconciler folds the entries of a new snapshot into the stored
// entries collection.
type EntryReconciler struct {
	store   store.EntryStore
	monitor *monitoring.Monitor
	logger  *slog.Logger
}

func NewEntryReconciler(entries store.EntryStore, monitor *monitoring.Monitor, logger *slog.Logger) *EntryReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryReconciler{store: entries, monitor: monitor, logger: logger}
}

// Reconcile upserts every present entry, then retires stored entries that
// are no longer present: in-progress ones are taken as served, waiting ones
// as removed. Present entries must be processed first because retirement is
// defined by absence from entries.
func (r *EntryReconciler) Reconcile(ctx context.Context, queueID string, entries []models.Entry, at time.Time) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	present := make([]string, 0, len(entries))

	for _, entry := range entries {
		rec := models.NewEntryRecord(entry)
		present = append(present, rec.ContentHash)

		res, err := r.store.UpsertEntry(ctx, queueID, rec)
		if err != nil {
			return nil, err
		}
		if res.Inserted {
			result.Inserted++
			r.logger.Debug("new entry", "queue_id", queueID, "hash", rec.ContentHash, "name", rec.Name, "status", rec.Status)
		} else if res.Previous != res.Current {
			result.Transitions = append(result.Transitions, Transition{
				ContentHash: rec.ContentHash,
				Name:        rec.Name,
				From:        res.Previous,
				To:          res.Current,
				At:          at,
			})
			r.monitor.TrackTransition(queueID, string(res.Previous), string(res.Current))

			if res.Current == models.EntryInProgress {
				if err := r.store.SetTimeStarted(ctx, queueID, rec.ContentHash, at); err != nil {
					return nil, err
				}
			}
		}

		if rec.TimeOut != nil {
			if _, err := r.store.SetTimeOutIfUnset(ctx, queueID, rec.ContentHash, *rec.TimeOut); err != nil {
				return nil, err
			}
		}
	}

	retirements := []store.Retirement{
		{Present: present, From: models.EntryInProgress, To: models.EntryServed, At: at, Implicit: true},
		{Present: present, From: models.EntryWaiting, To: models.EntryRemoved, At: at},
	}
	for _, retirement := range retirements {
		hashes, err := r.store.RetireAbsent(ctx, queueID, retirement)
		if err != nil {
			return nil, fmt.Errorf("retire absent entries: %w", err)
		}
		for _, hash := range hashes {
			result.Transitions = append(result.Transitions, Transition{
				ContentHash: hash,
				From:        retirement.From,
				To:          retirement.To,
				Implicit:    retirement.Implicit,
				At:          at,
			})
			r.monitor.TrackTransition(queueID, string(retirement.From), string(retirement.To))
		}
	}

	return result, nil
}
