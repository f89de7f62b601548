package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"queue-monitor/internal/store"
)

type RebuildResult struct {
	Records     int
	Inserted    int
	Transitions int
	Events      int
	Duration    time.Duration
}

// Replayer recomputes a queue's entries and events from its ledger.
type Replayer struct {
	store        store.Store
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func NewReplayer(s store.Store, orchestrator *Orchestrator, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{store: s, orchestrator: orchestrator, logger: logger}
}

// Rebuild clears the entries and events of queueID and replays every ledger
// observation through the orchestrator, oldest first, at the time it was
// observed. The ledger itself is only read.
func (r *Replayer) Rebuild(ctx context.Context, queueID string) (*RebuildResult, error) {
	start := time.Now()
	if err := r.store.ClearDerived(ctx, queueID); err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", queueID, err)
	}

	records, err := r.orchestrator.Ledger().Records(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: read ledger: %w", queueID, err)
	}
	r.logger.Info("rebuilding from ledger", "queue_id", queueID, "records", len(records))

	result := &RebuildResult{Records: len(records)}
	for i, cur := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prev := cur
		if i > 0 {
			prev = records[i-1]
		}
		res, err := r.orchestrator.ProcessUpdate(ctx, queueID, prev.Snapshot, cur.Snapshot, cur.Timestamp, false)
		if err != nil {
			return nil, fmt.Errorf("rebuild %s: record %d: %w", queueID, i, err)
		}

		result.Inserted += res.Inserted
		result.Transitions += len(res.Transitions)
		if res.Event != nil {
			result.Events++
		}
		if (i+1)%500 == 0 {
			r.logger.Debug("rebuild progress", "queue_id", queueID, "processed", i+1, "records", len(records))
		}
	}

	result.Duration = time.Since(start)
	r.logger.Info("rebuild complete",
		"queue_id", queueID,
		"records", result.Records,
		"entries", result.Inserted,
		"events", result.Events,
		"duration", result.Duration,
	)
	return result, nil
}
