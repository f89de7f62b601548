package services

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"queue-monitor/internal/store"
	"queue-monitor/models"
	"queue-monitor/monitoring"
)

// Ledger is the deduplicated, append-only history of observed snapshots.
type Ledger struct {
	store   store.HistoryStore
	monitor *monitoring.Monitor
	logger  *slog.Logger
}

func NewLedger(history store.HistoryStore, monitor *monitoring.Monitor, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: history, monitor: monitor, logger: logger}
}

// LedgerKey identifies a snapshot's full content: state, entries including
// their status and server, chat and servers.
func LedgerKey(snap models.Snapshot) (string, error) {
	data, err := json.Marshal(snap.Normalized())
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Append records snap as observed at the given time. Content that is already
// in the ledger is not stored again.
func (l *Ledger) Append(ctx context.Context, queueID string, snap models.Snapshot, at time.Time) (store.LedgerResult, error) {
	key, err := LedgerKey(snap)
	if err != nil {
		return store.LedgerResult{}, err
	}

	rec := models.HistoryRecord{Snapshot: snap.Normalized(), Timestamp: at.UTC()}
	res, err := l.store.AppendHistory(ctx, queueID, key, rec)
	if err != nil {
		return res, err
	}

	l.monitor.TrackLedger(queueID, res.Inserted, res.Observed)
	if res.Inserted {
		l.logger.Debug("ledger record stored", "queue_id", queueID, "key", key, "entries", len(snap.Entries))
	}
	return res, nil
}

// Records returns the observed content sequence, oldest first, each record
// stamped with the time that content was observed.
func (l *Ledger) Records(ctx context.Context, queueID string) ([]models.HistoryRecord, error) {
	return l.store.Timeline(ctx, queueID)
}

// Latest returns the most recent observation, or nil for an empty ledger.
func (l *Ledger) Latest(ctx context.Context, queueID string) (*models.HistoryRecord, error) {
	return l.store.LatestObservation(ctx, queueID)
}
