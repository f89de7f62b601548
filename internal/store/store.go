// Package store persists the reconciled state of monitored queues: the
// entries and events collections and the snapshot history ledger. Every
// collection is partitioned by queue ID.
package store

import (
	"context"
	"time"

	"queue-monitor/models"
)

// UpsertResult describes what an entry upsert did. Previous is empty when
// the entry was inserted.
type UpsertResult struct {
	Inserted bool
	Previous models.EntryState
	Current  models.EntryState
}

// Retirement moves every stored entry in state From whose hash is absent
// from Present to state To.
type Retirement struct {
	Present  []string
	From     models.EntryState
	To       models.EntryState
	At       time.Time
	Implicit bool
}

// LedgerResult reports whether a history append created a new content
// record and whether it extended the observation timeline.
type LedgerResult struct {
	Inserted bool
	Observed bool
}

// EntryStore holds the per-entry collection.
type EntryStore interface {
	// UpsertEntry inserts rec when its hash is unknown. Otherwise it only
	// advances status and server (see models.EntryState.CanAdvance) and sets
	// the external ID when rec carries one.
	UpsertEntry(ctx context.Context, queueID string, rec models.EntryRecord) (UpsertResult, error)
	SetTimeStarted(ctx context.Context, queueID, hash string, at time.Time) error
	// SetTimeOutIfUnset writes t only when the stored time out is empty.
	SetTimeOutIfUnset(ctx context.Context, queueID, hash string, t time.Time) (bool, error)
	// RetireAbsent returns the hashes it retired.
	RetireAbsent(ctx context.Context, queueID string, r Retirement) ([]string, error)
	Entry(ctx context.Context, queueID, hash string) (*models.EntryRecord, error)
	// Entries returns every stored entry ordered by signup time.
	Entries(ctx context.Context, queueID string) ([]models.EntryRecord, error)
}

// EventStore holds the queue open/close events.
type EventStore interface {
	// AppendEvent is a no-op for an event ID that was already appended.
	AppendEvent(ctx context.Context, queueID string, ev models.QueueEvent) (bool, error)
	Events(ctx context.Context, queueID string) ([]models.QueueEvent, error)
}

// HistoryStore is the append-only snapshot ledger. Records are unique per
// content key; the timeline lists, in time order, every point at which the
// observed content changed.
type HistoryStore interface {
	AppendHistory(ctx context.Context, queueID, key string, rec models.HistoryRecord) (LedgerResult, error)
	// History returns the distinct records stamped with their first
	// observation, oldest first.
	History(ctx context.Context, queueID string) ([]models.HistoryRecord, error)
	// Timeline returns the content sequence stamped with each observation
	// time, oldest first.
	Timeline(ctx context.Context, queueID string) ([]models.HistoryRecord, error)
	// LatestObservation returns nil when the ledger is empty.
	LatestObservation(ctx context.Context, queueID string) (*models.HistoryRecord, error)
}

type Store interface {
	EntryStore
	EventStore
	HistoryStore
	// ClearDerived drops the entries and events collections. The ledger is
	// left untouched.
	ClearDerived(ctx context.Context, queueID string) error
}
