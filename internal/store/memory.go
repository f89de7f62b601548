package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"queue-monitor/internal/status"
	"queue-monitor/models"
)

type observation struct {
	key string
	at  time.Time
}

type memoryQueue struct {
	entries  map[string]models.EntryRecord
	events   []models.QueueEvent
	history  map[string]models.HistoryRecord
	timeline []observation
}

// MemoryStore is an in-process Store with the same semantics as RedisStore.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string]*memoryQueue)}
}

func (s *MemoryStore) queue(queueID string) *memoryQueue {
	q, ok := s.queues[queueID]
	if !ok {
		q = &memoryQueue{
			entries: make(map[string]models.EntryRecord),
			history: make(map[string]models.HistoryRecord),
		}
		s.queues[queueID] = q
	}
	return q
}

func (s *MemoryStore) UpsertEntry(ctx context.Context, queueID string, rec models.EntryRecord) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec = cleanRecord(rec)
	q := s.queue(queueID)
	cur, ok := q.entries[rec.ContentHash]
	if !ok {
		rec.TimeStarted = nil
		rec.Implicit = false
		q.entries[rec.ContentHash] = rec
		return UpsertResult{Inserted: true, Current: rec.Status}, nil
	}

	if rec.ExternalID != nil {
		cur.ExternalID = rec.ExternalID
	}
	result := UpsertResult{Previous: cur.Status, Current: cur.Status}
	if cur.Status.CanAdvance(rec.Status) {
		cur.Status = rec.Status
		cur.Server = rec.Server
		result.Current = rec.Status
	}
	q.entries[rec.ContentHash] = cur
	return result, nil
}

func (s *MemoryStore) SetTimeStarted(ctx context.Context, queueID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	cur, ok := q.entries[hash]
	if !ok {
		return fmt.Errorf("set time started %s: %w", hash, status.ErrEntryNotFound)
	}
	at = at.UTC()
	cur.TimeStarted = &at
	q.entries[hash] = cur
	return nil
}

func (s *MemoryStore) SetTimeOutIfUnset(ctx context.Context, queueID, hash string, t time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	cur, ok := q.entries[hash]
	if !ok {
		return false, fmt.Errorf("set time out %s: %w", hash, status.ErrEntryNotFound)
	}
	if cur.TimeOut != nil {
		return false, nil
	}
	t = t.UTC()
	cur.TimeOut = &t
	q.entries[hash] = cur
	return true, nil
}

func (s *MemoryStore) RetireAbsent(ctx context.Context, queueID string, r Retirement) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]struct{}, len(r.Present))
	for _, hash := range r.Present {
		present[hash] = struct{}{}
	}

	q := s.queue(queueID)
	retired := []string{}
	for hash, cur := range q.entries {
		if _, ok := present[hash]; ok || cur.Status != r.From {
			continue
		}
		cur.Status = r.To
		if cur.TimeOut == nil {
			at := r.At.UTC()
			cur.TimeOut = &at
		}
		if r.Implicit {
			cur.Implicit = true
		}
		q.entries[hash] = cur
		retired = append(retired, hash)
	}
	sort.Strings(retired)
	return retired, nil
}

func (s *MemoryStore) Entry(ctx context.Context, queueID, hash string) (*models.EntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.queue(queueID).entries[hash]
	if !ok {
		return nil, status.ErrEntryNotFound
	}
	return &cur, nil
}

func (s *MemoryStore) Entries(ctx context.Context, queueID string) ([]models.EntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	out := make([]models.EntryRecord, 0, len(q.entries))
	for _, cur := range q.entries {
		out = append(out, cur)
	}
	sortEntries(out)
	return out, nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, queueID string, ev models.QueueEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	for _, existing := range q.events {
		if existing.ID == ev.ID {
			return false, nil
		}
	}
	q.events = append(q.events, ev)
	return true, nil
}

func (s *MemoryStore) Events(ctx context.Context, queueID string) ([]models.QueueEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.QueueEvent{}, s.queue(queueID).events...), nil
}

func (s *MemoryStore) AppendHistory(ctx context.Context, queueID, key string, rec models.HistoryRecord) (LedgerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result LedgerResult
	q := s.queue(queueID)
	if _, ok := q.history[key]; !ok {
		q.history[key] = rec
		result.Inserted = true
	}
	if n := len(q.timeline); n == 0 || q.timeline[n-1].key != key {
		q.timeline = append(q.timeline, observation{key: key, at: rec.Timestamp})
		result.Observed = true
	}
	return result, nil
}

func (s *MemoryStore) History(ctx context.Context, queueID string) ([]models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	out := make([]models.HistoryRecord, 0, len(q.history))
	for _, rec := range q.history {
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) Timeline(ctx context.Context, queueID string) ([]models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	out := make([]models.HistoryRecord, 0, len(q.timeline))
	for _, obs := range q.timeline {
		rec := q.history[obs.key]
		rec.Timestamp = obs.at
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) LatestObservation(ctx context.Context, queueID string) (*models.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	if len(q.timeline) == 0 {
		return nil, nil
	}
	obs := q.timeline[len(q.timeline)-1]
	rec := q.history[obs.key]
	rec.Timestamp = obs.at
	return &rec, nil
}

func (s *MemoryStore) ClearDerived(ctx context.Context, queueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue(queueID)
	q.entries = make(map[string]models.EntryRecord)
	q.events = nil
	return nil
}

// cleanRecord treats empty optional strings as absent, matching what a
// round trip through Redis produces.
func cleanRecord(rec models.EntryRecord) models.EntryRecord {
	if rec.ExternalID != nil && *rec.ExternalID == "" {
		rec.ExternalID = nil
	}
	if rec.Server != nil && *rec.Server == "" {
		rec.Server = nil
	}
	return rec
}

func sortEntries(entries []models.EntryRecord) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].TimeIn.Equal(entries[j].TimeIn) {
			return entries[i].TimeIn.Before(entries[j].TimeIn)
		}
		return entries[i].ContentHash < entries[j].ContentHash
	})
}
