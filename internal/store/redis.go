package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"queue-monitor/internal/status"
	"queue-monitor/models"
)

// RedisStore keeps each queue under its own key prefix:
//
//	queue:{id}:entries            set of content hashes (the entry index)
//	queue:{id}:entry:{hash}       hash with the entry's fields
//	queue:{id}:events             list of JSON events
//	queue:{id}:events:ids         set of appended event IDs
//	queue:{id}:history            hash of content key -> JSON history record
//	queue:{id}:history:timeline   sorted set of "{unixnano}:{content key}"
type RedisStore struct {
	Redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{Redis: redisClient}
}

func entriesKey(queueID string) string { return fmt.Sprintf("queue:%s:entries", queueID) }

func entryPrefix(queueID string) string { return fmt.Sprintf("queue:%s:entry:", queueID) }

func entryKey(queueID, hash string) string { return entryPrefix(queueID) + hash }

func eventsKey(queueID string) string { return fmt.Sprintf("queue:%s:events", queueID) }

func eventIDsKey(queueID string) string { return fmt.Sprintf("queue:%s:events:ids", queueID) }

func historyKey(queueID string) string { return fmt.Sprintf("queue:%s:history", queueID) }

func timelineKey(queueID string) string { return fmt.Sprintf("queue:%s:history:timeline", queueID) }

func timelineMember(at time.Time, key string) string {
	return fmt.Sprintf("%019d:%s", at.UnixNano(), key)
}

func parseTimelineMember(member string) (time.Time, string, error) {
	nanos, key, ok := strings.Cut(member, ":")
	if !ok {
		return time.Time{}, "", fmt.Errorf("malformed timeline member %q", member)
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed timeline member %q: %w", member, err)
	}
	return time.Unix(0, n).UTC(), key, nil
}

func (s *RedisStore) UpsertEntry(ctx context.Context, queueID string, rec models.EntryRecord) (UpsertResult, error) {
	rec = cleanRecord(rec)
	fields, err := immutableFields(rec)
	if err != nil {
		return UpsertResult{}, err
	}

	args := append([]any{
		rec.ContentHash,
		string(rec.Status),
		optional(rec.Server),
		optional(rec.ExternalID),
	}, fields...)

	res, err := s.Redis.Eval(ctx, upsertEntryScript,
		[]string{entryKey(queueID, rec.ContentHash), entriesKey(queueID)},
		args...,
	).StringSlice()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert entry %s: %w", rec.ContentHash, err)
	}
	if len(res) != 2 {
		return UpsertResult{}, fmt.Errorf("upsert entry %s: unexpected reply %v", rec.ContentHash, res)
	}

	return UpsertResult{
		Inserted: res[0] == "",
		Previous: models.EntryState(res[0]),
		Current:  models.EntryState(res[1]),
	}, nil
}

func (s *RedisStore) SetTimeStarted(ctx context.Context, queueID, hash string, at time.Time) error {
	if err := s.Redis.HSet(ctx, entryKey(queueID, hash), fieldTimeStarted, formatTime(at)).Err(); err != nil {
		return fmt.Errorf("set time started %s: %w", hash, err)
	}
	return nil
}

func (s *RedisStore) SetTimeOutIfUnset(ctx context.Context, queueID, hash string, t time.Time) (bool, error) {
	set, err := s.Redis.HSetNX(ctx, entryKey(queueID, hash), fieldTimeOut, formatTime(t)).Result()
	if err != nil {
		return false, fmt.Errorf("set time out %s: %w", hash, err)
	}
	return set, nil
}

func (s *RedisStore) RetireAbsent(ctx context.Context, queueID string, r Retirement) ([]string, error) {
	implicit := ""
	if r.Implicit {
		implicit = "1"
	}
	args := []any{entryPrefix(queueID), string(r.From), string(r.To), formatTime(r.At), implicit}
	for _, hash := range r.Present {
		args = append(args, hash)
	}

	retired, err := s.Redis.Eval(ctx, retireAbsentScript, []string{entriesKey(queueID)}, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("retire %s entries: %w", r.From, err)
	}
	sort.Strings(retired)
	return retired, nil
}

func (s *RedisStore) Entry(ctx context.Context, queueID, hash string) (*models.EntryRecord, error) {
	values, err := s.Redis.HGetAll(ctx, entryKey(queueID, hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", hash, err)
	}
	if len(values) == 0 {
		return nil, status.ErrEntryNotFound
	}
	rec, err := entryFromFields(values)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) Entries(ctx context.Context, queueID string) ([]models.EntryRecord, error) {
	hashes, err := s.Redis.SMembers(ctx, entriesKey(queueID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	sort.Strings(hashes)

	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	if len(hashes) > 0 {
		_, err = s.Redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, hash := range hashes {
				cmds[i] = pipe.HGetAll(ctx, entryKey(queueID, hash))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("load entries: %w", err)
		}
	}

	entries := make([]models.EntryRecord, 0, len(hashes))
	for _, cmd := range cmds {
		values := cmd.Val()
		if len(values) == 0 {
			continue
		}
		rec, err := entryFromFields(values)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rec)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *RedisStore) AppendEvent(ctx context.Context, queueID string, ev models.QueueEvent) (bool, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return false, err
	}
	appended, err := s.Redis.Eval(ctx, appendEventScript,
		[]string{eventsKey(queueID), eventIDsKey(queueID)},
		ev.ID, string(data),
	).Int()
	if err != nil {
		return false, fmt.Errorf("append event: %w", err)
	}
	return appended == 1, nil
}

func (s *RedisStore) Events(ctx context.Context, queueID string) ([]models.QueueEvent, error) {
	raw, err := s.Redis.LRange(ctx, eventsKey(queueID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	events := make([]models.QueueEvent, 0, len(raw))
	for _, data := range raw {
		var ev models.QueueEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, queueID, key string, rec models.HistoryRecord) (LedgerResult, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return LedgerResult{}, err
	}

	res, err := s.Redis.Eval(ctx, appendHistoryScript,
		[]string{historyKey(queueID), timelineKey(queueID)},
		key, string(data), rec.Timestamp.UnixMilli(), timelineMember(rec.Timestamp, key),
	).Int64Slice()
	if err != nil {
		return LedgerResult{}, fmt.Errorf("append history: %w", err)
	}
	if len(res) != 2 {
		return LedgerResult{}, fmt.Errorf("append history: unexpected reply %v", res)
	}
	return LedgerResult{Inserted: res[0] == 1, Observed: res[1] == 1}, nil
}

func (s *RedisStore) History(ctx context.Context, queueID string) ([]models.HistoryRecord, error) {
	raw, err := s.Redis.HVals(ctx, historyKey(queueID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	records := make([]models.HistoryRecord, 0, len(raw))
	for _, data := range raw {
		var rec models.HistoryRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

func (s *RedisStore) Timeline(ctx context.Context, queueID string) ([]models.HistoryRecord, error) {
	return s.timeline(ctx, queueID, 0, -1)
}

func (s *RedisStore) LatestObservation(ctx context.Context, queueID string) (*models.HistoryRecord, error) {
	records, err := s.timeline(ctx, queueID, -1, -1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

func (s *RedisStore) timeline(ctx context.Context, queueID string, start, stop int64) ([]models.HistoryRecord, error) {
	members, err := s.Redis.ZRange(ctx, timelineKey(queueID), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read timeline: %w", err)
	}
	if len(members) == 0 {
		return []models.HistoryRecord{}, nil
	}

	stamps := make([]time.Time, len(members))
	keys := make([]string, len(members))
	for i, member := range members {
		if stamps[i], keys[i], err = parseTimelineMember(member); err != nil {
			return nil, err
		}
	}

	values, err := s.Redis.HMGet(ctx, historyKey(queueID), keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	records := make([]models.HistoryRecord, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("timeline references missing history record %s", keys[i])
		}
		var rec models.HistoryRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		rec.Timestamp = stamps[i]
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) ClearDerived(ctx context.Context, queueID string) error {
	hashes, err := s.Redis.SMembers(ctx, entriesKey(queueID)).Result()
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}

	keys := make([]string, 0, len(hashes)+3)
	for _, hash := range hashes {
		keys = append(keys, entryKey(queueID, hash))
	}
	keys = append(keys, entriesKey(queueID), eventsKey(queueID), eventIDsKey(queueID))

	if err := s.Redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear derived collections: %w", err)
	}
	return nil
}
