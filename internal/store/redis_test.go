package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-monitor/internal/status"
	"queue-monitor/models"
)

func setupTestRedisStore() (*RedisStore, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewRedisStore(db), mock
}

func TestRedisStore_UpsertEntry_Insert(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	rec := testRecord("Alice", models.EntryWaiting)
	fields, err := immutableFields(rec)
	require.NoError(t, err)

	args := append([]any{rec.ContentHash, "waiting", "", ""}, fields...)
	mock.ExpectEval(upsertEntryScript,
		[]string{"queue:q1:entry:" + rec.ContentHash, "queue:q1:entries"},
		args...,
	).SetVal([]interface{}{"", "waiting"})

	res, err := s.UpsertEntry(ctx, "q1", rec)

	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, models.EntryWaiting, res.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_UpsertEntry_Advance(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	rec := testRecord("Alice", models.EntryInProgress)
	rec.Server = strPtr("Bob")
	rec.ExternalID = strPtr("42")
	fields, err := immutableFields(rec)
	require.NoError(t, err)

	args := append([]any{rec.ContentHash, "in_progress", "Bob", "42"}, fields...)
	mock.ExpectEval(upsertEntryScript,
		[]string{"queue:q1:entry:" + rec.ContentHash, "queue:q1:entries"},
		args...,
	).SetVal([]interface{}{"waiting", "in_progress"})

	res, err := s.UpsertEntry(ctx, "q1", rec)

	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.Equal(t, models.EntryWaiting, res.Previous)
	assert.Equal(t, models.EntryInProgress, res.Current)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_SetTimeOutIfUnset(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	mock.ExpectHSetNX("queue:q1:entry:abc", "time_out", "2024-03-04T15:00:00Z").SetVal(false)

	set, err := s.SetTimeOutIfUnset(ctx, "q1", "abc", at)

	require.NoError(t, err)
	assert.False(t, set)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_RetireAbsent(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	mock.ExpectEval(retireAbsentScript, []string{"queue:q1:entries"},
		"queue:q1:entry:", "in_progress", "served", "2024-03-04T15:00:00Z", "1", "keep",
	).SetVal([]interface{}{"zeta", "alpha"})

	retired, err := s.RetireAbsent(ctx, "q1", Retirement{
		Present:  []string{"keep"},
		From:     models.EntryInProgress,
		To:       models.EntryServed,
		At:       at,
		Implicit: true,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, retired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Entry(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	mock.ExpectHGetAll("queue:q1:entry:abc").SetVal(map[string]string{
		"content_hash": "abc",
		"name":         "Alice",
		"time_in":      "2024-03-04T14:00:00Z",
		"time_started": "2024-03-04T14:10:00Z",
		"status":       "in_progress",
		"server":       "Bob",
		"external_id":  "42",
		"questions":    `[{"question":"Course","answer":"CS101"}]`,
	})
	mock.ExpectHGetAll("queue:q1:entry:missing").SetVal(map[string]string{})

	rec, err := s.Entry(ctx, "q1", "abc")
	require.NoError(t, err)
	assert.Equal(t, "Alice", rec.Name)
	assert.Equal(t, models.EntryInProgress, rec.Status)
	assert.Equal(t, "Bob", *rec.Server)
	assert.Equal(t, "42", *rec.ExternalID)
	assert.Nil(t, rec.TimeOut)
	require.NotNil(t, rec.TimeStarted)
	assert.Equal(t, time.Date(2024, 3, 4, 14, 10, 0, 0, time.UTC), *rec.TimeStarted)
	assert.Equal(t, []models.Question{{Question: "Course", Answer: "CS101"}}, rec.Questions)
	assert.False(t, rec.Implicit)

	_, err = s.Entry(ctx, "q1", "missing")
	assert.ErrorIs(t, err, status.ErrEntryNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_AppendEvent(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	ev := models.NewQueueEvent("q1", models.EventQueueOpen, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	keys := []string{"queue:q1:events", "queue:q1:events:ids"}
	mock.ExpectEval(appendEventScript, keys, ev.ID, string(data)).SetVal(int64(1))
	mock.ExpectEval(appendEventScript, keys, ev.ID, string(data)).SetVal(int64(0))

	appended, err := s.AppendEvent(ctx, "q1", ev)
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = s.AppendEvent(ctx, "q1", ev)
	require.NoError(t, err)
	assert.False(t, appended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_AppendHistory(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	rec := models.HistoryRecord{Snapshot: models.Snapshot{State: models.QueueOpen}.Normalized(), Timestamp: at}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectEval(appendHistoryScript,
		[]string{"queue:q1:history", "queue:q1:history:timeline"},
		"key", string(data), at.UnixMilli(), timelineMember(at, "key"),
	).SetVal([]interface{}{int64(0), int64(1)})

	res, err := s.AppendHistory(ctx, "q1", "key", rec)

	require.NoError(t, err)
	assert.Equal(t, LedgerResult{Inserted: false, Observed: true}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Timeline(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	ctx := context.Background()
	first := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	later := first.Add(2 * time.Hour)
	closed := models.HistoryRecord{Snapshot: models.Snapshot{State: models.QueueClosed}.Normalized(), Timestamp: first}
	data, err := json.Marshal(closed)
	require.NoError(t, err)

	mock.ExpectZRange("queue:q1:history:timeline", 0, -1).SetVal([]string{
		timelineMember(first, "closed"),
		timelineMember(later, "closed"),
	})
	mock.ExpectHMGet("queue:q1:history", "closed", "closed").SetVal([]interface{}{string(data), string(data)})

	records, err := s.Timeline(ctx, "q1")

	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0].Timestamp)
	assert.Equal(t, later, records[1].Timestamp)
	assert.Equal(t, models.QueueClosed, records[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_LatestObservationEmpty(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	mock.ExpectZRange("queue:q1:history:timeline", -1, -1).SetVal([]string{})

	rec, err := s.LatestObservation(context.Background(), "q1")

	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_ClearDerived(t *testing.T) {
	s, mock := setupTestRedisStore()
	defer mock.ClearExpect()

	mock.ExpectSMembers("queue:q1:entries").SetVal([]string{"abc"})
	mock.ExpectDel("queue:q1:entry:abc", "queue:q1:entries", "queue:q1:events", "queue:q1:events:ids").SetVal(4)

	require.NoError(t, s.ClearDerived(context.Background(), "q1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseTimelineMember(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 0, 0, 123, time.UTC)

	parsed, key, err := parseTimelineMember(timelineMember(at, "deadbeef"))

	require.NoError(t, err)
	assert.Equal(t, at, parsed)
	assert.Equal(t, "deadbeef", key)

	_, _, err = parseTimelineMember("garbage")
	assert.Error(t, err)
}
