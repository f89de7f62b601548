package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"queue-monitor/internal/store"
	"queue-monitor/models"
	"queue-monitor/services"
)

func newRequestEvent(method, target string, pathValues map[string]string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req
	e.Response = rec
	return e, rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func requireAPIStatus(t *testing.T, err error, code int) {
	t.Helper()
	var apiErr *router.ApiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, code, apiErr.Status)
}

// seededStore runs a short live sequence: Alice is served, Carol waits and
// the queue opens once.
func seededStore(t *testing.T) (*store.MemoryStore, *services.Orchestrator) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	o := services.NewOrchestrator(s, nil, nil, nil)

	t0 := time.Date(2024, 3, 4, 22, 0, 0, 0, time.UTC)
	alice := models.Entry{Name: "Alice", TimeIn: t0.Add(-time.Hour), Status: models.EntryWaiting}
	carol := models.Entry{Name: "Carol", TimeIn: t0.Add(-30 * time.Minute), Status: models.EntryWaiting}
	closed := models.Snapshot{State: models.QueueClosed}
	open := models.Snapshot{State: models.QueueOpen, Entries: []models.Entry{alice, carol}}
	later := models.Snapshot{State: models.QueueOpen, Entries: []models.Entry{carol}}

	_, err := o.ProcessUpdate(ctx, "q1", closed, closed, t0, true)
	require.NoError(t, err)
	_, err = o.ProcessUpdate(ctx, "q1", closed, open, t0.Add(time.Minute), true)
	require.NoError(t, err)
	_, err = o.ProcessUpdate(ctx, "q1", open, later, t0.Add(2*time.Minute), true)
	require.NoError(t, err)
	return s, o
}

func TestQueueHandler_ListEntries(t *testing.T) {
	s, o := seededStore(t)
	h := NewQueueHandler(s, services.NewReplayer(s, o, nil), nil)

	e, rec := newRequestEvent(http.MethodGet, "/api/v1/queues/q1/entries", map[string]string{"queueId": "q1"})
	require.NoError(t, h.ListEntries(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["total"])

	e, rec = newRequestEvent(http.MethodGet, "/api/v1/queues/q1/entries?status=removed", map[string]string{"queueId": "q1"})
	require.NoError(t, h.ListEntries(e))
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["total"])
	entries := body["entries"].([]any)
	assert.Equal(t, "Alice", entries[0].(map[string]any)["name"])

	e, _ = newRequestEvent(http.MethodGet, "/api/v1/queues/q1/entries?status=gone", map[string]string{"queueId": "q1"})
	requireAPIStatus(t, h.ListEntries(e), http.StatusBadRequest)
}

func TestQueueHandler_GetEntry(t *testing.T) {
	s, o := seededStore(t)
	h := NewQueueHandler(s, services.NewReplayer(s, o, nil), nil)

	entries, err := s.Entries(context.Background(), "q1")
	require.NoError(t, err)
	hash := entries[0].ContentHash

	e, rec := newRequestEvent(http.MethodGet, "/", map[string]string{"queueId": "q1", "hash": hash})
	require.NoError(t, h.GetEntry(e))
	assert.Equal(t, hash, decode(t, rec)["content_hash"])

	e, _ = newRequestEvent(http.MethodGet, "/", map[string]string{"queueId": "q1", "hash": "missing"})
	requireAPIStatus(t, h.GetEntry(e), http.StatusNotFound)
}

func TestQueueHandler_EventsAndHistory(t *testing.T) {
	s, o := seededStore(t)
	h := NewQueueHandler(s, services.NewReplayer(s, o, nil), nil)

	e, rec := newRequestEvent(http.MethodGet, "/", map[string]string{"queueId": "q1"})
	require.NoError(t, h.ListEvents(e))
	events := decode(t, rec)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "queue_open", events[0].(map[string]any)["event"])

	e, rec = newRequestEvent(http.MethodGet, "/?distinct=true", map[string]string{"queueId": "q1"})
	require.NoError(t, h.GetHistory(e))
	assert.Equal(t, float64(3), decode(t, rec)["total"])
}

func TestQueueHandler_Rebuild(t *testing.T) {
	s, o := seededStore(t)

	busy := NewQueueHandler(s, services.NewReplayer(s, o, nil), []string{"q1"})
	e, rec := newRequestEvent(http.MethodPost, "/", map[string]string{"queueId": "q1"})
	require.NoError(t, busy.Rebuild(e))
	assert.Equal(t, http.StatusConflict, rec.Code)

	idle := NewQueueHandler(s, services.NewReplayer(s, o, nil), nil)
	e, rec = newRequestEvent(http.MethodPost, "/", map[string]string{"queueId": "q1"})
	require.NoError(t, idle.Rebuild(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["records"])
	assert.Equal(t, float64(2), body["entries"])
	assert.Equal(t, float64(1), body["events"])
}

func TestAdminHandler_GetQueueDashboard(t *testing.T) {
	s, _ := seededStore(t)
	h := NewAdminHandler(s, []string{"q1", "q2"})

	e, rec := newRequestEvent(http.MethodGet, "/api/v1/admin/queues", nil)
	require.NoError(t, h.GetQueueDashboard(e))

	queues := decode(t, rec)["queues"].([]any)
	require.Len(t, queues, 2)

	q1 := queues[0].(map[string]any)
	assert.Equal(t, "open", q1["state"])
	assert.Equal(t, float64(1), q1["events"])
	counts := q1["entries"].(map[string]any)
	assert.Equal(t, float64(1), counts["waiting"])
	assert.Equal(t, float64(1), counts["removed"])

	q2 := queues[1].(map[string]any)
	assert.Nil(t, q2["observed_at"])
	assert.Equal(t, float64(0), q2["events"])
}
