package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestEvent() (*core.RequestEvent, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	e := &core.RequestEvent{}
	e.Request = httptest.NewRequest(http.MethodGet, "/api/v1/queues/q1/entries", nil)
	e.Response = rec
	return e, rec
}

func TestRateLimiter_Limit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2)
	key := "ratelimit:192.0.2.1"

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	e, rec := newRequestEvent()
	require.NoError(t, limiter.Limit(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectIncr(key).SetVal(2)
	e, rec = newRequestEvent()
	require.NoError(t, limiter.Limit(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectIncr(key).SetVal(3)
	e, rec = newRequestEvent()
	require.NoError(t, limiter.Limit(e))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_RedisDownLetsRequestsThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 1)

	mock.ExpectIncr("ratelimit:192.0.2.1").SetErr(errors.New("connection refused"))
	e, rec := newRequestEvent()

	require.NoError(t, limiter.Limit(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_Disabled(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 0)

	e, rec := newRequestEvent()

	require.NoError(t, limiter.Limit(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
