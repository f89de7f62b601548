package security

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts requests per client IP in fixed windows kept in Redis.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter allows perMinute requests per client IP. A limit of zero or
// less disables limiting.
func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: int64(perMinute), window: time.Minute}
}

// Limit is a request middleware. Requests pass when Redis cannot be reached.
func (r *RateLimiter) Limit(e *core.RequestEvent) error {
	if r.limit <= 0 {
		return e.Next()
	}

	ctx := e.Request.Context()
	key := fmt.Sprintf("ratelimit:%s", e.RemoteIP())

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("rate limit check failed", "key", key, "error", err)
		return e.Next()
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	if count > r.limit {
		return e.JSON(http.StatusTooManyRequests, map[string]string{
			"error": "Too many requests",
		})
	}

	return e.Next()
}
