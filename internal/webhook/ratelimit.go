package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hookbridge/hookbridge/internal/database"
)

// RedisRateLimiter enforces per-subscription delivery budgets with a
// one-minute fixed window in Redis, shared across processes.
type RedisRateLimiter struct {
	redis *database.Redis
}

// NewRedisRateLimiter creates a limiter backed by the shared state store.
func NewRedisRateLimiter(redis *database.Redis) *RedisRateLimiter {
	return &RedisRateLimiter{redis: redis}
}

// Allow increments the subscription's window counter and reports whether
// the delivery fits the per-minute budget.
func (l *RedisRateLimiter) Allow(ctx context.Context, subscriptionID uuid.UUID, limitPerMinute int) (bool, error) {
	if limitPerMinute <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("ratelimit:delivery:%s", subscriptionID)
	count, err := l.redis.IncrWithExpire(ctx, key, time.Minute)
	if err != nil {
		return false, err
	}
	return count <= int64(limitPerMinute), nil
}

// Compile-time check to ensure RedisRateLimiter implements RateLimiter.
var _ RateLimiter = (*RedisRateLimiter)(nil)
