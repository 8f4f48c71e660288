package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"campus_market/pkg/logger"
)

// RateLimitRepository is the redis-backed counter behind the transport-level
// per-IP limiter. The per-sender message limiter is a separate in-process
// structure in the service layer.
type RateLimitRepository interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

// Allow increments the counter for key and reports whether the caller is
// still within limit. The window TTL is armed on the first hit.
func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int64, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit counter", "key", key, "error", err)
		return false, 0, err
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, window).Err(); err != nil {
			r.log.Error("Failed to set rate limit TTL", "key", key, "error", err)
		}
	}
	return count <= int64(limit), count, nil
}
