package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const countKey = "scanstock:products:active_count"

// DefaultCountTTL bounds staleness between explicit invalidations.
const DefaultCountTTL = 5 * time.Second

// CountLoader produces the authoritative active-product count.
type CountLoader func(ctx context.Context) (int, error)

// CountCache serves the active-product count from Redis with a short TTL.
// Concurrent cache misses share one loader call.
type CountCache struct {
	client *redis.Client
	ttl    time.Duration
	loader CountLoader
	group  singleflight.Group
	logger *slog.Logger
}

// NewCountCache constructs CountCache. A nil client degrades to calling the
// loader directly.
func NewCountCache(client *redis.Client, ttl time.Duration, loader CountLoader, logger *slog.Logger) *CountCache {
	if ttl <= 0 {
		ttl = DefaultCountTTL
	}
	return &CountCache{client: client, ttl: ttl, loader: loader, logger: logger}
}

// Get returns the cached count, loading and caching it on a miss.
func (c *CountCache) Get(ctx context.Context) (int, error) {
	if c.client == nil {
		return c.loader(ctx)
	}
	count, err := c.client.Get(ctx, countKey).Int()
	if err == nil {
		return count, nil
	}
	if err != redis.Nil {
		c.logger.Warn("count cache read failed", slog.Any("error", err))
	}
	value, err, _ := c.group.Do(countKey, func() (any, error) {
		count, err := c.loader(ctx)
		if err != nil {
			return 0, err
		}
		if err := c.client.Set(ctx, countKey, count, c.ttl).Err(); err != nil {
			c.logger.Warn("count cache write failed", slog.Any("error", err))
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return value.(int), nil
}

// Invalidate drops the cached count so the next read hits storage. Called
// synchronously after every committed write.
func (c *CountCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, countKey).Err(); err != nil {
		c.logger.Warn("count cache invalidation failed", slog.Any("error", err))
	}
}
