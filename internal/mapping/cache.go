package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedMapper wraps a Mapper with a Redis read-through cache. Only
// successful lookups are cached.
type CachedMapper struct {
	inner Mapper
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedMapper creates a cached mapper.
func NewCachedMapper(inner Mapper, rdb *redis.Client, ttl time.Duration) *CachedMapper {
	return &CachedMapper{inner: inner, rdb: rdb, ttl: ttl}
}

func mappingKey(challengeID, instrumentKey string) string {
	return fmt.Sprintf("stockquest:mapping:%s:%s", challengeID, instrumentKey)
}

func (c *CachedMapper) ResolveActualTicker(ctx context.Context, challengeID, instrumentKey string) (string, error) {
	key := mappingKey(challengeID, instrumentKey)
	ticker, err := c.rdb.Get(ctx, key).Result()
	if err == nil && ticker != "" {
		return ticker, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("mapping cache read failed", "challenge_id", challengeID, "instrument", instrumentKey, "error", err)
	}

	ticker, err = c.inner.ResolveActualTicker(ctx, challengeID, instrumentKey)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, ticker, c.ttl).Err(); err != nil {
		slog.Warn("mapping cache write failed", "challenge_id", challengeID, "instrument", instrumentKey, "error", err)
	}
	return ticker, nil
}
