package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// CachedSource wraps a Source with a Redis read-through quote cache.
// Redis failures are logged and bypassed; they never hide the inner source.
type CachedSource struct {
	inner Source
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedSource creates a cached source. ttl bounds quote staleness.
func NewCachedSource(inner Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, rdb: rdb, ttl: ttl}
}

func quoteKey(ticker string) string {
	return fmt.Sprintf("stockquest:quote:%s", ticker)
}

func (c *CachedSource) LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	raw, err := c.rdb.Get(ctx, quoteKey(ticker)).Result()
	switch {
	case err == nil:
		if price, perr := decimal.NewFromString(raw); perr == nil {
			return price, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("quote cache read failed", "ticker", ticker, "error", err)
	}

	price, err := c.inner.LatestPrice(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.rdb.Set(ctx, quoteKey(ticker), price.String(), c.ttl).Err(); err != nil {
		slog.Warn("quote cache write failed", "ticker", ticker, "error", err)
	}
	return price, nil
}
