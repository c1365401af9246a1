// Package marketdata provides latest-price sources for the price resolver:
// the Alpaca market data API, a SQLite historical candle store, a Redis
// quote cache and a rate-limiting decorator, composed with Chain.
package marketdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoData means the source answered but holds no price for the ticker.
	ErrNoData = errors.New("marketdata: no data")
	// ErrRateLimited means the call was shed before reaching the backend.
	ErrRateLimited = errors.New("marketdata: rate limited")
)

// Source returns the latest close price for a ticker.
type Source interface {
	LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Compile-time interface checks.
var (
	_ Source = Chain(nil)
	_ Source = (*AlpacaSource)(nil)
	_ Source = (*CandleStore)(nil)
	_ Source = (*CachedSource)(nil)
	_ Source = (*RateLimitedSource)(nil)
)

// Chain asks each source in order and returns the first price found.
type Chain []Source

// LatestPrice returns ErrNoData when every source misses, or the last
// backend error when at least one source failed.
func (c Chain) LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var lastErr error
	for _, src := range c {
		if err := ctx.Err(); err != nil {
			return decimal.Zero, err
		}
		price, err := src.LatestPrice(ctx, ticker)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, ErrNoData) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return decimal.Zero, fmt.Errorf("latest price %s: %w", ticker, lastErr)
	}
	return decimal.Zero, fmt.Errorf("%w for %s", ErrNoData, ticker)
}
