package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// RateLimitedSource sheds calls beyond a per-minute budget instead of
// queueing them, so callers fall back immediately.
type RateLimitedSource struct {
	inner   Source
	limiter *rate.Limiter
}

// NewRateLimitedSource allows perMinute calls per minute with a burst of
// one tenth of that (at least 1). perMinute <= 0 disables limiting.
func NewRateLimitedSource(inner Source, perMinute int) *RateLimitedSource {
	if perMinute <= 0 {
		return &RateLimitedSource{inner: inner, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimitedSource{inner: inner, limiter: rate.NewLimiter(rate.Every(every), burst)}
}

func (s *RateLimitedSource) LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if !s.limiter.Allow() {
		return decimal.Zero, ErrRateLimited
	}
	return s.inner.LatestPrice(ctx, ticker)
}
