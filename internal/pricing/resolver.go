// Package pricing resolves execution prices for instrument keys and draws
// slippage rates. Price resolution degrades through a fallback chain
// (mapping, market data, reference table) and never fails on missing data.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/stockquest/trading-engine/internal/instrument"
	"github.com/stockquest/trading-engine/internal/marketdata"
	"github.com/stockquest/trading-engine/internal/metrics"
	"github.com/stockquest/trading-engine/internal/model"
)

// Mapper translates a challenge-scoped instrument key into a real ticker.
type Mapper interface {
	ResolveActualTicker(ctx context.Context, challengeID, instrumentKey string) (string, error)
}

// Source returns the latest close for a ticker. A missing price is reported
// as marketdata.ErrNoData.
type Source interface {
	LatestPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Price origins reported on Quote.
const (
	OriginMarket    = "market"
	OriginReference = "reference"
)

// DefaultLookupTimeout bounds a single market data lookup.
const DefaultLookupTimeout = 800 * time.Millisecond

// Quote is a resolved unit price.
type Quote struct {
	Ticker string          `json:"ticker"`
	Price  decimal.Decimal `json:"price"`
	Origin string          `json:"origin"`
}

// ResolverConfig holds the collaborators and tunables of a Resolver.
// Mapper and Source may be nil; Table and Rand may not.
type ResolverConfig struct {
	Mapper        Mapper
	Source        Source
	Table         *ReferenceTable
	Rand          Rand
	VariationPct  decimal.Decimal // synthetic perturbation band, ±percent
	LookupTimeout time.Duration
}

// Resolver implements the price fallback chain.
type Resolver struct {
	mapper    Mapper
	source    Source
	table     *ReferenceTable
	rnd       Rand
	variation decimal.Decimal
	timeout   time.Duration
	group     singleflight.Group
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Table == nil {
		return nil, errors.New("pricing: reference table is required")
	}
	if cfg.Rand == nil {
		return nil, errors.New("pricing: random source is required")
	}
	if cfg.VariationPct.IsNegative() || cfg.VariationPct.GreaterThanOrEqual(hundred) {
		return nil, fmt.Errorf("pricing: variation %s%% out of range [0, 100)", cfg.VariationPct)
	}
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Resolver{
		mapper:    cfg.Mapper,
		source:    cfg.Source,
		table:     cfg.Table,
		rnd:       cfg.Rand,
		variation: cfg.VariationPct,
		timeout:   timeout,
	}, nil
}

// Resolve returns a positive price, rounded to 2 decimals, for
// instrumentKey within challengeID. Mapping and market data failures are
// logged and absorbed.
func (r *Resolver) Resolve(ctx context.Context, challengeID, instrumentKey string) Quote {
	ticker := r.ResolveTicker(ctx, challengeID, instrumentKey)
	return r.PriceForTicker(ctx, ticker)
}

// ResolveTicker maps instrumentKey to a ticker, falling back to the key
// itself. An empty key yields instrument.DefaultTicker.
func (r *Resolver) ResolveTicker(ctx context.Context, challengeID, instrumentKey string) string {
	if r.mapper == nil {
		return instrument.NormalizeTicker(instrumentKey)
	}
	ticker, err := r.mapper.ResolveActualTicker(ctx, challengeID, instrumentKey)
	if err != nil || ticker == "" {
		metrics.TickerMappingFailures.Inc()
		slog.Warn("ticker mapping failed, using instrument key",
			"challenge_id", challengeID,
			"instrument", instrumentKey,
			"error", err,
		)
		return instrument.NormalizeTicker(instrumentKey)
	}
	return instrument.NormalizeTicker(ticker)
}

// PriceForTicker returns the market price for ticker, or a synthetic price
// from the reference table when market data is unusable.
func (r *Resolver) PriceForTicker(ctx context.Context, ticker string) Quote {
	ticker = instrument.NormalizeTicker(ticker)
	if r.source != nil {
		price, err := r.lookup(ctx, ticker)
		if err == nil {
			return Quote{Ticker: ticker, Price: price, Origin: OriginMarket}
		}
		reason := fallbackReason(err)
		metrics.PriceFallbacks.WithLabelValues(reason).Inc()
		level := slog.LevelWarn
		if reason == "miss" {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "market price unavailable, using reference price",
			"ticker", ticker,
			"reason", reason,
			"error", err,
		)
	} else {
		metrics.PriceFallbacks.WithLabelValues("no_source").Inc()
	}
	return Quote{Ticker: ticker, Price: r.Synthetic(ticker), Origin: OriginReference}
}

// lookup coalesces concurrent lookups for the same ticker. The shared call
// is detached from any single caller's cancellation and bounded by the
// resolver timeout.
func (r *Resolver) lookup(ctx context.Context, ticker string) (decimal.Decimal, error) {
	ch := r.group.DoChan(ticker, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.source.LatestPrice(lctx, ticker)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		price := res.Val.(decimal.Decimal)
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: non-positive price %s for %s", errInvalidPrice, price, ticker)
		}
		return model.RoundMoney(price), nil
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
}

var errInvalidPrice = errors.New("invalid market price")

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, marketdata.ErrNoData):
		return "miss"
	case errors.Is(err, marketdata.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, errInvalidPrice):
		return "invalid"
	default:
		return "error"
	}
}

// Synthetic returns base·(1 - v + 2v·u) for the ticker's reference base
// price, variation v and a uniform draw u, rounded half-up to 2 decimals.
func (r *Resolver) Synthetic(ticker string) decimal.Decimal {
	base, _ := r.table.Base(ticker)
	v := r.variation.Div(hundred)
	u := decimal.NewFromFloat(r.rnd.Float64())
	factor := decimal.NewFromInt(1).Sub(v).Add(v.Mul(decimal.NewFromInt(2)).Mul(u))

	price := model.RoundMoney(base.Mul(factor))
	if !price.IsPositive() {
		return decimal.New(1, -model.MoneyScale)
	}
	return price
}
