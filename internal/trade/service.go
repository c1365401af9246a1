// Package trade provides the order execution engine, the session lifecycle
// and portfolio valuation of a trading challenge, plus their HTTP handlers
// and WebSocket execution feed.
//
// All monetary values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/model"
	"github.com/stockquest/trading-engine/internal/pricing"
	"github.com/stockquest/trading-engine/internal/store"
)

// PriceResolver resolves instrument keys to tickers and prices. It never
// fails; degraded data yields a reference price.
type PriceResolver interface {
	Resolve(ctx context.Context, challengeID, instrumentKey string) pricing.Quote
	ResolveTicker(ctx context.Context, challengeID, instrumentKey string) string
}

// SlippageModel draws slippage rates and turns a resolved price into the
// settlement price for a side.
type SlippageModel interface {
	Rate() decimal.Decimal
	Fill(side model.Side, price, rate decimal.Decimal) decimal.Decimal
}

// Config holds the session funding limits.
type Config struct {
	DefaultSeedBalance decimal.Decimal
	MaxSeedBalance     decimal.Decimal
}

// DefaultConfig returns the standard seed balance limits.
func DefaultConfig() Config {
	return Config{
		DefaultSeedBalance: decimal.NewFromInt(10_000_000),
		MaxSeedBalance:     decimal.NewFromInt(100_000_000),
	}
}

// Service executes orders and manages session lifecycles. Mutual exclusion
// per session comes from store.WithSessionTx, so a Service is safe for
// concurrent use and holds no lock of its own.
type Service struct {
	store    store.Store
	prices   PriceResolver
	slippage SlippageModel
	cfg      Config
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
	now      func() time.Time
	newID    func() string
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, prices PriceResolver, slippage SlippageModel, hub *WSHub, cfg Config) *Service {
	return &Service{
		store:    st,
		prices:   prices,
		slippage: slippage,
		cfg:      cfg,
		wsHub:    hub,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// infraErr passes typed errors through and classifies everything else as
// an infrastructure failure.
func infraErr(err error) error {
	if err == nil || model.Code(err) != model.CodeInfrastructure || errors.Is(err, model.ErrInfrastructure) {
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrInfrastructure, err)
}

func (s *Service) broadcast(msg WSMessage) {
	if s.wsHub != nil {
		s.wsHub.Broadcast(msg)
	}
}
