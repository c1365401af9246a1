package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/model"
)

// SlippageMode selects how a drawn slippage rate affects settlement.
type SlippageMode string

const (
	// SlippageMetadata records the rate on the order; the resolved price
	// settles unchanged.
	SlippageMetadata SlippageMode = "metadata"
	// SlippagePrice worsens the fill for the trader: buys pay
	// price·(1+r/100), sells receive price·(1-r/100).
	SlippagePrice SlippageMode = "price"
)

// Valid reports whether m is a known mode.
func (m SlippageMode) Valid() bool {
	return m == SlippageMetadata || m == SlippagePrice
}

// Default slippage band in percent.
var (
	DefaultSlippageMin = decimal.NewFromFloat(0.5)
	DefaultSlippageMax = decimal.NewFromFloat(2.0)
)

var hundred = decimal.NewFromInt(100)

// Slippage draws execution-cost rates uniformly from [min, max] percent.
// It holds no state beyond its configuration and random source.
type Slippage struct {
	min  decimal.Decimal
	max  decimal.Decimal
	mode SlippageMode
	rnd  Rand
}

// NewSlippage validates the band and mode.
func NewSlippage(min, max decimal.Decimal, mode SlippageMode, rnd Rand) (*Slippage, error) {
	if min.IsNegative() || max.IsNegative() {
		return nil, fmt.Errorf("slippage bounds must be non-negative, got [%s, %s]", min, max)
	}
	if min.GreaterThan(max) {
		return nil, fmt.Errorf("slippage min %s exceeds max %s", min, max)
	}
	if max.GreaterThanOrEqual(hundred) {
		return nil, fmt.Errorf("slippage max %s must be below 100%%", max)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown slippage mode %q", mode)
	}
	if rnd == nil {
		return nil, fmt.Errorf("slippage needs a random source")
	}
	return &Slippage{min: min, max: max, mode: mode, rnd: rnd}, nil
}

// Rate returns a percentage in [min, max] with 2 fractional digits.
func (s *Slippage) Rate() decimal.Decimal {
	span := s.max.Sub(s.min)
	r := s.min.Add(span.Mul(decimal.NewFromFloat(s.rnd.Float64()))).Round(2)
	// Bounds finer than 2dp can round outside the band.
	if r.LessThan(s.min) {
		return s.min
	}
	if r.GreaterThan(s.max) {
		return s.max
	}
	return r
}

// Fill returns the settlement price for a trade at price with slippage
// rate (percent). In metadata mode it returns price unchanged.
func (s *Slippage) Fill(side model.Side, price, rate decimal.Decimal) decimal.Decimal {
	if s.mode != SlippagePrice {
		return model.RoundMoney(price)
	}
	adj := rate.Div(hundred)
	if side == model.SideSell {
		return model.RoundMoney(price.Mul(decimal.NewFromInt(1).Sub(adj)))
	}
	return model.RoundMoney(price.Mul(decimal.NewFromInt(1).Add(adj)))
}
