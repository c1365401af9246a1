// Package model defines the core domain types of the trading simulation:
// challenge sessions, orders and per-instrument positions.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for cash amounts and
// unit prices. Rounding is half-up (decimal.Round rounds half away from
// zero, which is half-up for the non-negative values handled here).
const MoneyScale = 2

// AverageScale is the number of fractional digits kept for weighted-average
// cost basis.
const AverageScale = 4

// ReturnRateScale is the number of fractional digits kept for a session's
// return rate ratio.
const ReturnRateScale = 4

// QuantityScale is the number of fractional digits an order quantity may
// carry. Positions are stored at the same scale.
const QuantityScale = 4

// MaxQuantity bounds a single order's quantity.
var MaxQuantity = decimal.NewFromInt(999_999_999)

// RoundMoney rounds v to MoneyScale digits.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(MoneyScale)
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Category is the order type requested by the participant.
type Category string

const (
	CategoryMarket Category = "MARKET"
	CategoryLimit  Category = "LIMIT"
)

// Portfolio is a valuation snapshot of a session: cash plus every position
// record marked to a current price.
type Portfolio struct {
	SessionID       string              `json:"session_id"`
	Status          SessionStatus       `json:"status"`
	SeedBalance     decimal.Decimal     `json:"seed_balance"`
	CashBalance     decimal.Decimal     `json:"cash_balance"`
	Positions       []PositionValuation `json:"positions"`
	MarketValue     decimal.Decimal     `json:"market_value"`     // Σ qty × current price
	TotalValue      decimal.Decimal     `json:"total_value"`      // cash + market value
	TotalRealized   decimal.Decimal     `json:"total_realized"`   // Σ realized P&L
	TotalUnrealized decimal.Decimal     `json:"total_unrealized"` // Σ unrealized P&L
	ReturnRate      decimal.Decimal     `json:"return_rate"`      // (total - seed) / seed
}

// PositionValuation is one position priced at CurrentPrice.
type PositionValuation struct {
	Position
	CurrentPrice  decimal.Decimal `json:"current_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}
