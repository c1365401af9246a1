package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionState distinguishes a held position from a fully exited one.
// An instrument that was never traded has no Position record at all.
type PositionState string

const (
	PositionOpen PositionState = "OPEN"
	PositionFlat PositionState = "FLAT"
)

// Position aggregates one instrument's holdings within one session. Records
// are created on the first buy and are never deleted while the session is
// open, so cost basis and realized P&L survive a full exit.
type Position struct {
	SessionID     string          `json:"session_id"`
	InstrumentKey string          `json:"instrument_key"`
	Quantity      decimal.Decimal `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	State         PositionState   `json:"state"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// NewPosition returns an empty, FLAT position for (sessionID, instrumentKey).
func NewPosition(sessionID, instrumentKey string, now time.Time) *Position {
	return &Position{
		SessionID:     sessionID,
		InstrumentKey: instrumentKey,
		Quantity:      decimal.Zero,
		AveragePrice:  decimal.Zero,
		TotalCost:     decimal.Zero,
		RealizedPnL:   decimal.Zero,
		State:         PositionFlat,
		UpdatedAt:     now,
	}
}

// HasPosition reports whether any quantity is held.
func (p *Position) HasPosition() bool {
	return p.Quantity.IsPositive()
}

// AddPosition records a buy of qty at price and re-weights the average cost:
//
//	avg' = (qty0·avg0 + qty·price) / (qty0 + qty)
func (p *Position) AddPosition(qty, price decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: buy quantity must be positive, got %s", ErrInvalidArgument, qty)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: buy price must be positive, got %s", ErrInvalidArgument, price)
	}

	held := p.Quantity.Mul(p.AveragePrice)
	newQty := p.Quantity.Add(qty)

	p.AveragePrice = held.Add(qty.Mul(price)).Div(newQty).Round(AverageScale)
	p.TotalCost = p.TotalCost.Add(RoundMoney(qty.Mul(price)))
	p.Quantity = newQty
	p.State = PositionOpen
	return nil
}

// ReducePosition records a sell of qty at price and returns the realized
// P&L (price - avg)·qty. The average cost is left unchanged.
func (p *Position) ReducePosition(qty, price decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: sell quantity must be positive, got %s", ErrInvalidArgument, qty)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: sell price must be positive, got %s", ErrInvalidArgument, price)
	}
	if qty.GreaterThan(p.Quantity) {
		return decimal.Zero, fmt.Errorf("%w: cannot sell %s of %s, holding %s",
			ErrInvalidState, qty, p.InstrumentKey, p.Quantity)
	}

	realized := RoundMoney(price.Sub(p.AveragePrice).Mul(qty))

	p.Quantity = p.Quantity.Sub(qty)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	if p.Quantity.IsZero() {
		p.TotalCost = decimal.Zero
		p.State = PositionFlat
	} else {
		p.TotalCost = RoundMoney(p.Quantity.Mul(p.AveragePrice))
	}
	return realized, nil
}

// CalculateUnrealizedPnL is (currentPrice - avg)·qty. It does not modify p.
func (p *Position) CalculateUnrealizedPnL(currentPrice decimal.Decimal) decimal.Decimal {
	if !p.HasPosition() {
		return decimal.Zero
	}
	return RoundMoney(currentPrice.Sub(p.AveragePrice).Mul(p.Quantity))
}

// CalculateMarketValue is qty·currentPrice.
func (p *Position) CalculateMarketValue(currentPrice decimal.Decimal) decimal.Decimal {
	return RoundMoney(p.Quantity.Mul(currentPrice))
}
