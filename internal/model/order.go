package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. An order leaves PENDING
// exactly once; EXECUTED orders are immutable.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderExecuted  OrderStatus = "EXECUTED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order is one trade request within a session and its execution outcome.
// ExecutedPrice and SlippageRate are set if and only if Status is EXECUTED.
type Order struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	InstrumentKey string           `json:"instrument_key"`
	Side          Side             `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Category      Category         `json:"category"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	Status        OrderStatus      `json:"status"`
	ExecutedPrice *decimal.Decimal `json:"executed_price,omitempty"`
	SlippageRate  *decimal.Decimal `json:"slippage_rate,omitempty"` // percent, e.g. 1.25 = 1.25%
	RejectReason  string           `json:"reject_reason,omitempty"`
	OrderedAt     time.Time        `json:"ordered_at"`
	ExecutedAt    *time.Time       `json:"executed_at,omitempty"`
}

// NewOrder validates the request fields and returns a PENDING order.
func NewOrder(id, sessionID, instrumentKey string, side Side, qty decimal.Decimal,
	category Category, limitPrice *decimal.Decimal, now time.Time) (*Order, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(instrumentKey) == "" {
		return nil, fmt.Errorf("%w: instrument key is required", ErrInvalidArgument)
	}
	if !side.Valid() {
		return nil, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidArgument, side)
	}
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidArgument, qty)
	}
	if !qty.Equal(qty.Truncate(QuantityScale)) {
		return nil, fmt.Errorf("%w: quantity %s has more than %d fractional digits", ErrInvalidArgument, qty, QuantityScale)
	}
	if qty.GreaterThan(MaxQuantity) {
		return nil, fmt.Errorf("%w: quantity %s exceeds %s", ErrInvalidArgument, qty, MaxQuantity)
	}
	switch category {
	case CategoryLimit:
		if limitPrice == nil || !limitPrice.IsPositive() {
			return nil, fmt.Errorf("%w: limit orders need a positive limit price", ErrInvalidArgument)
		}
		if !limitPrice.Equal(RoundMoney(*limitPrice)) {
			return nil, fmt.Errorf("%w: limit price %s has more than %d fractional digits",
				ErrInvalidArgument, limitPrice, MoneyScale)
		}
	case CategoryMarket:
		if limitPrice != nil {
			return nil, fmt.Errorf("%w: market orders cannot carry a limit price", ErrInvalidArgument)
		}
	default:
		return nil, fmt.Errorf("%w: category must be MARKET or LIMIT, got %q", ErrInvalidArgument, category)
	}

	return &Order{
		ID:            id,
		SessionID:     sessionID,
		InstrumentKey: instrumentKey,
		Side:          side,
		Quantity:      qty,
		Category:      category,
		LimitPrice:    limitPrice,
		Status:        OrderPending,
		OrderedAt:     now,
	}, nil
}

// Execute fills a PENDING order at price and records the slippage rate.
func (o *Order) Execute(price, slippageRate decimal.Decimal, now time.Time) error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: order %s is %s, only PENDING orders execute", ErrInvalidState, o.ID, o.Status)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: execution price must be positive, got %s", ErrInvalidArgument, price)
	}
	if slippageRate.IsNegative() {
		return fmt.Errorf("%w: slippage rate cannot be negative", ErrInvalidArgument)
	}
	p := RoundMoney(price)
	r := slippageRate.Round(2)
	o.ExecutedPrice = &p
	o.SlippageRate = &r
	o.Status = OrderExecuted
	o.ExecutedAt = &now
	return nil
}

// Reject closes a PENDING order that failed validation.
func (o *Order) Reject(reason string) error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: order %s is %s, only PENDING orders can be rejected", ErrInvalidState, o.ID, o.Status)
	}
	o.Status = OrderRejected
	o.RejectReason = reason
	return nil
}

// Cancel withdraws a PENDING order.
func (o *Order) Cancel() error {
	if o.Status != OrderPending {
		return fmt.Errorf("%w: order %s is %s, only PENDING orders can be cancelled", ErrInvalidState, o.ID, o.Status)
	}
	o.Status = OrderCancelled
	return nil
}

// TotalValue is quantity × executed price, or zero before execution.
func (o *Order) TotalValue() decimal.Decimal {
	if o.ExecutedPrice == nil {
		return decimal.Zero
	}
	return RoundMoney(o.Quantity.Mul(*o.ExecutedPrice))
}
