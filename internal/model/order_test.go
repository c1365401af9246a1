package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func TestNewOrder_Validation(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		side     Side
		qty      float64
		category Category
		limit    *decimal.Decimal
		wantErr  bool
	}{
		{"market buy", "A", SideBuy, 10, CategoryMarket, nil, false},
		{"limit sell", "A", SideSell, 1.5, CategoryLimit, ptr(d(120)), false},
		{"empty key", "  ", SideBuy, 10, CategoryMarket, nil, true},
		{"bad side", "A", Side("HOLD"), 10, CategoryMarket, nil, true},
		{"zero qty", "A", SideBuy, 0, CategoryMarket, nil, true},
		{"negative qty", "A", SideBuy, -3, CategoryMarket, nil, true},
		{"smallest qty", "A", SideBuy, 0.0001, CategoryMarket, nil, false},
		{"largest qty", "A", SideBuy, 999999999, CategoryMarket, nil, false},
		{"qty below scale", "A", SideBuy, 0.00004, CategoryMarket, nil, true},
		{"qty with five decimals", "A", SideBuy, 1.23456, CategoryMarket, nil, true},
		{"qty above max", "A", SideBuy, 1000000000, CategoryMarket, nil, true},
		{"limit price sub-cent", "A", SideBuy, 10, CategoryLimit, ptr(d(99.995)), true},
		{"limit without price", "A", SideBuy, 10, CategoryLimit, nil, true},
		{"limit zero price", "A", SideBuy, 10, CategoryLimit, ptr(decimal.Zero), true},
		{"market with price", "A", SideBuy, 10, CategoryMarket, ptr(d(100)), true},
		{"unknown category", "A", SideBuy, 10, Category("STOP"), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOrder("o1", "s1", tt.key, tt.side, d(tt.qty), tt.category, tt.limit, t0)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if o.Status != OrderPending {
				t.Errorf("expected PENDING, got %s", o.Status)
			}
			if o.ExecutedPrice != nil || o.SlippageRate != nil {
				t.Error("execution fields must be unset on a pending order")
			}
		})
	}
}

func TestOrder_ExecuteOnce(t *testing.T) {
	o, _ := NewOrder("o1", "s1", "A", SideBuy, d(10), CategoryMarket, nil, t0)

	if err := o.Execute(d(50000), d(1.234), t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != OrderExecuted {
		t.Errorf("expected EXECUTED, got %s", o.Status)
	}
	if !o.ExecutedPrice.Equal(d(50000)) {
		t.Errorf("executed price = %s", o.ExecutedPrice)
	}
	if !o.SlippageRate.Equal(d(1.23)) {
		t.Errorf("slippage rate should round to 2 digits, got %s", o.SlippageRate)
	}
	if !o.TotalValue().Equal(d(500000)) {
		t.Errorf("total value = %s, want 500000", o.TotalValue())
	}

	if err := o.Execute(d(60000), d(1), t0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("re-execution should be ErrInvalidState, got %v", err)
	}
	if err := o.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel after execution should be ErrInvalidState, got %v", err)
	}
	if !o.ExecutedPrice.Equal(d(50000)) {
		t.Errorf("executed order mutated: %s", o.ExecutedPrice)
	}
}

func TestOrder_ExecuteRejectsBadPrice(t *testing.T) {
	o, _ := NewOrder("o1", "s1", "A", SideBuy, d(1), CategoryMarket, nil, t0)
	if err := o.Execute(decimal.Zero, d(1), t0); err == nil {
		t.Fatal("expected error for zero price")
	}
	if o.Status != OrderPending {
		t.Errorf("failed execution must leave order PENDING, got %s", o.Status)
	}
}

func TestOrder_RejectAndCancel(t *testing.T) {
	o, _ := NewOrder("o1", "s1", "A", SideSell, d(1), CategoryMarket, nil, t0)
	if err := o.Reject(CodeInsufficientPosition); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != OrderRejected || o.RejectReason != CodeInsufficientPosition {
		t.Errorf("unexpected order state: %s %q", o.Status, o.RejectReason)
	}
	if err := o.Execute(d(10), d(1), t0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("rejected order must not execute, got %v", err)
	}

	o2, _ := NewOrder("o2", "s1", "A", SideSell, d(1), CategoryMarket, nil, t0)
	if err := o2.Cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o2.TotalValue().Sign() != 0 {
		t.Error("unexecuted order should have zero total value")
	}
}
