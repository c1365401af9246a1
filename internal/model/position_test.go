package model

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

func TestPosition_BuyThenPartialSell(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	if p.HasPosition() {
		t.Fatal("new position should be empty")
	}

	if err := p.AddPosition(d(10), d(50000)); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if !p.AveragePrice.Equal(d(50000)) {
		t.Errorf("avg = %s, want 50000", p.AveragePrice)
	}
	if !p.TotalCost.Equal(d(500000)) {
		t.Errorf("total cost = %s, want 500000", p.TotalCost)
	}

	realized, err := p.ReducePosition(d(4), d(55000))
	if err != nil {
		t.Fatalf("ReducePosition: %v", err)
	}
	if !realized.Equal(d(20000)) {
		t.Errorf("realized = %s, want 20000", realized)
	}
	if !p.Quantity.Equal(d(6)) {
		t.Errorf("qty = %s, want 6", p.Quantity)
	}
	if !p.AveragePrice.Equal(d(50000)) {
		t.Errorf("avg must not change on sell, got %s", p.AveragePrice)
	}
	if !p.TotalCost.Equal(d(300000)) {
		t.Errorf("total cost = %s, want 300000", p.TotalCost)
	}
	if p.State != PositionOpen {
		t.Errorf("expected OPEN, got %s", p.State)
	}
}

func TestPosition_AverageCostReweights(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	_ = p.AddPosition(d(10), d(100))
	_ = p.AddPosition(d(30), d(200))

	// (10*100 + 30*200) / 40 = 175
	if !p.AveragePrice.Equal(d(175)) {
		t.Errorf("avg = %s, want 175", p.AveragePrice)
	}
	if !p.Quantity.Equal(d(40)) {
		t.Errorf("qty = %s, want 40", p.Quantity)
	}
}

func TestPosition_AverageRoundsToFourDigits(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	_ = p.AddPosition(d(1), d(10))
	_ = p.AddPosition(d(2), d(10.01))

	// 30.02 / 3 = 10.006666...
	if !p.AveragePrice.Equal(d(10.0067)) {
		t.Errorf("avg = %s, want 10.0067", p.AveragePrice)
	}
}

func TestPosition_FullExitGoesFlat(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	_ = p.AddPosition(d(5), d(100))

	realized, err := p.ReducePosition(d(5), d(90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !realized.Equal(d(-50)) {
		t.Errorf("realized = %s, want -50", realized)
	}
	if p.HasPosition() || p.State != PositionFlat {
		t.Errorf("expected FLAT empty position, got qty=%s state=%s", p.Quantity, p.State)
	}
	if !p.TotalCost.IsZero() {
		t.Errorf("flat position should carry no cost, got %s", p.TotalCost)
	}
	if !p.RealizedPnL.Equal(d(-50)) {
		t.Errorf("realized P&L should survive exit, got %s", p.RealizedPnL)
	}
}

func TestPosition_OversellRejected(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	_ = p.AddPosition(d(3), d(100))

	_, err := p.ReducePosition(d(4), d(100))
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if !p.Quantity.Equal(d(3)) {
		t.Errorf("oversell mutated quantity: %s", p.Quantity)
	}
}

func TestPosition_Valuation(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	if !p.CalculateUnrealizedPnL(d(100)).IsZero() {
		t.Error("empty position should have zero unrealized P&L")
	}

	_ = p.AddPosition(d(6), d(50000))
	if got := p.CalculateUnrealizedPnL(d(52000)); !got.Equal(d(12000)) {
		t.Errorf("unrealized = %s, want 12000", got)
	}
	if got := p.CalculateMarketValue(d(52000)); !got.Equal(d(312000)) {
		t.Errorf("market value = %s, want 312000", got)
	}
	if !p.Quantity.Equal(d(6)) || !p.AveragePrice.Equal(d(50000)) {
		t.Error("valuation must not modify the position")
	}
}

func TestPosition_RejectsNonPositiveInputs(t *testing.T) {
	p := NewPosition("s1", "A", t0)
	if err := p.AddPosition(decimal.Zero, d(10)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero qty buy: got %v", err)
	}
	if err := p.AddPosition(d(1), d(-1)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative price buy: got %v", err)
	}
	if _, err := p.ReducePosition(decimal.Zero, d(10)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero qty sell: got %v", err)
	}
}

func TestPosition_QuantityNeverNegative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := NewPosition("s1", "A", t0)
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")

		for i := 0; i < steps; i++ {
			qty := decimal.NewFromInt(int64(rapid.IntRange(1, 100).Draw(rt, "qty")))
			price := decimal.NewFromInt(int64(rapid.IntRange(1, 100000).Draw(rt, "price")))
			before := p.Quantity

			if rapid.Bool().Draw(rt, "buy") {
				if err := p.AddPosition(qty, price); err != nil {
					rt.Fatalf("buy failed: %v", err)
				}
				continue
			}

			_, err := p.ReducePosition(qty, price)
			if qty.GreaterThan(before) {
				if err == nil {
					rt.Fatalf("sold %s while holding %s", qty, before)
				}
				if !p.Quantity.Equal(before) {
					rt.Fatalf("rejected sell changed quantity %s -> %s", before, p.Quantity)
				}
				continue
			}
			if err != nil {
				rt.Fatalf("valid sell failed: %v", err)
			}
			if p.Quantity.IsNegative() {
				rt.Fatalf("quantity went negative: %s", p.Quantity)
			}
		}
	})
}

func TestPosition_AverageWithinBuyRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := NewPosition("s1", "A", t0)
		buys := rapid.IntRange(1, 20).Draw(rt, "buys")
		lo, hi := decimal.Zero, decimal.Zero

		for i := 0; i < buys; i++ {
			qty := decimal.NewFromInt(int64(rapid.IntRange(1, 1000).Draw(rt, "qty")))
			price := decimal.NewFromInt(int64(rapid.IntRange(1, 500000).Draw(rt, "price")))
			if i == 0 || price.LessThan(lo) {
				lo = price
			}
			if i == 0 || price.GreaterThan(hi) {
				hi = price
			}
			if err := p.AddPosition(qty, price); err != nil {
				rt.Fatalf("buy failed: %v", err)
			}
		}

		if p.AveragePrice.LessThan(lo) || p.AveragePrice.GreaterThan(hi) {
			rt.Fatalf("avg %s outside buy range [%s, %s]", p.AveragePrice, lo, hi)
		}
	})
}
