package trade_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/stockquest/trading-engine/internal/model"
	"github.com/stockquest/trading-engine/internal/pricing"
	"github.com/stockquest/trading-engine/internal/store"
	"github.com/stockquest/trading-engine/internal/trade"
)

// Cash is conserved across any order sequence, fractional lots and cent
// prices included: the balance always equals seed - Σ buys + Σ sells and
// never goes negative, every fill moves a positive amount of cash, and the
// held quantity equals net executed quantity. Until the first sell the
// position's cost basis equals the cash paid for it.
func TestPlaceOrder_CashConservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		ms := store.NewMemoryStore()
		env, err := buildEnv(ms, ms, rapid.SampledFrom([]pricing.SlippageMode{
			pricing.SlippageMetadata, pricing.SlippagePrice,
		}).Draw(rt, "mode"))
		if err != nil {
			rt.Fatalf("buildEnv: %v", err)
		}

		seed := decimal.New(int64(rapid.IntRange(100, 10_000_000).Draw(rt, "seedCents")), -2)
		sess, err := env.svc.CreateSession(ctx, trade.CreateSessionCommand{UserID: "u", ChallengeID: "c", SeedBalance: &seed})
		if err != nil {
			rt.Fatalf("CreateSession: %v", err)
		}
		if _, err := env.svc.StartSession(ctx, sess.ID); err != nil {
			rt.Fatalf("StartSession: %v", err)
		}

		expected := sess.SeedBalance
		held := decimal.Zero
		paid := decimal.Zero
		sold := false
		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			env.prices.setPrice("X", decimal.New(int64(rapid.IntRange(1, 500_000).Draw(rt, "priceCents")), -2))
			side := rapid.SampledFrom([]model.Side{model.SideBuy, model.SideSell}).Draw(rt, "side")
			qty := decimal.New(int64(rapid.IntRange(1, 500_000).Draw(rt, "qtyLots")), -model.QuantityScale)

			res, err := env.svc.PlaceOrder(ctx, trade.PlaceOrderCommand{
				SessionID:     sess.ID,
				InstrumentKey: "X",
				Side:          side,
				Quantity:      qty,
			})
			if err != nil {
				if !errors.Is(err, model.ErrInsufficientFunds) &&
					!errors.Is(err, model.ErrInsufficientPosition) &&
					!errors.Is(err, model.ErrInvalidArgument) {
					rt.Fatalf("unexpected error: %v", err)
				}
				continue
			}
			if !res.TotalValue.IsPositive() {
				rt.Fatalf("%s of %s filled for %s", side, qty, res.TotalValue)
			}
			if side == model.SideBuy {
				expected = expected.Sub(res.TotalValue)
				held = held.Add(res.Quantity)
				paid = paid.Add(res.TotalValue)
			} else {
				expected = expected.Add(res.TotalValue)
				held = held.Sub(res.Quantity)
				sold = true
			}
			if !res.RemainingBalance.Equal(expected) {
				rt.Fatalf("balance %s, want %s", res.RemainingBalance, expected)
			}
			if res.RemainingBalance.IsNegative() {
				rt.Fatalf("balance went negative: %s", res.RemainingBalance)
			}

			if !sold {
				positions, _ := ms.ListPositions(ctx, sess.ID)
				if len(positions) != 1 || !positions[0].TotalCost.Equal(paid) {
					rt.Fatalf("cost basis %+v, want total cost %s", positions, paid)
				}
			}
		}

		positions, _ := ms.ListPositions(ctx, sess.ID)
		got := decimal.Zero
		for _, p := range positions {
			got = got.Add(p.Quantity)
		}
		if !got.Equal(held) {
			rt.Fatalf("held %s, want %s", got, held)
		}
	})
}
