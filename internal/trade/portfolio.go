package trade

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/model"
)

// GetPortfolio values a session: cash, every position record (flat ones
// included) marked to a resolved price, and totals.
func (s *Service) GetPortfolio(ctx context.Context, sessionID string) (*model.Portfolio, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, infraErr(err)
	}
	positions, err := s.store.ListPositions(ctx, sessionID)
	if err != nil {
		return nil, infraErr(err)
	}
	prices := s.resolvePrices(ctx, sess.ChallengeID, positions, nil)
	return valuate(sess, positions, prices), nil
}

// ListOrders returns a session's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, sessionID string) ([]model.Order, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, infraErr(err)
	}
	orders, err := s.store.ListOrders(ctx, sessionID)
	if err != nil {
		return nil, infraErr(err)
	}
	if orders == nil {
		orders = []model.Order{}
	}
	return orders, nil
}

// resolvePrices returns a price for every held position, reusing entries
// already in known. Flat positions need no price.
func (s *Service) resolvePrices(ctx context.Context, challengeID string, positions []model.Position,
	known map[string]decimal.Decimal) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		if !p.HasPosition() {
			continue
		}
		if price, ok := known[p.InstrumentKey]; ok {
			prices[p.InstrumentKey] = price
			continue
		}
		prices[p.InstrumentKey] = s.prices.Resolve(ctx, challengeID, p.InstrumentKey).Price
	}
	return prices
}

// valuate marks positions to prices. Positions without a price are flat
// and contribute only their realized P&L.
func valuate(sess *model.Session, positions []model.Position, prices map[string]decimal.Decimal) *model.Portfolio {
	pf := &model.Portfolio{
		SessionID:       sess.ID,
		Status:          sess.Status,
		SeedBalance:     sess.SeedBalance,
		CashBalance:     sess.CurrentBalance,
		Positions:       make([]model.PositionValuation, 0, len(positions)),
		MarketValue:     decimal.Zero,
		TotalRealized:   decimal.Zero,
		TotalUnrealized: decimal.Zero,
	}

	for _, p := range positions {
		v := model.PositionValuation{
			Position:      p,
			CurrentPrice:  decimal.Zero,
			MarketValue:   decimal.Zero,
			UnrealizedPnL: decimal.Zero,
		}
		if price, ok := prices[p.InstrumentKey]; ok && p.HasPosition() {
			v.CurrentPrice = price
			v.MarketValue = p.CalculateMarketValue(price)
			v.UnrealizedPnL = p.CalculateUnrealizedPnL(price)
		}
		pf.Positions = append(pf.Positions, v)
		pf.MarketValue = pf.MarketValue.Add(v.MarketValue)
		pf.TotalRealized = pf.TotalRealized.Add(p.RealizedPnL)
		pf.TotalUnrealized = pf.TotalUnrealized.Add(v.UnrealizedPnL)
	}

	pf.TotalValue = pf.CashBalance.Add(pf.MarketValue)
	pf.ReturnRate = pf.TotalValue.Sub(sess.SeedBalance).Div(sess.SeedBalance).Round(model.ReturnRateScale)
	return pf
}
