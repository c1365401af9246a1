package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/instrument"
	"github.com/stockquest/trading-engine/internal/metrics"
	"github.com/stockquest/trading-engine/internal/model"
	"github.com/stockquest/trading-engine/internal/store"
)

// PlaceOrderCommand is a request to trade within a session.
type PlaceOrderCommand struct {
	SessionID     string
	InstrumentKey string
	Side          model.Side
	Quantity      decimal.Decimal
	Category      model.Category
	LimitPrice    *decimal.Decimal // LIMIT orders only
}

// PlaceOrderResult reports an executed order and the balance after it.
// RealizedPnL is zero for buys.
type PlaceOrderResult struct {
	OrderID          string          `json:"order_id"`
	SessionID        string          `json:"session_id"`
	InstrumentKey    string          `json:"instrument_key"`
	Side             model.Side      `json:"side"`
	Category         model.Category  `json:"category"`
	Quantity         decimal.Decimal `json:"quantity"`
	ExecutedPrice    decimal.Decimal `json:"executed_price"`
	SlippageRate     decimal.Decimal `json:"slippage_rate"`
	TotalValue       decimal.Decimal `json:"total_value"`
	ExecutedAt       time.Time       `json:"executed_at"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	RealizedPnL      decimal.Decimal `json:"realized_pnl"`
}

// PlaceOrder validates cmd, prices it and settles it against the session's
// cash and position as one atomic unit. Validation failures return a typed
// error with no side effects; persistence failures return an error wrapping
// model.ErrInfrastructure and also leave no partial state.
func (s *Service) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	start := time.Now()
	res, err := s.placeOrder(ctx, cmd)

	outcome := string(model.OrderExecuted)
	if err != nil {
		outcome = model.Code(err)
	}
	metrics.OrdersTotal.WithLabelValues(string(cmd.Side), outcome).Inc()
	metrics.OrderLatency.WithLabelValues(string(cmd.Side)).Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Service) placeOrder(ctx context.Context, cmd PlaceOrderCommand) (*PlaceOrderResult, error) {
	key, err := instrument.NormalizeKey(cmd.InstrumentKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	if cmd.Category == "" {
		cmd.Category = model.CategoryMarket
	}
	now := s.now()
	order, err := model.NewOrder(s.newID(), cmd.SessionID, key, cmd.Side, cmd.Quantity, cmd.Category, cmd.LimitPrice, now)
	if err != nil {
		return nil, err
	}

	// Unlocked read: the challenge scopes the ticker mapping. Status is
	// checked again under the lock.
	sess, err := s.store.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return nil, infraErr(err)
	}
	if !sess.IsActive() {
		return nil, s.reject(order, fmt.Errorf("%w: session %s is %s, only ACTIVE sessions accept orders",
			model.ErrInvalidState, sess.ID, sess.Status))
	}

	quote := s.prices.Resolve(ctx, sess.ChallengeID, key)
	rate := s.slippage.Rate()
	fill := s.slippage.Fill(order.Side, quote.Price, rate)
	amount := model.RoundMoney(order.Quantity.Mul(fill))
	if !amount.IsPositive() {
		return nil, s.reject(order, fmt.Errorf("%w: %s × %s rounds to a zero order value",
			model.ErrInvalidArgument, order.Quantity, fill))
	}

	var result *PlaceOrderResult
	// Once the price is known the placement runs to completion.
	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithSessionTx(txCtx, cmd.SessionID, func(tx store.Tx) error {
		sess := tx.Session()
		if !sess.IsActive() {
			return fmt.Errorf("%w: session %s is %s, only ACTIVE sessions accept orders",
				model.ErrInvalidState, sess.ID, sess.Status)
		}

		pos, err := tx.FindPosition(txCtx, key)
		if errors.Is(err, model.ErrNotFound) {
			pos = nil
		} else if err != nil {
			return err
		}

		var newBalance decimal.Decimal
		switch order.Side {
		case model.SideBuy:
			if !sess.CanPlaceOrder(amount) {
				return fmt.Errorf("%w: order costs %s, balance is %s",
					model.ErrInsufficientFunds, amount, sess.CurrentBalance)
			}
			newBalance = sess.CurrentBalance.Sub(amount)
		case model.SideSell:
			held := decimal.Zero
			if pos != nil {
				held = pos.Quantity
			}
			if held.LessThan(order.Quantity) {
				return fmt.Errorf("%w: selling %s of %s, holding %s",
					model.ErrInsufficientPosition, order.Quantity, key, held)
			}
			newBalance = sess.CurrentBalance.Add(amount)
		}

		if err := order.Execute(fill, rate, now); err != nil {
			return err
		}
		if err := sess.UpdateBalance(newBalance); err != nil {
			return err
		}

		if pos == nil {
			pos = model.NewPosition(sess.ID, key, now)
		}
		realized := decimal.Zero
		if order.Side == model.SideBuy {
			err = pos.AddPosition(order.Quantity, fill)
		} else {
			realized, err = pos.ReducePosition(order.Quantity, fill)
		}
		if err != nil {
			return err
		}
		pos.UpdatedAt = now

		if err := tx.SaveOrder(txCtx, order); err != nil {
			return err
		}
		if err := tx.SaveSession(txCtx, sess); err != nil {
			return err
		}
		if err := tx.SavePosition(txCtx, pos); err != nil {
			return err
		}

		result = &PlaceOrderResult{
			OrderID:          order.ID,
			SessionID:        sess.ID,
			InstrumentKey:    key,
			Side:             order.Side,
			Category:         order.Category,
			Quantity:         order.Quantity,
			ExecutedPrice:    *order.ExecutedPrice,
			SlippageRate:     *order.SlippageRate,
			TotalValue:       order.TotalValue(),
			ExecutedAt:       *order.ExecutedAt,
			RemainingBalance: sess.CurrentBalance,
			RealizedPnL:      realized,
		}
		return nil
	})
	if err != nil {
		return nil, s.reject(order, infraErr(err))
	}

	metrics.TradedVolume.WithLabelValues(string(order.Side)).Add(order.Quantity.InexactFloat64())
	slog.Info("order executed",
		"order_id", result.OrderID,
		"session_id", result.SessionID,
		"instrument", key,
		"ticker", quote.Ticker,
		"price_origin", quote.Origin,
		"side", string(order.Side),
		"qty", order.Quantity.String(),
		"price", result.ExecutedPrice.String(),
		"slippage", result.SlippageRate.String(),
		"balance", result.RemainingBalance.String(),
	)

	s.broadcast(WSMessage{
		Type:          "order_executed",
		SessionID:     result.SessionID,
		OrderID:       result.OrderID,
		InstrumentKey: key,
		Side:          string(order.Side),
		Quantity:      order.Quantity.String(),
		Price:         result.ExecutedPrice.String(),
		Balance:       result.RemainingBalance.String(),
	})
	return result, nil
}

// reject marks order REJECTED with err's reason code and returns err.
// Rejected orders are not persisted; the rejection is logged and broadcast.
func (s *Service) reject(order *model.Order, err error) error {
	code := model.Code(err)
	if order.Status == model.OrderPending {
		_ = order.Reject(code)
	}
	level := slog.LevelInfo
	if code == model.CodeInfrastructure {
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, "order rejected",
		"order_id", order.ID,
		"session_id", order.SessionID,
		"instrument", order.InstrumentKey,
		"side", string(order.Side),
		"qty", order.Quantity.String(),
		"reason", code,
		"error", err,
	)
	s.broadcast(WSMessage{
		Type:          "order_rejected",
		SessionID:     order.SessionID,
		OrderID:       order.ID,
		InstrumentKey: order.InstrumentKey,
		Side:          string(order.Side),
		Quantity:      order.Quantity.String(),
		Reason:        code,
	})
	return err
}
