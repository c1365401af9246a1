package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stockquest/trading-engine/internal/metrics"
	"github.com/stockquest/trading-engine/internal/model"
	"github.com/stockquest/trading-engine/internal/store"
)

// CreateSessionCommand opens a session for a user in a challenge. A nil
// SeedBalance uses the configured default.
type CreateSessionCommand struct {
	UserID      string
	ChallengeID string
	SeedBalance *decimal.Decimal
}

// CompletionResult is the frozen outcome of a completed session.
type CompletionResult struct {
	Session      *model.Session   `json:"session"`
	Portfolio    *model.Portfolio `json:"portfolio"`
	FinalBalance decimal.Decimal  `json:"final_balance"`
	TotalProfit  decimal.Decimal  `json:"total_profit"`
	ReturnRate   decimal.Decimal  `json:"return_rate"`

	// RevealedInstruments maps every traded instrument key to its real
	// ticker. Names are hidden until completion.
	RevealedInstruments map[string]string `json:"revealed_instruments"`
}

// CreateSession persists a READY session funded with the seed balance.
func (s *Service) CreateSession(ctx context.Context, cmd CreateSessionCommand) (*model.Session, error) {
	userID := strings.TrimSpace(cmd.UserID)
	challengeID := strings.TrimSpace(cmd.ChallengeID)

	seed := s.cfg.DefaultSeedBalance
	if cmd.SeedBalance != nil {
		seed = *cmd.SeedBalance
	}
	if seed.GreaterThan(s.cfg.MaxSeedBalance) {
		return nil, fmt.Errorf("%w: seed balance %s exceeds maximum %s",
			model.ErrInvalidArgument, seed, s.cfg.MaxSeedBalance)
	}

	sess, err := model.NewSession(s.newID(), userID, challengeID, seed, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, infraErr(err)
	}

	metrics.SessionsTotal.WithLabelValues("created").Inc()
	slog.Info("session created",
		"session_id", sess.ID,
		"user", userID,
		"challenge_id", challengeID,
		"seed", sess.SeedBalance.String(),
	)
	return sess, nil
}

// GetSession returns a session by ID.
func (s *Service) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, infraErr(err)
	}
	return sess, nil
}

// StartSession moves a READY session to ACTIVE. A user may hold only one
// ACTIVE session per challenge.
func (s *Service) StartSession(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(ctx, id, "started", func(tx store.Tx, sess *model.Session) error {
		other, err := s.store.FindActiveSession(ctx, sess.UserID, sess.ChallengeID)
		switch {
		case err == nil && other.ID != sess.ID:
			return fmt.Errorf("%w: user %s already has active session %s in challenge %s",
				model.ErrInvalidState, sess.UserID, other.ID, sess.ChallengeID)
		case err != nil && !errors.Is(err, model.ErrNotFound):
			return err
		}
		return sess.Start(s.now())
	})
}

// CancelSession ends a READY or ACTIVE session without results.
func (s *Service) CancelSession(ctx context.Context, id string) (*model.Session, error) {
	return s.transition(ctx, id, "cancelled", func(_ store.Tx, sess *model.Session) error {
		return sess.Cancel(s.now())
	})
}

// FailSession ends a READY or ACTIVE session after an unrecoverable
// problem reported by a collaborator.
func (s *Service) FailSession(ctx context.Context, id, reason string) (*model.Session, error) {
	return s.transition(ctx, id, "failed", func(_ store.Tx, sess *model.Session) error {
		slog.Warn("failing session", "session_id", sess.ID, "reason", reason)
		return sess.Fail(s.now())
	})
}

// transition applies change to the locked session and persists it.
func (s *Service) transition(ctx context.Context, id, name string,
	change func(tx store.Tx, sess *model.Session) error) (*model.Session, error) {
	var updated *model.Session
	err := s.store.WithSessionTx(ctx, id, func(tx store.Tx) error {
		sess := tx.Session()
		if err := change(tx, sess); err != nil {
			return err
		}
		if err := tx.SaveSession(ctx, sess); err != nil {
			return err
		}
		updated = sess
		return nil
	})
	if err != nil {
		return nil, infraErr(err)
	}

	metrics.SessionsTotal.WithLabelValues(name).Inc()
	slog.Info("session "+name, "session_id", updated.ID, "status", string(updated.Status))
	s.broadcast(WSMessage{
		Type:      "session_" + name,
		SessionID: updated.ID,
		Status:    string(updated.Status),
		Balance:   updated.CurrentBalance.String(),
	})
	return updated, nil
}

// CompleteSession values every held position at a resolved price, freezes
// the session at cash + market value and reveals the traded instruments.
// Completing a non-ACTIVE session is an error, including a second call.
func (s *Service) CompleteSession(ctx context.Context, id string) (*CompletionResult, error) {
	// Prices are fetched before the lock; anything bought in between is
	// priced under the lock.
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, infraErr(err)
	}
	if !sess.IsActive() {
		return nil, fmt.Errorf("%w: session %s is %s, only ACTIVE sessions can complete",
			model.ErrInvalidState, sess.ID, sess.Status)
	}
	positions, err := s.store.ListPositions(ctx, id)
	if err != nil {
		return nil, infraErr(err)
	}
	prices := s.resolvePrices(ctx, sess.ChallengeID, positions, nil)

	var result *CompletionResult
	txCtx := context.WithoutCancel(ctx)
	err = s.store.WithSessionTx(txCtx, id, func(tx store.Tx) error {
		sess := tx.Session()
		positions, err := tx.ListPositions(txCtx)
		if err != nil {
			return err
		}
		prices = s.resolvePrices(txCtx, sess.ChallengeID, positions, prices)
		portfolio := valuate(sess, positions, prices)

		rate, err := sess.Complete(portfolio.TotalValue, s.now())
		if err != nil {
			return err
		}
		if err := tx.SaveSession(txCtx, sess); err != nil {
			return err
		}
		portfolio.Status = sess.Status

		revealed := make(map[string]string, len(positions))
		for _, p := range positions {
			revealed[p.InstrumentKey] = s.prices.ResolveTicker(txCtx, sess.ChallengeID, p.InstrumentKey)
		}

		result = &CompletionResult{
			Session:             sess,
			Portfolio:           portfolio,
			FinalBalance:        *sess.FinalBalance,
			TotalProfit:         sess.FinalBalance.Sub(sess.SeedBalance),
			ReturnRate:          rate,
			RevealedInstruments: revealed,
		}
		return nil
	})
	if err != nil {
		return nil, infraErr(err)
	}

	metrics.SessionsTotal.WithLabelValues("completed").Inc()
	slog.Info("session completed",
		"session_id", id,
		"final_balance", result.FinalBalance.String(),
		"return_rate", result.ReturnRate.String(),
		"instruments", len(result.RevealedInstruments),
	)
	s.broadcast(WSMessage{
		Type:      "session_completed",
		SessionID: id,
		Status:    string(model.SessionCompleted),
		Balance:   result.FinalBalance.String(),
	})
	return result, nil
}
