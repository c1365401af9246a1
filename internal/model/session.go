package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a challenge session.
//
//	READY --Start--> ACTIVE --Complete--> COMPLETED
//	READY|ACTIVE --Cancel--> CANCELLED
//	READY|ACTIVE --Fail--> FAILED
//
// COMPLETED, CANCELLED and FAILED are terminal.
type SessionStatus string

const (
	SessionReady     SessionStatus = "READY"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionFailed    SessionStatus = "FAILED"
)

// Terminal reports whether no transition leaves s.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return true
	}
	return false
}

// Session is one user's attempt at one challenge. It owns the cash balance
// and the lifecycle state; positions and orders reference it by ID.
type Session struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ChallengeID    string           `json:"challenge_id"`
	SeedBalance    decimal.Decimal  `json:"seed_balance"`
	CurrentBalance decimal.Decimal  `json:"current_balance"`
	Status         SessionStatus    `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	FinalBalance   *decimal.Decimal `json:"final_balance,omitempty"`
	ReturnRate     *decimal.Decimal `json:"return_rate,omitempty"`
}

// NewSession creates a READY session whose cash balance starts at seed.
func NewSession(id, userID, challengeID string, seed decimal.Decimal, now time.Time) (*Session, error) {
	if id == "" || userID == "" || challengeID == "" {
		return nil, fmt.Errorf("%w: session, user and challenge ids are required", ErrInvalidArgument)
	}
	if !seed.IsPositive() {
		return nil, fmt.Errorf("%w: seed balance must be positive, got %s", ErrInvalidArgument, seed)
	}
	seed = RoundMoney(seed)
	return &Session{
		ID:             id,
		UserID:         userID,
		ChallengeID:    challengeID,
		SeedBalance:    seed,
		CurrentBalance: seed,
		Status:         SessionReady,
		CreatedAt:      now,
	}, nil
}

// IsActive reports whether the session accepts orders.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// Start moves a READY session to ACTIVE.
func (s *Session) Start(now time.Time) error {
	if s.Status != SessionReady {
		return fmt.Errorf("%w: session %s is %s, only READY sessions can start", ErrInvalidState, s.ID, s.Status)
	}
	s.Status = SessionActive
	s.StartedAt = &now
	return nil
}

// CanPlaceOrder reports whether amount can be paid out of the cash balance.
func (s *Session) CanPlaceOrder(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(s.CurrentBalance)
}

// UpdateBalance replaces the cash balance. Callers compute the full new
// balance themselves; a negative balance is refused so the non-negative
// invariant cannot be broken through this path.
func (s *Session) UpdateBalance(newBalance decimal.Decimal) error {
	if newBalance.IsNegative() {
		return fmt.Errorf("%w: balance cannot go negative (%s)", ErrInsufficientFunds, newBalance)
	}
	s.CurrentBalance = RoundMoney(newBalance)
	return nil
}

// Complete freezes an ACTIVE session at finalBalance and returns the return
// rate (finalBalance - seed) / seed. Completing twice is an error.
func (s *Session) Complete(finalBalance decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if s.Status != SessionActive {
		return decimal.Zero, fmt.Errorf("%w: session %s is %s, only ACTIVE sessions can complete", ErrInvalidState, s.ID, s.Status)
	}
	if finalBalance.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: final balance cannot be negative", ErrInvalidArgument)
	}

	final := RoundMoney(finalBalance)
	rate := final.Sub(s.SeedBalance).Div(s.SeedBalance).Round(ReturnRateScale)

	s.Status = SessionCompleted
	s.CompletedAt = &now
	s.FinalBalance = &final
	s.ReturnRate = &rate
	return rate, nil
}

// Cancel ends a READY or ACTIVE session without computing results.
func (s *Session) Cancel(now time.Time) error {
	return s.terminate(SessionCancelled, now)
}

// Fail ends a READY or ACTIVE session after an unrecoverable problem.
func (s *Session) Fail(now time.Time) error {
	return s.terminate(SessionFailed, now)
}

func (s *Session) terminate(to SessionStatus, now time.Time) error {
	if s.Status.Terminal() {
		return fmt.Errorf("%w: session %s is already %s", ErrInvalidState, s.ID, s.Status)
	}
	s.Status = to
	s.CompletedAt = &now
	return nil
}
