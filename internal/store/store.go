// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-node development).
package store

import (
	"context"

	"github.com/stockquest/trading-engine/internal/model"
)

// Store is the persistence interface. Lookups that find nothing return an
// error wrapping model.ErrNotFound.
type Store interface {
	// --- Sessions ---

	// CreateSession persists a new session.
	CreateSession(ctx context.Context, s *model.Session) error

	// GetSession retrieves a session by its ID without locking it.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// FindActiveSession returns the ACTIVE session of userID in challengeID.
	FindActiveSession(ctx context.Context, userID, challengeID string) (*model.Session, error)

	// --- Read models ---

	// ListOrders returns a session's orders, newest first.
	ListOrders(ctx context.Context, sessionID string) ([]model.Order, error)

	// ListPositions returns every position record of a session, flat ones
	// included, ordered by instrument key.
	ListPositions(ctx context.Context, sessionID string) ([]model.Position, error)

	// --- Transactional boundary ---

	// WithSessionTx runs fn with exclusive access to the session. Writes
	// staged through tx become visible together when fn returns nil and
	// are discarded otherwise. Calls for different sessions do not block
	// each other.
	WithSessionTx(ctx context.Context, sessionID string, fn func(tx Tx) error) error
}

// Tx is the unit of work handed to WithSessionTx callbacks.
type Tx interface {
	// Session returns the locked session as of transaction start, with any
	// staged SaveSession applied.
	Session() *model.Session

	// FindPosition returns the (session, instrument) position, or an error
	// wrapping model.ErrNotFound if the instrument was never traded.
	FindPosition(ctx context.Context, instrumentKey string) (*model.Position, error)

	// ListPositions returns the session's positions with staged writes
	// applied, ordered by instrument key.
	ListPositions(ctx context.Context) ([]model.Position, error)

	SaveSession(ctx context.Context, s *model.Session) error
	SaveOrder(ctx context.Context, o *model.Order) error
	SavePosition(ctx context.Context, p *model.Position) error
}

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
