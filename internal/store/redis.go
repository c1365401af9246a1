package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stockquest/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Transactions run against the primary and invalidate the session's
// cached entries on success; unlocked reads check Redis first.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary, then invalidate) ---

func (s *CachedStore) CreateSession(ctx context.Context, sess *model.Session) error {
	if err := s.primary.CreateSession(ctx, sess); err != nil {
		return err
	}
	s.cacheJSON(ctx, sessionKey(sess.ID), sess)
	return nil
}

func (s *CachedStore) WithSessionTx(ctx context.Context, sessionID string, fn func(tx Tx) error) error {
	if err := s.primary.WithSessionTx(ctx, sessionID, fn); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the committed state.
	s.rdb.Del(ctx, sessionKey(sessionID), positionsKey(sessionID), ordersKey(sessionID))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var sess model.Session
	if s.readJSON(ctx, sessionKey(id), &sess) {
		return &sess, nil
	}

	got, err := s.primary.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, sessionKey(id), got)
	return got, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, sessionID string) ([]model.Position, error) {
	var positions []model.Position
	if s.readJSON(ctx, positionsKey(sessionID), &positions) {
		return positions, nil
	}

	positions, err := s.primary.ListPositions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, positionsKey(sessionID), positions)
	return positions, nil
}

func (s *CachedStore) ListOrders(ctx context.Context, sessionID string) ([]model.Order, error) {
	var orders []model.Order
	if s.readJSON(ctx, ordersKey(sessionID), &orders) {
		return orders, nil
	}

	orders, err := s.primary.ListOrders(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, ordersKey(sessionID), orders)
	return orders, nil
}

// --- Passthrough (not cached) ---

// FindActiveSession guards the one-active-session rule and must not see
// stale state.
func (s *CachedStore) FindActiveSession(ctx context.Context, userID, challengeID string) (*model.Session, error) {
	return s.primary.FindActiveSession(ctx, userID, challengeID)
}

// --- Cache helpers ---

func (s *CachedStore) readJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func sessionKey(id string) string   { return fmt.Sprintf("stockquest:session:%s", id) }
func positionsKey(id string) string { return fmt.Sprintf("stockquest:positions:%s", id) }
func ordersKey(id string) string    { return fmt.Sprintf("stockquest:orders:%s", id) }
