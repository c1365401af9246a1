package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stockquest/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*model.Session
	orders    map[string][]model.Order              // session -> orders in placement order
	positions map[string]map[string]*model.Position // session -> instrument -> position

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex // per-session transaction locks
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*model.Session),
		orders:    make(map[string][]model.Order),
		positions: make(map[string]map[string]*model.Position),
		locks:     make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("%w: session %s already exists", model.ErrInvalidState, sess.ID)
	}
	if err := s.checkSingleActive(sess); err != nil {
		return err
	}

	// Store a copy to avoid external mutation.
	copy := *sess
	s.sessions[sess.ID] = &copy
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", model.ErrNotFound, id)
	}
	copy := *sess
	return &copy, nil
}

func (s *MemoryStore) FindActiveSession(_ context.Context, userID, challengeID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.ChallengeID == challengeID && sess.IsActive() {
			copy := *sess
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: no active session for user %s in challenge %s", model.ErrNotFound, userID, challengeID)
}

func (s *MemoryStore) ListOrders(_ context.Context, sessionID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.orders[sessionID]
	result := make([]model.Order, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		result = append(result, stored[i])
	}
	return result, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, sessionID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Position, 0, len(s.positions[sessionID]))
	for _, p := range s.positions[sessionID] {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstrumentKey < result[j].InstrumentKey
	})
	return result, nil
}

// checkSingleActive enforces one ACTIVE session per (user, challenge).
// Caller holds s.mu.
func (s *MemoryStore) checkSingleActive(sess *model.Session) error {
	if !sess.IsActive() {
		return nil
	}
	for id, other := range s.sessions {
		if id != sess.ID && other.UserID == sess.UserID &&
			other.ChallengeID == sess.ChallengeID && other.IsActive() {
			return fmt.Errorf("%w: user %s already has active session %s in challenge %s",
				model.ErrInvalidState, sess.UserID, id, sess.ChallengeID)
		}
	}
	return nil
}

func (s *MemoryStore) sessionLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *MemoryStore) WithSessionTx(ctx context.Context, sessionID string, fn func(tx Tx) error) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	tx := &memTx{store: s, session: sess, positions: make(map[string]*model.Position)}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies staged writes under the store lock so readers observe
// all of them or none.
func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.sessionDirty {
		if err := s.checkSingleActive(tx.session); err != nil {
			return err
		}
		copy := *tx.session
		s.sessions[copy.ID] = &copy
	}
	s.orders[tx.session.ID] = append(s.orders[tx.session.ID], tx.orders...)
	if len(tx.positions) > 0 {
		byKey, ok := s.positions[tx.session.ID]
		if !ok {
			byKey = make(map[string]*model.Position)
			s.positions[tx.session.ID] = byKey
		}
		for key, p := range tx.positions {
			copy := *p
			byKey[key] = &copy
		}
	}
	return nil
}

// memTx stages writes until commit.
type memTx struct {
	store        *MemoryStore
	session      *model.Session
	sessionDirty bool
	orders       []model.Order
	positions    map[string]*model.Position
}

func (t *memTx) Session() *model.Session {
	return t.session
}

func (t *memTx) FindPosition(_ context.Context, instrumentKey string) (*model.Position, error) {
	if p, ok := t.positions[instrumentKey]; ok {
		copy := *p
		return &copy, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	p, ok := t.store.positions[t.session.ID][instrumentKey]
	if !ok {
		return nil, fmt.Errorf("%w: position %s/%s", model.ErrNotFound, t.session.ID, instrumentKey)
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) ListPositions(ctx context.Context) ([]model.Position, error) {
	committed, err := t.store.ListPositions(ctx, t.session.ID)
	if err != nil {
		return nil, err
	}
	result := make([]model.Position, 0, len(committed)+len(t.positions))
	for _, p := range committed {
		if _, staged := t.positions[p.InstrumentKey]; !staged {
			result = append(result, p)
		}
	}
	for _, p := range t.positions {
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InstrumentKey < result[j].InstrumentKey
	})
	return result, nil
}

func (t *memTx) SaveSession(_ context.Context, sess *model.Session) error {
	if sess.ID != t.session.ID {
		return fmt.Errorf("save session %s: transaction is scoped to %s", sess.ID, t.session.ID)
	}
	copy := *sess
	t.session = &copy
	t.sessionDirty = true
	return nil
}

func (t *memTx) SaveOrder(_ context.Context, o *model.Order) error {
	if o.SessionID != t.session.ID {
		return fmt.Errorf("save order %s: transaction is scoped to %s", o.ID, t.session.ID)
	}
	t.orders = append(t.orders, *o)
	return nil
}

func (t *memTx) SavePosition(_ context.Context, p *model.Position) error {
	if p.SessionID != t.session.ID {
		return fmt.Errorf("save position %s: transaction is scoped to %s", p.InstrumentKey, t.session.ID)
	}
	copy := *p
	t.positions[p.InstrumentKey] = &copy
	return nil
}
