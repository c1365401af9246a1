// Package mapping resolves challenge-scoped instrument keys to the real
// tickers they hide. Challenges obfuscate names ("STOCK_A") so
// participants trade on price action alone; the mapping is revealed when a
// session completes.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stockquest/trading-engine/internal/instrument"
)

// ErrNotMapped means the challenge has no entry for the key and the key is
// not usable as a ticker by itself.
var ErrNotMapped = errors.New("mapping: instrument key not mapped")

// Mapper is implemented by every mapping backend.
type Mapper interface {
	ResolveActualTicker(ctx context.Context, challengeID, instrumentKey string) (string, error)
}

// Compile-time interface checks.
var (
	_ Mapper = (*StaticMapper)(nil)
	_ Mapper = (*PostgresMapper)(nil)
	_ Mapper = (*CachedMapper)(nil)

	_ Writer = (*StaticMapper)(nil)
	_ Writer = (*PostgresMapper)(nil)
)

// keyAsTicker accepts an unmapped key that is already a valid symbol.
func keyAsTicker(challengeID, key string) (string, error) {
	if instrument.IsTicker(key) {
		return key, nil
	}
	return "", fmt.Errorf("%w: %s in challenge %s", ErrNotMapped, key, challengeID)
}

// StaticMapper holds mappings in memory. It backs tests and deployments
// without a database.
type StaticMapper struct {
	mu       sync.RWMutex
	mappings map[string]map[string]string // challenge -> key -> ticker
}

// NewStaticMapper creates an empty mapper.
func NewStaticMapper() *StaticMapper {
	return &StaticMapper{mappings: make(map[string]map[string]string)}
}

// Put registers key -> ticker for challengeID.
func (m *StaticMapper) Put(_ context.Context, challengeID, key, ticker string) error {
	t, err := instrument.ParseTicker(ticker)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.mappings[challengeID]
	if !ok {
		byKey = make(map[string]string)
		m.mappings[challengeID] = byKey
	}
	byKey[key] = t
	return nil
}

func (m *StaticMapper) ResolveActualTicker(_ context.Context, challengeID, instrumentKey string) (string, error) {
	m.mu.RLock()
	t, ok := m.mappings[challengeID][instrumentKey]
	m.mu.RUnlock()
	if ok {
		return t, nil
	}
	return keyAsTicker(challengeID, instrumentKey)
}
