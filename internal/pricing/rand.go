package pricing

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the random source used for slippage draws and synthetic price
// perturbation. Float64 returns a value in [0, 1).
type Rand interface {
	Float64() float64
}

// LockedRand is a seedable Rand that is safe for concurrent use.
type LockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLockedRand returns a PCG-backed source. A zero seed is replaced by the
// current time, so production runs differ while tests can pin the sequence.
func NewLockedRand(seed uint64) *LockedRand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &LockedRand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *LockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// FixedRand always returns the same value. Useful for pinning outputs.
type FixedRand float64

func (f FixedRand) Float64() float64 { return float64(f) }
