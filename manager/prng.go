package manager

import (
	"math/rand"
	"sync"
)

// lockedRand is a mutex-guarded math/rand source shared by every Cache a
// Manager owns, implementing shard.PRNG. The original draws its sampling
// decisions from a single shared generator rather than per-shard state
// (see original_source/arangod/Cache/Manager.cpp's RNG member); math/rand
// is the stdlib equivalent since no third-party PRNG crate appears
// anywhere in the example pack.
type lockedRand struct {
	mu  sync.Mutex
	src *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{src: rand.New(rand.NewSource(seed))}
}

// Uint64 returns the next pseudo-random value, safe for concurrent use
// by every shard sharing this Manager.
func (r *lockedRand) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Uint64()
}
