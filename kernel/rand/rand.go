// Package rand provides the kernel's internal, non-cryptographic PRNG, used
// to diversify task identifiers. There is no hardware entropy source wired
// up this early in boot that would justify treating this as secure
// randomness.
package rand

import (
	"math/rand/v2"
	"sync"
)

var (
	mu  sync.Mutex
	gen *rand.Rand
)

// Seed seeds the generator from two timestamp-counter reads, matching the
// PCG family used by the reference implementation's prng module. Called once
// during init orchestration, after which Uint32/Uint64 are safe to call from
// any hardware thread.
func Seed(seedLow, seedHigh uint64) {
	mu.Lock()
	defer mu.Unlock()
	gen = rand.New(rand.NewPCG(seedLow, seedHigh))
}

// Uint32 returns the next pseudo-random uint32. Seed must have been called
// first.
func Uint32() uint32 {
	mu.Lock()
	defer mu.Unlock()
	return gen.Uint32()
}

// Uint64 returns the next pseudo-random uint64. Seed must have been called
// first.
func Uint64() uint64 {
	mu.Lock()
	defer mu.Unlock()
	return gen.Uint64()
}
