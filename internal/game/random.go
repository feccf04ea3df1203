package game

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Randomizer is the source of every random decision the engine makes.
type Randomizer interface {
	Shuffle(n int, swap func(i, j int))
	IntN(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomizer returns a goroutine-safe randomizer seeded with seed.
func NewRandomizer(seed uint64) Randomizer {
	return &lockedRand{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func newDefaultRandomizer() Randomizer {
	return NewRandomizer(uint64(time.Now().UnixNano()))
}

func (r *lockedRand) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Shuffle(n, swap)
}

func (r *lockedRand) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}
