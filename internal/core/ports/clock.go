package ports

import (
	"math/rand"
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so schedulers and stores can be
// driven by synthetic time in tests
type Clock interface {
	Now() time.Time
}

// RandomSource abstracts jitter randomness for deterministic testing
type RandomSource interface {
	Float64() float64
	Int63n(n int64) int64
}

// SystemClock reads the real wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// SystemRandom is a locked PRNG seeded from the clock
type SystemRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSystemRandom() *SystemRandom {
	return &SystemRandom{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *SystemRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

func (r *SystemRandom) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}
