package testutil

import (
	"fmt"
	"math/rand"
	"sync"
)

const keyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Op is a randomly chosen allocator operation.
type Op uint8

const (
	OpAssign Op = iota
	OpRelease
	OpLookup
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Shuffle pseudo-randomizes the order of n elements using swap.
func (r *RNG) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Shuffle(n, swap)
}

// Key returns a random key of length n drawn from [a-z0-9].
func (r *RNG) Key(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keyLocked(n)
}

func (r *RNG) keyLocked(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = keyAlphabet[r.rand.Intn(len(keyAlphabet))]
	}
	return string(b)
}

// RandomKeys returns num distinct random keys of length n.
// It panics if the alphabet cannot produce num distinct keys of that length.
func (r *RNG) RandomKeys(num, n int) []string {
	if n < 8 && num > pow(len(keyAlphabet), n) {
		panic(fmt.Sprintf("testutil: cannot draw %d distinct keys of length %d", num, n))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, num)
	keys := make([]string, 0, num)
	for len(keys) < num {
		k := r.keyLocked(n)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// SequentialKeys returns num keys of the form prefix0, prefix1, ...
func SequentialKeys(prefix string, num int) []string {
	keys := make([]string, num)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return keys
}

// Ops returns num operations where roughly assignRatio are OpAssign and the
// rest split evenly between OpRelease and OpLookup.
func (r *RNG) Ops(num int, assignRatio float64) []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	ops := make([]Op, num)
	for i := range ops {
		switch f := r.rand.Float64(); {
		case f < assignRatio:
			ops[i] = OpAssign
		case f < assignRatio+(1-assignRatio)/2:
			ops[i] = OpRelease
		default:
			ops[i] = OpLookup
		}
	}
	return ops
}

func pow(base, exp int) int {
	n := 1
	for range exp {
		n *= base
	}
	return n
}
