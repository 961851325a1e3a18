package utils

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
)

const tokenCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// TokenLength is the length of callback tokens.
const TokenLength = 64

// Random is the source of randomness injected into components that shuffle
// answers, sample questions or generate tokens.
type Random interface {
	Intn(n int) int
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

type lockedRandom struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandom returns a goroutine-safe Random. A zero seed picks one from crypto/rand.
func NewRandom(seed int64) Random {
	if seed == 0 {
		var b [8]byte
		if _, err := cryptorand.Read(b[:]); err == nil {
			seed = int64(binary.LittleEndian.Uint64(b[:]))
		} else {
			seed = 1
		}
	}
	return &lockedRandom{rnd: rand.New(rand.NewSource(seed))}
}

func (r *lockedRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}

func (r *lockedRandom) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Float64()
}

func (r *lockedRandom) Shuffle(n int, swap func(i, j int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rnd.Shuffle(n, swap)
}

// GenerateToken returns a random string of ASCII letters of the given length.
func GenerateToken(r Random, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenCharset[r.Intn(len(tokenCharset))]
	}
	return string(b)
}

// Sample returns up to k distinct elements of items in random order.
func Sample[T any](r Random, items []T, k int) []T {
	out := make([]T, len(items))
	copy(out, items)
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if k < len(out) {
		out = out[:k]
	}
	return out
}

// Weighted is one candidate of WeightedChoice.
type Weighted[T any] struct {
	Value  T
	Weight int
}

// WeightedChoice picks one value with probability proportional to its weight.
// It panics on an empty or zero-weight slice.
func WeightedChoice[T any](r Random, choices []Weighted[T]) T {
	total := 0
	for _, c := range choices {
		total += c.Weight
	}
	if total <= 0 {
		panic("utils: WeightedChoice needs a positive total weight")
	}
	n := r.Intn(total)
	for _, c := range choices {
		if n < c.Weight {
			return c.Value
		}
		n -= c.Weight
	}
	return choices[len(choices)-1].Value
}
