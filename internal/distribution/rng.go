// Package distribution turns a pair of large integers into a reproducible
// Tarot deal and a short verification code.
package distribution

import "math"

// The recurrence constants are part of every published hash code. Changing
// them breaks verification of past deals.
const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
	lcgModulus    = 1 << 32
)

// SeededRNG is a 32-bit linear congruential generator. It is not safe for
// concurrent use.
type SeededRNG struct {
	state uint32
}

func NewSeededRNG(seed uint32) *SeededRNG {
	return &SeededRNG{state: seed}
}

// Reset discards all prior state.
func (r *SeededRNG) Reset(seed uint32) {
	r.state = seed
}

// Next returns a float in [0,1).
func (r *SeededRNG) Next() float64 {
	r.state = r.state*lcgMultiplier + lcgIncrement
	return float64(r.state) / lcgModulus
}

// NextInt returns an integer in [min,max].
func (r *SeededRNG) NextInt(min, max int) int {
	return min + int(math.Floor(r.Next()*float64(max-min+1)))
}

// ShuffleWithSeed returns a Fisher-Yates permutation of items. The input is
// not modified.
func ShuffleWithSeed[T any](items []T, seed uint32) []T {
	out := append([]T(nil), items...)
	rng := NewSeededRNG(seed)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.NextInt(0, i)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
