// Package random provides the seeded random stream owned by a game instance.
// Every random outcome must be drawn from it so history replay reproduces
// the same game.
package random

import "math/rand/v2"

// Source is the random service rule code consumes.
type Source interface {
	// Next returns a value in [0, 1).
	Next() float64
	// NextInt returns a value in [0, max). It returns 0 when max <= 0.
	NextInt(max int32) int32
}

// Seeded is a deterministic Source backed by a PCG generator.
type Seeded struct {
	seed  uint64
	draws uint64
	rng   *rand.Rand
}

// New constructs a stream from seed.
func New(seed uint64) *Seeded {
	return &Seeded{
		seed: seed,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Seed returns the seed the stream was built from.
func (s *Seeded) Seed() uint64 {
	return s.seed
}

// Draws returns how many values have been drawn.
func (s *Seeded) Draws() uint64 {
	return s.draws
}

func (s *Seeded) Next() float64 {
	s.draws++
	return s.rng.Float64()
}

func (s *Seeded) NextInt(max int32) int32 {
	if max <= 0 {
		return 0
	}
	s.draws++
	return s.rng.Int32N(max)
}

// Shuffle permutes items in place using src.
func Shuffle[T any](src Source, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := src.NextInt(int32(i + 1))
		items[i], items[j] = items[j], items[i]
	}
}
