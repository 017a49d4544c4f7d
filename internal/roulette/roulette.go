// Package roulette picks keys with probability proportional to their weight.
package roulette

import "math/rand/v2"

// Candidate is a key with a non-negative selection weight.
type Candidate[K comparable] struct {
	Key    K
	Weight int
}

// Pick returns a key drawn with probability weight/total. Candidates with a
// zero or negative weight are never picked; ok is false when nothing can be.
func Pick[K comparable](r *rand.Rand, candidates []Candidate[K]) (key K, ok bool) {
	total := 0
	for _, c := range candidates {
		if c.Weight > 0 {
			total += c.Weight
		}
	}
	if total == 0 {
		return key, false
	}
	n := r.IntN(total)
	for _, c := range candidates {
		if c.Weight <= 0 {
			continue
		}
		if n < c.Weight {
			return c.Key, true
		}
		n -= c.Weight
	}
	return key, false
}
