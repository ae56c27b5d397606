// Package selector orders a matched provider list by policy: weighted
// random sampling when no routing keys are supplied, or deterministic
// Rendezvous multi-anchor voting when they are (cache-affinity routing).
package selector

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/llmgateway/dispatch/internal/gwconfig"
)

// Anchor is one (content, weight) pair contributing votes to Algorithm
// B. Chat requests contribute one anchor per user message; Completion
// requests contribute one anchor for the prompt.
type Anchor struct {
	Content string
	Weight  int
}

const (
	maxUint64Plus1 = 1 << 64 // represented as a float64; exact up to 2^53 bits of precision lost, acceptable for a normalization denominator
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(1)) //nolint:gosec // selection weighting, not a security primitive
)

func randFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	// Exclude 0 so u^(1/w) never collapses every candidate to the same
	// sort key; Efraimidis-Spirakis requires u in the open interval (0,1).
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return u
}

// Select orders candidates by policy and returns the ordered slice.
// candidates is never mutated; the returned slice is a new ordering over
// the same Provider values.
//
// Zero-priority candidates are placed after every positive-priority
// candidate regardless of their computed sort key or vote points — they
// are eligible only once no positive-priority sibling remains (the
// resolution of the §9 Open Question recorded in DESIGN.md).
func Select(candidates []gwconfig.Provider, anchors []Anchor) []gwconfig.Provider {
	var positive, zero []gwconfig.Provider
	for _, p := range candidates {
		if p.Priority > 0 {
			positive = append(positive, p)
		} else {
			zero = append(zero, p)
		}
	}

	ordered := make([]gwconfig.Provider, 0, len(candidates))
	ordered = append(ordered, orderGroup(positive, anchors)...)
	ordered = append(ordered, orderGroup(zero, anchors)...)
	return ordered
}

func orderGroup(group []gwconfig.Provider, anchors []Anchor) []gwconfig.Provider {
	if len(group) <= 1 {
		return group
	}
	if len(anchors) == 0 {
		return selectWeightedRandom(group)
	}
	return selectWeightedVoting(group, anchors)
}

// selectWeightedRandom implements Algorithm A (Efraimidis-Spirakis):
// sort key = u^(1/priority), priority<=0 maps to sort key 0.
func selectWeightedRandom(group []gwconfig.Provider) []gwconfig.Provider {
	type scored struct {
		provider gwconfig.Provider
		key      float64
	}
	scoredList := make([]scored, len(group))
	for i, p := range group {
		var key float64
		if p.Priority > 0 {
			u := randFloat64()
			key = math.Pow(u, 1.0/float64(p.Priority))
		}
		scoredList[i] = scored{provider: p, key: key}
	}
	sort.SliceStable(scoredList, func(i, j int) bool {
		return scoredList[i].key > scoredList[j].key
	})
	out := make([]gwconfig.Provider, len(scoredList))
	for i, s := range scoredList {
		out[i] = s.provider
	}
	return out
}

// selectWeightedVoting implements Algorithm B: for each anchor, the
// candidate with the highest Rendezvous score wins and accumulates the
// anchor's weight as points. Final order is by points descending, ties
// broken by provider name ascending for determinism.
func selectWeightedVoting(group []gwconfig.Provider, anchors []Anchor) []gwconfig.Provider {
	points := make(map[string]int64, len(group))
	for _, p := range group {
		points[p.Name] = 0
	}

	for _, anchor := range anchors {
		winnerIdx := -1
		var winnerScore float64
		for i, p := range group {
			h := xxhash.Sum64String(anchor.Content + p.Name)
			r := (float64(h) + 1) / (maxUint64Plus1 + 1)
			var s float64
			if p.Priority > 0 {
				s = math.Pow(r, 1.0/float64(p.Priority))
			}
			if winnerIdx == -1 || s > winnerScore {
				winnerIdx = i
				winnerScore = s
			}
		}
		if winnerIdx >= 0 {
			points[group[winnerIdx].Name] += int64(anchor.Weight)
		}
	}

	out := make([]gwconfig.Provider, len(group))
	copy(out, group)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := points[out[i].Name], points[out[j].Name]
		if pi != pj {
			return pi > pj
		}
		return out[i].Name < out[j].Name
	})
	return out
}
