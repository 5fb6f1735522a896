package routing

import (
	"fmt"
	"strings"

	"edgemesh/pkg/fabricerr"

	"github.com/zhangyunhao116/fastrand"
)

// RandFunc returns a value in [0, 1). It is called exactly once per selection.
type RandFunc func() float64

// DefaultRand is the goroutine-safe source used on the hot path.
func DefaultRand() float64 {
	return fastrand.Float64()
}

// Policy decides how a destination is picked among the routes of a function.
type Policy int

const (
	// PolicyRandom draws destinations with probability proportional to weight.
	PolicyRandom Policy = iota
	// PolicyLeastImpedance always picks the destination with the smallest weight.
	PolicyLeastImpedance
)

func (p Policy) String() string {
	switch p {
	case PolicyRandom:
		return "random"
	case PolicyLeastImpedance:
		return "least-impedance"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "random":
		return PolicyRandom, nil
	case "least-impedance":
		return PolicyLeastImpedance, nil
	default:
		return 0, fmt.Errorf("%w: unknown routing policy %q", fabricerr.ErrConfiguration, s)
	}
}

// SelectWeighted performs roulette-wheel selection over dests, which must be
// non-empty and sorted by endpoint. draw must be in [0, 1): it is scaled to
// [0, sum of weights) and the first destination whose cumulative weight
// exceeds it wins. Rounding can leave the scaled draw unmatched, in which case
// the last destination is returned.
func SelectWeighted(dests []Destination, draw float64) Destination {
	if len(dests) == 1 {
		return dests[0]
	}

	var sum float64
	for _, d := range dests {
		sum += d.Weight
	}

	target := draw * sum
	var cum float64
	for _, d := range dests[:len(dests)-1] {
		cum += d.Weight
		if target < cum {
			return d
		}
	}
	return dests[len(dests)-1]
}

// SelectLeast returns the destination with the smallest weight; the first one
// in endpoint order wins ties.
func SelectLeast(dests []Destination) Destination {
	best := dests[0]
	for _, d := range dests[1:] {
		if d.Weight < best.Weight {
			best = d
		}
	}
	return best
}
