package buffer

import (
	"math"
	"slices"
)

// Locator is a dense ordering key for fragments. Between any two distinct
// locators another one can always be generated, so fragments can be split
// and inserted without renumbering their neighbours.
type Locator []uint64

var (
	minLocator = Locator{0}
	maxLocator = Locator{math.MaxUint64}
)

// Compare orders locators lexicographically; a proper prefix orders first.
func (l Locator) Compare(other Locator) int {
	return slices.Compare(l, other)
}

// locatorStep is the preferred distance between a new digit and the bound
// it is placed next to.
const locatorStep = 1 << 16

// between returns a locator strictly between lhs and rhs. lhs must order
// before rhs. Missing digits of lhs read as 0 and of rhs as MaxUint64.
//
// A new digit is placed a short step from one bound, leaving the rest of the
// gap free. The side alternates with depth: even digits sit just above lhs
// and odd digits just below rhs. Appending after the same fragment keeps
// consuming room at an even depth and prepending before it at an odd one,
// so either pattern adds a digit only once the step has been used up
// roughly 2^48 times.
func between(lhs, rhs Locator) Locator {
	out := make(Locator, 0, max(len(lhs), len(rhs))+1)
	bounded := true
	for i := 0; ; i++ {
		lo := digit(lhs, i, 0)
		hi := uint64(math.MaxUint64)
		if bounded {
			hi = digit(rhs, i, math.MaxUint64)
		}
		if hi-lo < 2 {
			// No room at this depth; keep lhs's digit and go deeper.
			out = append(out, lo)
			if lo < hi {
				bounded = false
			}
			continue
		}
		step := min(uint64(locatorStep), (hi-lo)/2)
		if i%2 == 0 {
			return append(out, lo+step)
		}
		return append(out, hi-step)
	}
}

func digit(l Locator, i int, missing uint64) uint64 {
	if i < len(l) {
		return l[i]
	}
	return missing
}
