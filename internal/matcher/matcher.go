// Package matcher selects the closest known identity for a captured face.
package matcher

import (
	"math"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// DefaultTolerance is the maximum Euclidean distance accepted as a match.
// Lower is stricter.
const DefaultTolerance = 0.45

// Result is the outcome of matching one embedding.
type Result struct {
	Identified bool
	Identity   string
	// Distance to the closest entry, +Inf when the registry is empty.
	Distance float64
	// Index of the closest entry in registry order, -1 when none.
	Index int
}

// EuclideanDist returns the L2 distance between two embeddings.
// Vectors of different length or empty vectors are infinitely far apart.
func EuclideanDist(a, b types.Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Match compares candidate to every entry and keeps the minimum distance.
// Ties keep the earlier entry. The candidate is identified iff the minimum
// distance is <= tolerance.
func Match(candidate types.Embedding, entries []types.Identity, tolerance float64) Result {
	best := Result{Distance: math.Inf(1), Index: -1}
	for i, e := range entries {
		dist := EuclideanDist(candidate, e.Vec)
		if dist < best.Distance {
			best.Distance = dist
			best.Index = i
		}
	}

	if best.Index >= 0 && best.Distance <= tolerance {
		best.Identified = true
		best.Identity = entries[best.Index].Name
	}
	return best
}
