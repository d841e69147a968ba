package descriptor

import (
	"math"
	"math/rand"
	"slices"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/geom"
	"gonum.org/v1/gonum/floats"
)

// Distribution identifies one of the sampled shape distributions.
type Distribution int

const (
	// A3 is the angle between two edges of a random vertex triple.
	A3 Distribution = iota
	// D1 is the distance from a random vertex to the centroid.
	D1
	// D2 is the distance between two random vertices.
	D2
	// D3 is the square root of the area of a random vertex triple.
	D3
	// D4 is the cube root of the volume of a random vertex quadruple.
	D4

	// NumDistributions is the number of shape distributions per record.
	NumDistributions = 5
)

// Distributions lists every shape distribution in feature-vector order.
var Distributions = [NumDistributions]Distribution{A3, D1, D2, D3, D4}

func (d Distribution) String() string {
	switch d {
	case A3:
		return "A3"
	case D1:
		return "D1"
	case D2:
		return "D2"
	case D3:
		return "D3"
	case D4:
		return "D4"
	}
	return "unknown"
}

// arity is the number of distinct vertices one sample draws.
func (d Distribution) arity() int {
	switch d {
	case D1:
		return 1
	case D2:
		return 2
	case A3, D3:
		return 3
	}
	return 4
}

// maxDistance bounds any vertex distance of a mesh scaled into the unit cube.
var maxDistance = math.Sqrt(3)

// Max is the theoretical upper bound of the measurement for a mesh whose
// longest bounding box edge is 1. Area and volume bounds follow from the
// largest triangle and tetrahedron whose edges do not exceed the cube diagonal.
func (d Distribution) Max() float64 {
	switch d {
	case A3:
		return math.Pi
	case D1, D2:
		return maxDistance
	case D3:
		// Equilateral triangle with side √3.
		return math.Sqrt(math.Sqrt(3) / 4 * maxDistance * maxDistance)
	}
	// Regular tetrahedron with edge √3.
	return math.Cbrt(math.Pow(maxDistance, 3) / (6 * math.Sqrt2))
}

// measure evaluates the distribution on the sampled points.
func (d Distribution) measure(p []r3.Vector, centroid r3.Vector) float64 {
	switch d {
	case A3:
		return geom.Angle(p[0].Sub(p[1]), p[2].Sub(p[1]))
	case D1:
		return p[0].Sub(centroid).Norm()
	case D2:
		return p[0].Sub(p[1]).Norm()
	case D3:
		return math.Sqrt(geom.HeronArea(p[0], p[1], p[2]))
	}
	return math.Cbrt(geom.TetraVolume(p[0], p[1], p[2], p[3]))
}

// Bin maps v into one of n equal-width bins over [0, max]. Values outside the
// range are clamped: negatives land in the first bin and anything at or above
// max in the last one.
func Bin(v, max float64, n int) int {
	if n <= 0 || math.IsNaN(v) || v <= 0 {
		return 0
	}
	i := int(v / max * float64(n))
	if i >= n {
		return n - 1
	}
	return i
}

// Sample draws samples measurements of d from the vertex set and bins them
// into bins-1 counts spanning [0, d.Max()]. Each sample uses distinct
// vertices. When the mesh has fewer vertices than the distribution needs,
// every count is zero.
func Sample(d Distribution, vertices []r3.Vector, centroid r3.Vector, samples, bins int, rng *rand.Rand) []int {
	n := bins - 1
	if n < 1 {
		n = 1
	}
	counts := make([]int, n)
	k := d.arity()
	if len(vertices) < k {
		return counts
	}

	idx := make([]int, k)
	pts := make([]r3.Vector, k)
	max := d.Max()
	for s := 0; s < samples; s++ {
		pick(rng, len(vertices), idx)
		for i, j := range idx {
			pts[i] = vertices[j]
		}
		counts[Bin(d.measure(pts, centroid), max, n)]++
	}
	return counts
}

// pick fills idx with distinct indices in [0, n).
func pick(rng *rand.Rand, n int, idx []int) {
	for i := range idx {
		for {
			v := rng.Intn(n)
			if !slices.Contains(idx[:i], v) {
				idx[i] = v
				break
			}
		}
	}
}

// L2Normalize converts counts into a unit-norm histogram. An all-zero input
// stays all zero.
func L2Normalize(counts []int) []float64 {
	h := make([]float64, len(counts))
	for i, c := range counts {
		h[i] = float64(c)
	}
	if norm := floats.Norm(h, 2); norm > 0 {
		floats.Scale(1/norm, h)
	}
	return h
}
