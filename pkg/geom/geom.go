// Package geom provides the small numeric helpers shared by the normalization,
// descriptor and retrieval stages: vector normalization, angles, triangle and
// tetrahedron measures, and the principal-axis decomposition of a point set.
package geom

import (
	"errors"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ErrTooFewPoints is returned when a point set cannot define a covariance.
var ErrTooFewPoints = errors.New("too few points for operation")

// ErrEigenFailed is returned when the symmetric eigen-decomposition does not converge.
var ErrEigenFailed = errors.New("eigen decomposition failed")

// Normalize returns v scaled to unit length. The zero vector is returned unchanged.
func Normalize(v r3.Vector) r3.Vector {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Mul(1 / n)
}

// Angle returns the angle between a and b in radians, in [0, π].
// The cosine is clamped to [-1, 1] so nearly parallel vectors never yield NaN.
func Angle(a, b r3.Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	cos := a.Dot(b) / (na * nb)
	cos = math.Max(-1, math.Min(1, cos))
	return math.Acos(cos)
}

// AngleDegrees is Angle expressed in degrees.
func AngleDegrees(a, b r3.Vector) float64 {
	return Angle(a, b) * 180 / math.Pi
}

// FaceNormal returns the unit normal of the triangle (a, b, c) following the
// right-hand rule. Degenerate triangles yield the zero vector.
func FaceNormal(a, b, c r3.Vector) r3.Vector {
	return Normalize(b.Sub(a).Cross(c.Sub(a)))
}

// TriangleArea returns the area of (a, b, c) from the cross product.
func TriangleArea(a, b, c r3.Vector) float64 {
	return 0.5 * b.Sub(a).Cross(c.Sub(a)).Norm()
}

// HeronArea returns the area of (a, b, c) using Heron's formula.
// The radicand is taken in absolute value: near-collinear triples can drive it
// slightly negative through rounding.
func HeronArea(a, b, c r3.Vector) float64 {
	x := a.Sub(b).Norm()
	y := b.Sub(c).Norm()
	z := c.Sub(a).Norm()
	s := (x + y + z) / 2
	return math.Sqrt(math.Abs(s * (s - x) * (s - y) * (s - z)))
}

// TetraVolume returns the unsigned volume of the tetrahedron (a, b, c, d).
func TetraVolume(a, b, c, d r3.Vector) float64 {
	return math.Abs(a.Sub(d).Dot(b.Sub(d).Cross(c.Sub(d)))) / 6
}

// Mean returns the arithmetic mean of points.
func Mean(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	if len(points) == 0 {
		return sum
	}
	return sum.Mul(1 / float64(len(points)))
}

// Covariance returns the 3x3 sample covariance of points about their mean.
func Covariance(points []r3.Vector) (*mat.SymDense, error) {
	if len(points) < 2 {
		return nil, ErrTooFewPoints
	}
	c := Mean(points)

	var cov [9]float64 // 3x3 row-major
	for _, p := range points {
		d := p.Sub(c)
		cov[0] += d.X * d.X
		cov[1] += d.X * d.Y
		cov[2] += d.X * d.Z
		cov[4] += d.Y * d.Y
		cov[5] += d.Y * d.Z
		cov[8] += d.Z * d.Z
	}
	cov[3], cov[6], cov[7] = cov[1], cov[2], cov[5]

	n := float64(len(points) - 1)
	for i := range cov {
		cov[i] /= n
	}
	return mat.NewSymDense(3, cov[:]), nil
}

// Axes holds the eigenpairs of a covariance matrix ordered by eigenvalue
// magnitude, largest first.
type Axes struct {
	Values  [3]float64
	Vectors [3]r3.Vector
}

// PrincipalAxes decomposes the covariance of points. Vectors are unit length.
func PrincipalAxes(points []r3.Vector) (Axes, error) {
	cov, err := Covariance(points)
	if err != nil {
		return Axes{}, err
	}

	var eigen mat.EigenSym
	if ok := eigen.Factorize(cov, true); !ok {
		return Axes{}, ErrEigenFailed
	}
	vals := eigen.Values(nil)
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	// gonum returns ascending eigenvalues; reorder by magnitude.
	order := []int{0, 1, 2}
	sort.SliceStable(order, func(i, j int) bool {
		return math.Abs(vals[order[i]]) > math.Abs(vals[order[j]])
	})

	var axes Axes
	for i, col := range order {
		axes.Values[i] = vals[col]
		axes.Vectors[i] = Normalize(r3.Vector{X: vecs.At(0, col), Y: vecs.At(1, col), Z: vecs.At(2, col)})
	}
	return axes, nil
}

// degenerateRatio is the relative size below which a minor eigenvalue is
// treated as zero.
const degenerateRatio = 1e-12

// Eccentricity returns |λmax| / |λmin| of the covariance of points.
// A vanishing minor eigenvalue (planar or collinear input) yields +Inf.
func Eccentricity(points []r3.Vector) (float64, error) {
	axes, err := PrincipalAxes(points)
	if err != nil {
		return 0, err
	}
	major, minor := math.Abs(axes.Values[0]), math.Abs(axes.Values[2])
	if minor <= degenerateRatio*major {
		return math.Inf(1), nil
	}
	return major / minor, nil
}
