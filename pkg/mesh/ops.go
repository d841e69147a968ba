package mesh

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
)

// ErrDegenerateHull is returned when the input points are coplanar, collinear
// or coincident and span no volume.
var ErrDegenerateHull = errors.New("convex hull undefined for degenerate point set")

// Ops is the set of library-backed operations the normalizer and the
// descriptor extractor depend on. Implementations must not mutate their input.
type Ops interface {
	// ConvexHull returns the closed convex hull of the mesh vertices.
	ConvexHull(m *Mesh) (*Mesh, error)
	// Simplify decimates m towards at most targetFaces faces.
	Simplify(m *Mesh, targetFaces int) (*Mesh, error)
	// Subdivide splits every face into four.
	Subdivide(m *Mesh) (*Mesh, error)
	// IsWatertight reports whether every edge is shared by exactly two faces.
	IsWatertight(m *Mesh) bool
}

// Geometric is the built-in pure Go implementation of Ops.
type Geometric struct{}

var _ Ops = Geometric{}

// IsWatertight implements Ops.
func (Geometric) IsWatertight(m *Mesh) bool {
	if len(m.Faces) == 0 {
		return false
	}
	for _, n := range m.edgeUse() {
		if n != 2 {
			return false
		}
	}
	return true
}

// Subdivide implements Ops with midpoint subdivision. Midpoints are shared
// between the two faces of an edge so the result stays connected.
func (Geometric) Subdivide(m *Mesh) (*Mesh, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := &Mesh{
		Vertices: make([]r3.Vector, len(m.Vertices), len(m.Vertices)+len(m.Faces)*3/2),
		Faces:    make([]Face, 0, len(m.Faces)*4),
		FaceType: m.FaceType,
	}
	copy(out.Vertices, m.Vertices)

	mid := make(map[edgeKey]int, len(m.Faces)*3/2)
	midpoint := func(a, b int) int {
		k := newEdgeKey(a, b)
		if idx, ok := mid[k]; ok {
			return idx
		}
		idx := len(out.Vertices)
		out.Vertices = append(out.Vertices, m.Vertices[a].Add(m.Vertices[b]).Mul(0.5))
		mid[k] = idx
		return idx
	}

	for _, f := range m.Faces {
		ab := midpoint(f[0], f[1])
		bc := midpoint(f[1], f[2])
		ca := midpoint(f[2], f[0])
		out.Faces = append(out.Faces,
			Face{f[0], ab, ca},
			Face{ab, f[1], bc},
			Face{ca, bc, f[2]},
			Face{ab, bc, ca},
		)
	}
	return out, nil
}

// maxClusterResolution bounds the grid used by Simplify.
const maxClusterResolution = 1 << 12

// Simplify implements Ops by vertex clustering: vertices are snapped to a
// uniform grid over the bounding box and every occupied cell is collapsed to
// the mean of its vertices. The grid resolution is chosen by bisection as the
// finest one whose result has at most targetFaces faces.
func (Geometric) Simplify(m *Mesh, targetFaces int) (*Mesh, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if targetFaces >= len(m.Faces) {
		return m.Clone(), nil
	}
	if targetFaces < 4 {
		targetFaces = 4
	}

	lo, hi := 1, maxClusterResolution
	var best *Mesh
	for lo <= hi {
		res := lo + (hi-lo)/2
		candidate := cluster(m, res)
		if len(candidate.Faces) <= targetFaces {
			best = candidate
			lo = res + 1
		} else {
			hi = res - 1
		}
	}
	if best == nil || len(best.Faces) == 0 {
		return nil, ErrEmptyMesh
	}
	return best, nil
}

func cluster(m *Mesh, res int) *Mesh {
	bmin, bmax := m.Bounds()
	ext := bmax.Sub(bmin)
	cell := math.Max(ext.X, math.Max(ext.Y, ext.Z)) / float64(res)
	if cell == 0 {
		cell = 1
	}

	type cellKey struct{ x, y, z int }
	cellOf := func(v r3.Vector) cellKey {
		d := v.Sub(bmin)
		return cellKey{
			min(int(d.X/cell), res-1),
			min(int(d.Y/cell), res-1),
			min(int(d.Z/cell), res-1),
		}
	}

	index := make(map[cellKey]int)
	sums := make([]r3.Vector, 0)
	counts := make([]int, 0)
	remap := make([]int, len(m.Vertices))
	for i, v := range m.Vertices {
		k := cellOf(v)
		idx, ok := index[k]
		if !ok {
			idx = len(sums)
			index[k] = idx
			sums = append(sums, r3.Vector{})
			counts = append(counts, 0)
		}
		sums[idx] = sums[idx].Add(v)
		counts[idx]++
		remap[i] = idx
	}

	out := &Mesh{Vertices: make([]r3.Vector, len(sums)), FaceType: m.FaceType}
	for i := range sums {
		out.Vertices[i] = sums[i].Mul(1 / float64(counts[i]))
	}
	out.Faces = make([]Face, 0, len(m.Faces))
	for _, f := range m.Faces {
		out.Faces = append(out.Faces, Face{remap[f[0]], remap[f[1]], remap[f[2]]})
	}
	out.Cleanup()
	return out
}

// ConvexHull implements Ops with an incremental hull.
func (Geometric) ConvexHull(m *Mesh) (*Mesh, error) {
	if len(m.Vertices) < 4 {
		return nil, ErrDegenerateHull
	}
	return hull(m.Vertices)
}
