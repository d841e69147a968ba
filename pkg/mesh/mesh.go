// Package mesh defines the polygon mesh model shared by every stage of the
// retrieval pipeline, along with the geometric operations (convex hull,
// decimation, subdivision) that normalization and descriptor extraction need.
//
// A Mesh is always stored triangulated. The face layout of the source file is
// kept in FaceType so descriptor records can still report it.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/geom"
)

// FaceType tags the polygon layout a mesh was loaded with.
type FaceType string

const (
	Triangles FaceType = "triangles"
	Quads     FaceType = "quads"
	Mixed     FaceType = "mixed"
)

var (
	// ErrEmptyMesh is returned when a mesh has no vertices or no faces.
	ErrEmptyMesh = errors.New("mesh has no vertices or faces")
	// ErrBadIndex is returned when a face references a vertex that does not exist.
	ErrBadIndex = errors.New("face references missing vertex")
)

// Face is a triangle given as three indices into Mesh.Vertices.
type Face [3]int

// Mesh is a triangulated surface.
//
// Normalization steps replace Vertices and Faces wholesale; callers that need
// the previous state must Clone first.
type Mesh struct {
	Vertices []r3.Vector
	Faces    []Face
	FaceType FaceType
}

// New builds a mesh and validates its face indices.
func New(vertices []r3.Vector, faces []Face) (*Mesh, error) {
	m := &Mesh{Vertices: vertices, Faces: faces, FaceType: Triangles}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the mesh is non-empty and every face index is in range.
func (m *Mesh) Validate() error {
	if len(m.Vertices) == 0 || len(m.Faces) == 0 {
		return ErrEmptyMesh
	}
	n := len(m.Vertices)
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= n {
				return fmt.Errorf("face %d index %d: %w", i, idx, ErrBadIndex)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of m.
func (m *Mesh) Clone() *Mesh {
	c := &Mesh{
		Vertices: make([]r3.Vector, len(m.Vertices)),
		Faces:    make([]Face, len(m.Faces)),
		FaceType: m.FaceType,
	}
	copy(c.Vertices, m.Vertices)
	copy(c.Faces, m.Faces)
	return c
}

func (m *Mesh) triangle(f Face) (r3.Vector, r3.Vector, r3.Vector) {
	return m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
}

// FaceNormals returns the unit normal of every face.
func (m *Mesh) FaceNormals() []r3.Vector {
	normals := make([]r3.Vector, len(m.Faces))
	for i, f := range m.Faces {
		normals[i] = geom.FaceNormal(m.triangle(f))
	}
	return normals
}

// VertexNormals returns area-weighted vertex normals.
func (m *Mesh) VertexNormals() []r3.Vector {
	normals := make([]r3.Vector, len(m.Vertices))
	for _, f := range m.Faces {
		a, b, c := m.triangle(f)
		// The unnormalized cross product is already weighted by twice the area.
		n := b.Sub(a).Cross(c.Sub(a))
		for _, idx := range f {
			normals[idx] = normals[idx].Add(n)
		}
	}
	for i := range normals {
		normals[i] = geom.Normalize(normals[i])
	}
	return normals
}

// FaceCentroids returns the centroid of every triangle.
func (m *Mesh) FaceCentroids() []r3.Vector {
	out := make([]r3.Vector, len(m.Faces))
	for i, f := range m.Faces {
		a, b, c := m.triangle(f)
		out[i] = a.Add(b).Add(c).Mul(1.0 / 3)
	}
	return out
}

// Area returns the total surface area.
func (m *Mesh) Area() float64 {
	var area float64
	for _, f := range m.Faces {
		area += geom.TriangleArea(m.triangle(f))
	}
	return area
}

// Centroid returns the area-weighted surface centroid. Meshes with zero area
// fall back to the mean vertex position.
func (m *Mesh) Centroid() r3.Vector {
	var sum r3.Vector
	var total float64
	for _, f := range m.Faces {
		a, b, c := m.triangle(f)
		w := geom.TriangleArea(a, b, c)
		sum = sum.Add(a.Add(b).Add(c).Mul(w / 3))
		total += w
	}
	if total == 0 {
		return geom.Mean(m.Vertices)
	}
	return sum.Mul(1 / total)
}

// Volume returns the absolute enclosed volume from the divergence theorem.
// It is only meaningful for watertight, consistently wound meshes.
func (m *Mesh) Volume() float64 {
	var v float64
	for _, f := range m.Faces {
		a, b, c := m.triangle(f)
		v += a.Dot(b.Cross(c))
	}
	return math.Abs(v) / 6
}

// Bounds returns the axis-aligned bounding box corners.
func (m *Mesh) Bounds() (lo, hi r3.Vector) {
	if len(m.Vertices) == 0 {
		return
	}
	lo, hi = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		lo = r3.Vector{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vector{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}

// Extents returns the edge lengths of the bounding box.
func (m *Mesh) Extents() r3.Vector {
	lo, hi := m.Bounds()
	return hi.Sub(lo)
}

// LongestExtent returns the longest bounding box edge.
func (m *Mesh) LongestExtent() float64 {
	e := m.Extents()
	return math.Max(e.X, math.Max(e.Y, e.Z))
}

// Diagonal returns the length of the bounding box diagonal.
func (m *Mesh) Diagonal() float64 {
	return m.Extents().Norm()
}

// BoundingBoxVolume returns the volume of the axis-aligned bounding box.
func (m *Mesh) BoundingBoxVolume() float64 {
	e := m.Extents()
	return e.X * e.Y * e.Z
}

type edgeKey struct{ a, b int }

func newEdgeKey(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// edgeUse counts how many faces share each undirected edge.
func (m *Mesh) edgeUse() map[edgeKey]int {
	use := make(map[edgeKey]int, len(m.Faces)*3/2)
	for _, f := range m.Faces {
		use[newEdgeKey(f[0], f[1])]++
		use[newEdgeKey(f[1], f[2])]++
		use[newEdgeKey(f[2], f[0])]++
	}
	return use
}

// EdgeCount returns the number of unique undirected edges.
func (m *Mesh) EdgeCount() int {
	return len(m.edgeUse())
}

// Translate moves every vertex by d.
func (m *Mesh) Translate(d r3.Vector) {
	for i := range m.Vertices {
		m.Vertices[i] = m.Vertices[i].Add(d)
	}
}

// Scale multiplies every vertex by s.
func (m *Mesh) Scale(s float64) {
	for i := range m.Vertices {
		m.Vertices[i] = m.Vertices[i].Mul(s)
	}
}

// ScaleAxes multiplies each vertex component-wise by s.
// Negative components mirror the mesh, so face winding is flipped to keep
// normals pointing the same way relative to the surface.
func (m *Mesh) ScaleAxes(s r3.Vector) {
	for i, v := range m.Vertices {
		m.Vertices[i] = r3.Vector{X: v.X * s.X, Y: v.Y * s.Y, Z: v.Z * s.Z}
	}
	if s.X*s.Y*s.Z < 0 {
		for i, f := range m.Faces {
			m.Faces[i] = Face{f[0], f[2], f[1]}
		}
	}
}

// Project expresses every vertex in the given basis: the new coordinate i is
// the dot product of the vertex with basis[i].
func (m *Mesh) Project(basis [3]r3.Vector) {
	for i, v := range m.Vertices {
		m.Vertices[i] = r3.Vector{X: v.Dot(basis[0]), Y: v.Dot(basis[1]), Z: v.Dot(basis[2])}
	}
}
