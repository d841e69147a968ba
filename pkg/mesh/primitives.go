package mesh

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/geom"
)

// Tetrahedron returns a closed tetrahedron with outward winding.
func Tetrahedron() *Mesh {
	return &Mesh{
		Vertices: []r3.Vector{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0, Y: 1, Z: 0},
			{X: 0, Y: 0, Z: 1},
		},
		Faces:    []Face{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
		FaceType: Triangles,
	}
}

// Box returns a closed axis-aligned box centred on the origin.
func Box(x, y, z float64) *Mesh {
	hx, hy, hz := x/2, y/2, z/2
	return &Mesh{
		Vertices: []r3.Vector{
			{X: -hx, Y: -hy, Z: -hz}, {X: hx, Y: -hy, Z: -hz},
			{X: hx, Y: hy, Z: -hz}, {X: -hx, Y: hy, Z: -hz},
			{X: -hx, Y: -hy, Z: hz}, {X: hx, Y: -hy, Z: hz},
			{X: hx, Y: hy, Z: hz}, {X: -hx, Y: hy, Z: hz},
		},
		Faces: []Face{
			{0, 3, 2}, {0, 2, 1}, // bottom
			{4, 5, 6}, {4, 6, 7}, // top
			{0, 1, 5}, {0, 5, 4}, // front
			{2, 3, 7}, {2, 7, 6}, // back
			{1, 2, 6}, {1, 6, 5}, // right
			{0, 4, 7}, {0, 7, 3}, // left
		},
		FaceType: Triangles,
	}
}

// Icosphere returns a unit sphere built by subdividing an icosahedron
// `level` times and projecting the vertices onto the sphere.
func Icosphere(level int) *Mesh {
	t := (1 + math.Sqrt(5)) / 2
	m := &Mesh{
		Vertices: []r3.Vector{
			{X: -1, Y: t}, {X: 1, Y: t}, {X: -1, Y: -t}, {X: 1, Y: -t},
			{Y: -1, Z: t}, {Y: 1, Z: t}, {Y: -1, Z: -t}, {Y: 1, Z: -t},
			{X: t, Z: -1}, {X: t, Z: 1}, {X: -t, Z: -1}, {X: -t, Z: 1},
		},
		Faces: []Face{
			{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
			{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
			{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
			{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
		},
		FaceType: Triangles,
	}
	for i := 0; i < level; i++ {
		var err error
		if m, err = (Geometric{}).Subdivide(m); err != nil {
			// The icosahedron above is a valid closed mesh.
			panic(fmt.Sprintf("mesh: subdividing icosphere level %d: %v", i+1, err))
		}
	}
	for i, v := range m.Vertices {
		m.Vertices[i] = geom.Normalize(v)
	}
	return m
}
