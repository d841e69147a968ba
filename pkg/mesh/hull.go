package mesh

import (
	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/geom"
)

// hullEpsilon is the visibility tolerance relative to the point set diagonal.
const hullEpsilon = 1e-10

type hullFace struct {
	v    Face
	n    r3.Vector
	d    float64
	dead bool
}

type directedEdge struct{ from, to int }

// hull builds the convex hull of points incrementally. Each new point removes
// the faces it can see and is joined to the horizon of the removed region.
func hull(points []r3.Vector) (*Mesh, error) {
	lo, hi := (&Mesh{Vertices: points}).Bounds()
	eps := hullEpsilon * hi.Sub(lo).Norm()
	if eps == 0 {
		return nil, ErrDegenerateHull
	}

	seed, err := initialSimplex(points, eps)
	if err != nil {
		return nil, err
	}
	interior := points[seed[0]].Add(points[seed[1]]).Add(points[seed[2]]).Add(points[seed[3]]).Mul(0.25)

	makeFace := func(a, b, c int) hullFace {
		n := geom.FaceNormal(points[a], points[b], points[c])
		if n.Dot(interior.Sub(points[a])) > 0 {
			b, c = c, b
			n = n.Mul(-1)
		}
		return hullFace{v: Face{a, b, c}, n: n, d: n.Dot(points[a])}
	}

	faces := []hullFace{
		makeFace(seed[0], seed[1], seed[2]),
		makeFace(seed[0], seed[1], seed[3]),
		makeFace(seed[0], seed[2], seed[3]),
		makeFace(seed[1], seed[2], seed[3]),
	}
	inSeed := map[int]bool{seed[0]: true, seed[1]: true, seed[2]: true, seed[3]: true}

	dead := 0
	for i, p := range points {
		if inSeed[i] {
			continue
		}

		var horizon []directedEdge
		removed := make(map[directedEdge]struct{})
		for fi := range faces {
			f := &faces[fi]
			if f.dead || f.n.Dot(p)-f.d <= eps {
				continue
			}
			f.dead = true
			dead++
			for _, e := range []directedEdge{{f.v[0], f.v[1]}, {f.v[1], f.v[2]}, {f.v[2], f.v[0]}} {
				removed[e] = struct{}{}
				horizon = append(horizon, e)
			}
		}
		if len(horizon) == 0 {
			continue
		}

		for _, e := range horizon {
			// An edge whose twin was also removed is interior to the visible region.
			if _, ok := removed[directedEdge{e.to, e.from}]; ok {
				continue
			}
			faces = append(faces, makeFace(e.from, e.to, i))
		}

		if dead > len(faces)/2 {
			alive := faces[:0]
			for _, f := range faces {
				if !f.dead {
					alive = append(alive, f)
				}
			}
			faces = alive
			dead = 0
		}
	}

	out := &Mesh{FaceType: Triangles}
	index := make(map[int]int)
	for _, f := range faces {
		if f.dead {
			continue
		}
		var g Face
		for k, idx := range f.v {
			ni, ok := index[idx]
			if !ok {
				ni = len(out.Vertices)
				index[idx] = ni
				out.Vertices = append(out.Vertices, points[idx])
			}
			g[k] = ni
		}
		out.Faces = append(out.Faces, g)
	}
	return out, nil
}

// initialSimplex picks four affinely independent points spanning a large tetrahedron.
func initialSimplex(points []r3.Vector, eps float64) ([4]int, error) {
	var s [4]int

	for i, p := range points {
		if p.X < points[s[0]].X {
			s[0] = i
		}
	}
	p0 := points[s[0]]

	best := 0.0
	for i, p := range points {
		if d := p.Sub(p0).Norm(); d > best {
			best, s[1] = d, i
		}
	}
	if best <= eps {
		return s, ErrDegenerateHull
	}
	dir := geom.Normalize(points[s[1]].Sub(p0))

	best = 0
	for i, p := range points {
		if d := p.Sub(p0).Cross(dir).Norm(); d > best {
			best, s[2] = d, i
		}
	}
	if best <= eps {
		return s, ErrDegenerateHull
	}
	n := geom.FaceNormal(p0, points[s[1]], points[s[2]])

	best = 0
	for i, p := range points {
		d := n.Dot(p.Sub(p0))
		if d < 0 {
			d = -d
		}
		if d > best {
			best, s[3] = d, i
		}
	}
	if best <= eps {
		return s, ErrDegenerateHull
	}
	return s, nil
}
