package descriptor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/mesh"
	"github.com/sanonone/shaperet/pkg/normalize"
	"gonum.org/v1/gonum/floats"
)

func floatsAreEqual(a, b float64) bool {
	const tolerance = 1e-6
	return math.Abs(a-b) < tolerance
}

func canonical(t *testing.T, m *mesh.Mesh) *mesh.Mesh {
	t.Helper()
	n, err := normalize.New(nil, normalize.Config{})
	if err != nil {
		t.Fatal(err)
	}
	out, _, err := n.Normalize(m)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestBin(t *testing.T) {
	cases := []struct {
		name string
		v    float64
		want int
	}{
		{"Zero", 0, 0},
		{"Negative", -1e-12, 0},
		{"NaN", math.NaN(), 0},
		{"Middle", 0.55, 5},
		{"JustBelowMax", 0.9999, 9},
		{"AtMax", 1, 9},
		{"AboveMax", 1.2, 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Bin(tc.v, 1, 10); got != tc.want {
				t.Errorf("Bin(%v) = %d, want %d", tc.v, got, tc.want)
			}
		})
	}
}

func TestSampleCounts(t *testing.T) {
	m := canonical(t, mesh.Tetrahedron())
	rng := rand.New(rand.NewSource(7))
	const samples, bins = 1000, 11

	for _, d := range Distributions {
		t.Run(d.String(), func(t *testing.T) {
			counts := Sample(d, m.Vertices, m.Centroid(), samples, bins, rng)
			if len(counts) != bins-1 {
				t.Fatalf("got %d bins, want %d", len(counts), bins-1)
			}
			total := 0
			for _, c := range counts {
				total += c
			}
			if total != samples {
				t.Errorf("counts sum to %d, want %d", total, samples)
			}
		})
	}

	t.Run("TooFewVertices", func(t *testing.T) {
		counts := Sample(D4, m.Vertices[:3], r3.Vector{}, samples, bins, rng)
		for _, c := range counts {
			if c != 0 {
				t.Fatal("expected an all-zero histogram")
			}
		}
	})
}

func TestDistributionBounds(t *testing.T) {
	// Corners of the unit cube realize the extreme distances.
	cube := []r3.Vector{{}, {X: 1, Y: 1, Z: 1}}
	if d := D2.measure(cube, r3.Vector{}); d > D2.Max()+1e-12 {
		t.Errorf("D2 %f exceeds bound %f", d, D2.Max())
	}
	tri := []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}
	if d := D3.measure(tri, r3.Vector{}); d > D3.Max() {
		t.Errorf("D3 %f exceeds bound %f", d, D3.Max())
	}
	tet := []r3.Vector{{}, {X: 1, Y: 1}, {X: 1, Z: 1}, {Y: 1, Z: 1}}
	if d := D4.measure(tet, r3.Vector{}); d > D4.Max() {
		t.Errorf("D4 %f exceeds bound %f", d, D4.Max())
	}
	if d := A3.measure([]r3.Vector{{X: 1}, {}, {X: -1}}, r3.Vector{}); !floatsAreEqual(d, math.Pi) {
		t.Errorf("straight angle = %f, want π", d)
	}
}

func TestExtractTetrahedron(t *testing.T) {
	cfg := Config{Samples: 500, Bins: 9, Seed: 3}
	ex, err := New(nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	m := canonical(t, mesh.Tetrahedron())

	rec, err := ex.Extract(m, 42, "test")
	if err != nil {
		t.Fatal(err)
	}

	if rec.ID != 42 || rec.Label != "test" {
		t.Errorf("identity not propagated: %d %q", rec.ID, rec.Label)
	}
	if rec.Vertices != 4 || rec.Faces != 4 || rec.Edges != 6 || rec.FaceType != mesh.Triangles {
		t.Errorf("unexpected counts %d/%d/%d %s", rec.Vertices, rec.Faces, rec.Edges, rec.FaceType)
	}
	if rec.HullVolume == nil || rec.Compactness == nil {
		t.Fatal("volume fields should be present for a tetrahedron")
	}
	if !floatsAreEqual(*rec.HullVolume, m.Volume()) {
		t.Errorf("hull volume %f, mesh volume %f", *rec.HullVolume, m.Volume())
	}
	if *rec.Compactness < 1 {
		t.Errorf("compactness %f below the sphere optimum", *rec.Compactness)
	}
	if rec.Barycenter.Norm() > 1e-6 {
		t.Errorf("barycenter %v", rec.Barycenter)
	}

	for _, d := range Distributions {
		h := rec.Histogram(d)
		if len(h) != cfg.HistogramLen() {
			t.Errorf("%s: got %d bins, want %d", d, len(h), cfg.HistogramLen())
		}
		if n := floats.Norm(h, 2); !floatsAreEqual(n, 1) {
			t.Errorf("%s: L2 norm %f, want 1", d, n)
		}
	}
}

func TestExtractPlanarMesh(t *testing.T) {
	ex, _ := New(nil, Config{Samples: 100, Bins: 5, Seed: 1})
	flat := &mesh.Mesh{
		Vertices: []r3.Vector{{}, {X: 1}, {Y: 1}, {X: 1, Y: 1}},
		Faces:    []mesh.Face{{0, 1, 2}, {1, 3, 2}},
		FaceType: mesh.Quads,
	}
	rec, err := ex.Extract(flat, 1, "plane")
	if err != nil {
		t.Fatalf("degenerate geometry must not abort extraction: %v", err)
	}
	if rec.HullVolume != nil || rec.Compactness != nil {
		t.Error("volume fields should be missing for a planar mesh")
	}
	if !math.IsInf(rec.Eccentricity, 1) {
		t.Errorf("planar eccentricity = %f, want +Inf", rec.Eccentricity)
	}
	if rec.FaceType != mesh.Quads {
		t.Errorf("face type %s", rec.FaceType)
	}
}

func TestExtractDeterministic(t *testing.T) {
	ex, _ := New(nil, Config{Samples: 300, Bins: 6, Seed: 11})
	m := canonical(t, mesh.Icosphere(1))
	a, _ := ex.Extract(m, 5, "")
	b, _ := ex.Extract(m, 5, "")
	for _, d := range Distributions {
		if !floats.Equal(a.Histogram(d), b.Histogram(d)) {
			t.Errorf("%s differs between runs with the same seed", d)
		}
	}
}

func TestDiameter(t *testing.T) {
	box := mesh.Box(1, 2, 2)
	if got := Diameter(box.Vertices); !floatsAreEqual(got, 3) {
		t.Errorf("got %f, want 3", got)
	}
	if got := Diameter(nil); got != 0 {
		t.Errorf("empty diameter %f", got)
	}
}

func TestCompactnessSphere(t *testing.T) {
	r := 2.0
	c := Compactness(4*math.Pi*r*r, 4.0/3*math.Pi*r*r*r)
	if !floatsAreEqual(c, 1) {
		t.Errorf("sphere compactness = %f, want 1", c)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(nil, Config{Samples: 0, Bins: 10}); err == nil {
		t.Error("expected error for zero samples")
	}
	if _, err := New(nil, Config{Samples: 10, Bins: 1}); err == nil {
		t.Error("expected error for a single bin edge")
	}
}
