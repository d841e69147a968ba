package stats

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/golang/geo/r3"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/mesh"
)

func record(id, vertices, faces int, ft mesh.FaceType, bary r3.Vector, edge float64) *descriptor.Record {
	return &descriptor.Record{
		ID:         id,
		Vertices:   vertices,
		Faces:      faces,
		FaceType:   ft,
		Barycenter: bary,
		BoundsMin:  r3.Vector{X: -edge / 2, Y: -0.1, Z: -0.2},
		BoundsMax:  r3.Vector{X: edge / 2, Y: 0.1, Z: 0.2},
	}
}

func floatsAreEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestCollect(t *testing.T) {
	records := []*descriptor.Record{
		record(1, 500, 1000, mesh.Triangles, r3.Vector{}, 1),
		record(2, 1000, 2000, mesh.Triangles, r3.Vector{X: 0.1}, 1),
		record(3, 3000, 2500, mesh.Quads, r3.Vector{}, 2),
		record(4, 1500, 1500, mesh.Triangles, r3.Vector{}, 1),
	}
	rep, err := Collect(records, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	if rep.Meshes != 4 {
		t.Errorf("Meshes = %d", rep.Meshes)
	}
	if rep.Vertices.Min != 500 || rep.Vertices.Max != 3000 || !floatsAreEqual(rep.Vertices.Mean, 1500, 1e-9) {
		t.Errorf("vertex summary %+v", rep.Vertices)
	}
	if rep.Faces.Min != 1000 || rep.Faces.Max != 2500 || !floatsAreEqual(rep.Faces.Mean, 1750, 1e-9) {
		t.Errorf("face summary %+v", rep.Faces)
	}
	if rep.FaceTypes[mesh.Triangles] != 3 || rep.FaceTypes[mesh.Quads] != 1 {
		t.Errorf("face types %v", rep.FaceTypes)
	}
	if got := rep.SortedFaceTypes(); !slices.Equal(got, []mesh.FaceType{mesh.Quads, mesh.Triangles}) {
		t.Errorf("SortedFaceTypes = %v", got)
	}
	// Mean is 1500: 500 is exactly 1000 below, 3000 is 1500 above.
	if rep.BelowAverage != 1 || rep.AboveAverage != 1 {
		t.Errorf("below %d, above %d", rep.BelowAverage, rep.AboveAverage)
	}
	if !slices.Equal(rep.Outliers, []int{1, 3}) {
		t.Errorf("Outliers = %v", rep.Outliers)
	}
	if !slices.Equal(rep.Uncentered, []int{2}) {
		t.Errorf("Uncentered = %v", rep.Uncentered)
	}
	if !slices.Equal(rep.Unscaled, []int{3}) {
		t.Errorf("Unscaled = %v", rep.Unscaled)
	}
	if !floatsAreEqual(rep.Scaling.Mean, 1.25, 1e-9) || !floatsAreEqual(rep.Centering.Max, 0.1, 1e-9) {
		t.Errorf("scaling %+v, centering %+v", rep.Scaling, rep.Centering)
	}
}

func TestCollectEmpty(t *testing.T) {
	if _, err := Collect(nil, DefaultOptions()); !errors.Is(err, ErrNoRecords) {
		t.Errorf("expected ErrNoRecords, got %v", err)
	}
}

func TestLongestEdge(t *testing.T) {
	r := &descriptor.Record{BoundsMin: r3.Vector{X: -1, Y: -3, Z: 0}, BoundsMax: r3.Vector{X: 1, Y: 1, Z: 0.5}}
	if got := LongestEdge(r); got != 4 {
		t.Errorf("LongestEdge = %f, want 4", got)
	}
}
