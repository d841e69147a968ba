package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/labels"
	"github.com/sanonone/shaperet/pkg/mesh"
	"github.com/sanonone/shaperet/pkg/meshio"
	"github.com/sanonone/shaperet/pkg/normalize"
)

func newTestPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	return newTestPipelineOps(t, nil, opts)
}

func newTestPipelineOps(t *testing.T, ops mesh.Ops, opts Options) *Pipeline {
	t.Helper()
	// Remeshing disabled to keep the test fast.
	n, err := normalize.New(nil, normalize.Config{TargetVertices: 0, MaxIterations: 1})
	if err != nil {
		t.Fatal(err)
	}
	e, err := descriptor.New(ops, descriptor.Config{Samples: 500, Bins: 6, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	r := labels.New(map[string][]int{"ball": {1}, "crate": {2}})
	return New(n, e, r, opts)
}

func writeCollection(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	save := func(name string, m *mesh.Mesh) {
		if err := meshio.Save(filepath.Join(dir, name), m); err != nil {
			t.Fatal(err)
		}
	}
	save("m1.off", mesh.Icosphere(2))
	save("m2.off", mesh.Box(1, 2, 3))
	save("chair.off", mesh.Tetrahedron())
	if err := os.WriteFile(filepath.Join(dir, "m3.off"), []byte("OFF\nbroken"), 0o644); err != nil {
		t.Fatal(err)
	}
	paths, err := meshio.Find(dir)
	if err != nil {
		t.Fatal(err)
	}
	return paths
}

func TestItems(t *testing.T) {
	p := newTestPipeline(t, Options{Workers: 1})
	items := p.Items([]string{"db/m2.off", "db/x.off", "db/m1.off", "db/y.off"})

	want := []Item{
		{Path: "db/m1.off", ID: 1, Label: "ball"},
		{Path: "db/m2.off", ID: 2, Label: "crate"},
		{Path: "db/x.off", ID: -1, Label: labels.Unlabeled},
		{Path: "db/y.off", ID: -2, Label: labels.Unlabeled},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items", len(items))
	}
	for i := range want {
		if items[i] != want[i] {
			t.Errorf("item %d: got %+v, want %+v", i, items[i], want[i])
		}
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	out := t.TempDir()
	p := newTestPipeline(t, Options{Workers: 3, OutputDir: out})
	items := p.Items(writeCollection(t))

	sum, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Records.Len() != 3 {
		t.Errorf("got %d records, want 3", sum.Records.Len())
	}
	if len(sum.Failures) != 1 || sum.Failures[0].ID != 3 {
		t.Fatalf("unexpected failures %v", sum.Failures)
	}
	if !errors.Is(sum.Failures[0], meshio.ErrFormat) {
		t.Errorf("failure should wrap ErrFormat: %v", sum.Failures[0].Err)
	}

	ball, ok := sum.Records.Get(1)
	if !ok || ball.Label != "ball" {
		t.Fatalf("record 1 missing or mislabeled: %+v", ball)
	}
	if len(ball.Histograms[descriptor.D2]) != 5 {
		t.Errorf("histogram length %d, want 5", len(ball.Histograms[descriptor.D2]))
	}
	if anon, ok := sum.Records.Get(-1); !ok || anon.Label != labels.Unlabeled {
		t.Errorf("mesh without model number should be kept unlabeled")
	}

	saved, err := meshio.Load(filepath.Join(out, "m2.off"))
	if err != nil {
		t.Fatal(err)
	}
	if d := saved.LongestExtent(); math.Abs(d-1) > 1e-6 {
		t.Errorf("saved mesh longest extent = %f, want 1", d)
	}
}

func TestRunCancelled(t *testing.T) {
	p := newTestPipeline(t, Options{Workers: 2})
	items := p.Items(writeCollection(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := p.Run(ctx, items)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sum == nil || sum.Skipped != len(items) || sum.Records.Len() != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestProcessInMemory(t *testing.T) {
	p := newTestPipeline(t, Options{})
	rec, canon, rep, err := p.Process(mesh.Tetrahedron(), 9, "test")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != 9 || rec.Label != "test" || rec.Vertices != 4 {
		t.Errorf("unexpected record %+v", rec)
	}
	if c := canon.Centroid(); c.Norm() > 1e-6 {
		t.Errorf("centroid %v not at origin", c)
	}
	if rep.ScaleFactor <= 0 {
		t.Errorf("scale factor %f", rep.ScaleFactor)
	}
}

// cancellingOps cancels the run from inside the n-th convex hull call.
type cancellingOps struct {
	mesh.Geometric
	calls  atomic.Int32
	n      int32
	cancel context.CancelFunc
}

func (o *cancellingOps) ConvexHull(m *mesh.Mesh) (*mesh.Mesh, error) {
	if o.calls.Add(1) == o.n {
		o.cancel()
	}
	return o.Geometric.ConvexHull(m)
}

func TestRunCancelledMidway(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 6; i++ {
		path := filepath.Join(dir, fmt.Sprintf("m%d.off", i))
		if err := meshio.Save(path, mesh.Icosphere(1)); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := meshio.Find(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ops := &cancellingOps{n: 2, cancel: cancel}
	p := newTestPipelineOps(t, ops, Options{Workers: 1})
	items := p.Items(paths)

	sum, err := p.Run(ctx, items)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(sum.Failures) != 0 {
		t.Errorf("cancellation should not produce failures: %v", sum.Failures)
	}
	// The mesh being extracted when the run was cancelled still completes.
	if sum.Records.Len() != 2 {
		t.Errorf("got %d records, want 2", sum.Records.Len())
	}
	if _, ok := sum.Records.Get(2); !ok {
		t.Error("record 2 finished before cancellation took effect and should be kept")
	}
	if sum.Skipped != 4 {
		t.Errorf("got %d skipped, want 4", sum.Skipped)
	}
}

// panickingOps panics on the mesh with the given vertex count.
type panickingOps struct {
	mesh.Geometric
	vertices int
}

func (o panickingOps) ConvexHull(m *mesh.Mesh) (*mesh.Mesh, error) {
	if len(m.Vertices) == o.vertices {
		panic("hull exploded")
	}
	return o.Geometric.ConvexHull(m)
}

func TestRunIsolatesPanics(t *testing.T) {
	p := newTestPipelineOps(t, panickingOps{vertices: 8}, Options{Workers: 2})
	items := p.Items(writeCollection(t))

	sum, err := p.Run(context.Background(), items)
	if err != nil {
		t.Fatal(err)
	}
	// m2 is the box (8 vertices), m3 is unreadable.
	if len(sum.Failures) != 2 || sum.Failures[0].ID != 2 || sum.Failures[1].ID != 3 {
		t.Fatalf("unexpected failures %v", sum.Failures)
	}
	if sum.Records.Len() != 2 {
		t.Errorf("got %d records, want 2", sum.Records.Len())
	}
}
