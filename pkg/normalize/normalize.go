// Package normalize brings meshes into a canonical frame so that descriptors
// computed from different meshes are comparable.
//
// The pose pipeline runs in a fixed order: cleanup, remesh to a vertex band,
// center, align to principal axes, resolve mirror ambiguity, and scale so the
// longest bounding box edge is 1.
package normalize

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/geom"
	"github.com/sanonone/shaperet/pkg/mesh"
	"github.com/sanonone/shaperet/pkg/metrics"
)

var (
	// ErrNotConverged is returned when the vertex count did not enter the
	// target band within the configured number of remesh passes.
	ErrNotConverged = errors.New("remeshing did not converge")
	// ErrDegenerateMesh is returned when a mesh collapses to a point and cannot be scaled.
	ErrDegenerateMesh = errors.New("mesh has zero extent")
)

// Config holds the remeshing parameters.
type Config struct {
	// TargetVertices is the desired vertex count. Zero disables remeshing.
	TargetVertices int `yaml:"target_vertices"`
	// Tolerance is the accepted deviation from TargetVertices.
	Tolerance int `yaml:"tolerance"`
	// MaxIterations caps the number of remesh passes.
	MaxIterations int `yaml:"max_iterations"`
}

// DefaultConfig returns the remeshing band used for the benchmark collection.
func DefaultConfig() Config {
	return Config{
		TargetVertices: 1000,
		Tolerance:      200,
		MaxIterations:  16,
	}
}

// RemeshOutcome describes how the remesh loop ended.
type RemeshOutcome struct {
	Converged  bool
	Iterations int
	Vertices   int
}

// Report summarizes a full normalization run.
type Report struct {
	Cleanup mesh.CleanupStats
	Remesh  RemeshOutcome
	// Translation is the offset applied when centering.
	Translation r3.Vector
	// Basis holds the principal axes the mesh was projected on, major first.
	Basis [3]r3.Vector
	// Flip is the per-axis sign applied after alignment.
	Flip r3.Vector
	// ScaleFactor is the uniform scale applied last.
	ScaleFactor float64
}

// Normalizer runs the pose pipeline using the given mesh operations.
type Normalizer struct {
	ops mesh.Ops
	cfg Config
}

// New creates a Normalizer. A nil ops uses mesh.Geometric.
func New(ops mesh.Ops, cfg Config) (*Normalizer, error) {
	if ops == nil {
		ops = mesh.Geometric{}
	}
	if cfg.TargetVertices < 0 || cfg.Tolerance < 0 {
		return nil, fmt.Errorf("invalid remesh band %d±%d", cfg.TargetVertices, cfg.Tolerance)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	return &Normalizer{ops: ops, cfg: cfg}, nil
}

// Normalize returns a canonical copy of m. The input is left untouched.
func (n *Normalizer) Normalize(m *mesh.Mesh) (*mesh.Mesh, Report, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(start).Seconds())
	}()

	var rep Report
	if err := m.Validate(); err != nil {
		return nil, rep, err
	}

	out := m.Clone()
	rep.Cleanup = out.Cleanup()
	if len(out.Faces) == 0 {
		return nil, rep, mesh.ErrEmptyMesh
	}

	var err error
	out, rep.Remesh, err = n.Remesh(out)
	if err != nil {
		return nil, rep, err
	}

	rep.Translation = Center(out)
	if rep.Basis, err = Align(out); err != nil {
		return nil, rep, fmt.Errorf("align: %w", err)
	}
	rep.Flip = Flip(out)
	if rep.ScaleFactor, err = Scale(out); err != nil {
		return nil, rep, err
	}
	return out, rep, nil
}

// Remesh simplifies or subdivides m until its vertex count falls within
// [target-tolerance, target+tolerance]. Both operations may run in the same
// pass. When the band is not reached within MaxIterations the last mesh is
// returned together with ErrNotConverged.
func (n *Normalizer) Remesh(m *mesh.Mesh) (*mesh.Mesh, RemeshOutcome, error) {
	var out RemeshOutcome
	if n.cfg.TargetVertices == 0 {
		out.Converged = true
		out.Vertices = len(m.Vertices)
		return m, out, nil
	}

	target, tol := n.cfg.TargetVertices, n.cfg.Tolerance
	for {
		v := len(m.Vertices)
		out.Vertices = v
		if v >= target-tol && v <= target+tol {
			out.Converged = true
			break
		}
		if out.Iterations >= n.cfg.MaxIterations {
			break
		}
		out.Iterations++

		var err error
		if v > target+tol {
			faces := int(math.Round(float64(len(m.Faces)) * float64(target) / float64(v)))
			if m, err = n.ops.Simplify(m, faces); err != nil {
				return nil, out, fmt.Errorf("simplify: %w", err)
			}
		}
		if len(m.Vertices) < target-tol {
			if m, err = n.ops.Subdivide(m); err != nil {
				return nil, out, fmt.Errorf("subdivide: %w", err)
			}
		}
	}

	metrics.RemeshIterations.WithLabelValues(strconv.FormatBool(out.Converged)).Observe(float64(out.Iterations))
	if !out.Converged {
		slog.Warn("[Normalize] Remesh did not converge", "vertices", out.Vertices, "target", target, "tolerance", tol, "iterations", out.Iterations)
		return m, out, fmt.Errorf("%d vertices after %d passes (target %d±%d): %w", out.Vertices, out.Iterations, target, tol, ErrNotConverged)
	}
	return m, out, nil
}

// Center translates m so its centroid is the origin and returns the offset applied.
func Center(m *mesh.Mesh) r3.Vector {
	d := m.Centroid().Mul(-1)
	m.Translate(d)
	return d
}

// Align rotates m into its principal-axis frame: x along the direction of
// largest variance, y the middle one, z their cross product.
func Align(m *mesh.Mesh) ([3]r3.Vector, error) {
	axes, err := geom.PrincipalAxes(m.Vertices)
	if err != nil {
		return [3]r3.Vector{}, err
	}
	major, middle := axes.Vectors[0], axes.Vectors[1]
	basis := [3]r3.Vector{major, middle, geom.Normalize(major.Cross(middle))}
	m.Project(basis)
	return basis, nil
}

// Flip mirrors m per axis so that most of the mass, measured by the signed
// squared face centroid coordinates, lies on the positive side.
// An axis with perfectly balanced mass keeps its orientation.
func Flip(m *mesh.Mesh) r3.Vector {
	var f r3.Vector
	for _, c := range m.FaceCentroids() {
		f.X += sign(c.X) * c.X * c.X
		f.Y += sign(c.Y) * c.Y * c.Y
		f.Z += sign(c.Z) * c.Z * c.Z
	}
	s := r3.Vector{X: sign(f.X), Y: sign(f.Y), Z: sign(f.Z)}
	if s.X == 0 {
		s.X = 1
	}
	if s.Y == 0 {
		s.Y = 1
	}
	if s.Z == 0 {
		s.Z = 1
	}
	m.ScaleAxes(s)
	return s
}

// Scale uniformly rescales m so its longest bounding box edge is 1, which fits
// it in a unit cube. It returns the factor applied.
func Scale(m *mesh.Mesh) (float64, error) {
	longest := m.LongestExtent()
	if longest == 0 {
		return 0, ErrDegenerateMesh
	}
	s := 1 / longest
	m.Scale(s)
	return s, nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
