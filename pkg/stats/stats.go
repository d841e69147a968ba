// Package stats summarizes a descriptor collection: vertex and face counts,
// face layouts, outliers and how well the pose normalizer centered and scaled
// every mesh.
package stats

import (
	"errors"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/mesh"
)

var ErrNoRecords = errors.New("no records")

// Options tune the checks.
type Options struct {
	// Threshold is the distance from the mean vertex count beyond which a
	// mesh counts as below or above average.
	Threshold float64
	// CenterEpsilon is the largest barycenter distance from the origin
	// accepted as centered.
	CenterEpsilon float64
	// ScaleTolerance is the largest accepted deviation of the longest
	// bounding box edge from 1.
	ScaleTolerance float64
}

// DefaultOptions returns the thresholds used for the benchmark collection.
func DefaultOptions() Options {
	return Options{Threshold: 1000, CenterEpsilon: 1e-5, ScaleTolerance: 1e-5}
}

// Summary holds the minimum, mean and maximum of one measurement.
type Summary struct {
	Min  float64
	Mean float64
	Max  float64
}

func summarize(x []float64) Summary {
	return Summary{Min: floats.Min(x), Mean: stat.Mean(x, nil), Max: floats.Max(x)}
}

// Report is the outcome of Collect.
type Report struct {
	Meshes    int
	Vertices  Summary
	Faces     Summary
	FaceTypes map[mesh.FaceType]int

	// BelowAverage and AboveAverage count meshes whose vertex count is at
	// least Threshold away from the mean.
	BelowAverage int
	AboveAverage int
	// Outliers lists, in ascending order, the meshes holding the minimum or
	// maximum vertex or face count.
	Outliers []int

	// Centering summarizes the barycenter distance from the origin.
	Centering  Summary
	Uncentered []int
	// Scaling summarizes the longest bounding box edge.
	Scaling  Summary
	Unscaled []int
}

// SortedFaceTypes returns the face layouts present in the collection in
// name order.
func (r Report) SortedFaceTypes() []mesh.FaceType {
	return slices.Sorted(maps.Keys(r.FaceTypes))
}

// LongestEdge returns the longest edge of the record's bounding box.
func LongestEdge(r *descriptor.Record) float64 {
	d := r.BoundsMax.Sub(r.BoundsMin)
	return max(math.Abs(d.X), math.Abs(d.Y), math.Abs(d.Z))
}

// Collect computes the report over records.
func Collect(records []*descriptor.Record, opts Options) (Report, error) {
	n := len(records)
	if n == 0 {
		return Report{}, ErrNoRecords
	}

	verts := make([]float64, n)
	faces := make([]float64, n)
	center := make([]float64, n)
	scale := make([]float64, n)
	rep := Report{Meshes: n, FaceTypes: make(map[mesh.FaceType]int)}
	for i, r := range records {
		verts[i] = float64(r.Vertices)
		faces[i] = float64(r.Faces)
		center[i] = r.Barycenter.Norm()
		scale[i] = LongestEdge(r)
		rep.FaceTypes[r.FaceType]++
	}
	rep.Vertices = summarize(verts)
	rep.Faces = summarize(faces)
	rep.Centering = summarize(center)
	rep.Scaling = summarize(scale)

	outliers := make(map[int]struct{})
	for i, r := range records {
		switch {
		case verts[i] <= rep.Vertices.Mean-opts.Threshold:
			rep.BelowAverage++
		case verts[i] >= rep.Vertices.Mean+opts.Threshold:
			rep.AboveAverage++
		}
		if verts[i] == rep.Vertices.Min || verts[i] == rep.Vertices.Max ||
			faces[i] == rep.Faces.Min || faces[i] == rep.Faces.Max {
			outliers[r.ID] = struct{}{}
		}
		if center[i] > opts.CenterEpsilon {
			rep.Uncentered = append(rep.Uncentered, r.ID)
		}
		if math.Abs(scale[i]-1) > opts.ScaleTolerance {
			rep.Unscaled = append(rep.Unscaled, r.ID)
		}
	}
	for id := range outliers {
		rep.Outliers = append(rep.Outliers, id)
	}
	slices.Sort(rep.Outliers)
	slices.Sort(rep.Uncentered)
	slices.Sort(rep.Unscaled)
	return rep, nil
}
