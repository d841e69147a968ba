package features

import (
	"errors"
	"math"
	"testing"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"gonum.org/v1/gonum/stat"
)

func ptr(v float64) *float64 { return &v }

func record(id int, label string, base float64, histLen int) *descriptor.Record {
	r := &descriptor.Record{
		ID:           id,
		Label:        label,
		Area:         base,
		BBoxVolume:   base * 2,
		HullVolume:   ptr(base * 0.5),
		Compactness:  ptr(1 + base/10),
		Diameter:     base / 3,
		Eccentricity: 2 + base,
	}
	for _, d := range descriptor.Distributions {
		h := make([]float64, histLen)
		h[(id+int(d))%histLen] = 1
		r.Histograms[d] = h
	}
	return r
}

func TestWeights(t *testing.T) {
	w := DefaultWeights()
	if err := w.Validate(); err != nil {
		t.Fatal(err)
	}
	if w.Scalar()*NumScalars >= w.Histogram()*descriptor.NumDistributions {
		t.Error("histograms should carry more total weight than scalars by default")
	}
	if err := (Weights{Gap: 0.7}).Validate(); !errors.Is(err, ErrWeights) {
		t.Errorf("expected ErrWeights, got %v", err)
	}
}

func TestFitTransformShape(t *testing.T) {
	const bins = 9
	var recs []*descriptor.Record
	for i := 0; i < 8; i++ {
		recs = append(recs, record(i, "x", float64(i+1), bins-1))
	}
	coll, model, err := FitTransform(recs, DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	want := NumScalars + descriptor.NumDistributions*(bins-1)
	if coll.Dim != want || model.Dim() != want {
		t.Fatalf("dim = %d/%d, want %d", coll.Dim, model.Dim(), want)
	}
	for _, e := range coll.Entries {
		if len(e.Vector) != want {
			t.Errorf("entry %d has length %d", e.ID, len(e.Vector))
		}
	}

	// Standardized then weighted scalars: mean 0, population std = weight.
	col := make([]float64, coll.Len())
	for f := 0; f < NumScalars; f++ {
		for i, e := range coll.Entries {
			col[i] = e.Vector[f]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if math.Abs(mean) > 1e-9 {
			t.Errorf("%s mean = %g", Scalar(f), mean)
		}
		if math.Abs(std-model.Weights.Scalar()) > 1e-9 {
			t.Errorf("%s std = %g, want %g", Scalar(f), std, model.Weights.Scalar())
		}
	}

	// Histogram part is the record histogram times the histogram weight.
	e, _ := coll.Get(3)
	h := recs[3].Histograms[descriptor.D1]
	off := NumScalars + int(descriptor.D1)*(bins-1)
	for i, v := range h {
		if math.Abs(e.Vector[off+i]-v*model.Weights.Histogram()) > 1e-12 {
			t.Fatalf("histogram value %d mismatch", i)
		}
	}
}

func TestFitTransformDropsUnusable(t *testing.T) {
	recs := []*descriptor.Record{
		record(1, "a", 1, 4),
		record(2, "a", 2, 4),
		record(3, "b", 3, 4),
		record(4, "b", 4, 4),
	}
	recs[1].HullVolume = nil
	recs[2].Eccentricity = math.Inf(1)
	recs[3].Histograms[descriptor.A3][0] = math.NaN()

	coll, _, err := FitTransform(recs, DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	if coll.Len() != 2 {
		t.Fatalf("kept %d entries, want 2", coll.Len())
	}
	if _, ok := coll.Get(2); ok {
		t.Error("record with missing hull volume was kept")
	}
	if _, ok := coll.Get(3); ok {
		t.Error("record with infinite eccentricity was kept")
	}
	e, ok := coll.Get(4)
	if !ok {
		t.Fatal("record with NaN histogram entry should be kept with zero substituted")
	}
	if e.Vector[NumScalars] != 0 {
		t.Errorf("NaN not replaced by zero: %f", e.Vector[NumScalars])
	}
	if !math.IsNaN(recs[3].Histograms[descriptor.A3][0]) {
		t.Error("FitTransform modified the input record")
	}
}

func TestFitTransformErrors(t *testing.T) {
	if _, _, err := FitTransform(nil, DefaultWeights()); !errors.Is(err, ErrEmptyCollection) {
		t.Errorf("expected ErrEmptyCollection, got %v", err)
	}
	recs := []*descriptor.Record{record(1, "a", 1, 4), record(2, "a", 2, 5)}
	if _, _, err := FitTransform(recs, DefaultWeights()); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}
	only := record(1, "a", 1, 4)
	only.Compactness = nil
	if _, _, err := FitTransform([]*descriptor.Record{only}, DefaultWeights()); !errors.Is(err, ErrEmptyCollection) {
		t.Errorf("expected ErrEmptyCollection, got %v", err)
	}
}

func TestModelVectorMatchesCollection(t *testing.T) {
	var recs []*descriptor.Record
	for i := 0; i < 5; i++ {
		recs = append(recs, record(i, "x", float64(i*i+1), 6))
	}
	coll, model, err := FitTransform(recs, DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	// A query record transformed on its own matches its collection vector.
	q, err := model.Vector(recs[2])
	if err != nil {
		t.Fatal(err)
	}
	e, _ := coll.Get(2)
	for i := range q {
		if q[i] != e.Vector[i] {
			t.Fatalf("component %d: %f vs %f", i, q[i], e.Vector[i])
		}
	}

	bad := record(9, "x", 1, 6)
	bad.Compactness = nil
	if _, err := model.Vector(bad); !errors.Is(err, ErrUnusable) {
		t.Errorf("expected ErrUnusable, got %v", err)
	}
}

func TestConstantFieldDoesNotProduceNaN(t *testing.T) {
	recs := []*descriptor.Record{record(1, "a", 5, 3), record(2, "a", 5, 3)}
	coll, _, err := FitTransform(recs, DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	if coll.Len() != 2 {
		t.Fatalf("constant collection lost entries: %d", coll.Len())
	}
	for _, v := range coll.Entries[0].Vector[:NumScalars] {
		if v != 0 {
			t.Errorf("constant field standardized to %f, want 0", v)
		}
	}
}
