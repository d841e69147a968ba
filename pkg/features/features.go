// Package features turns a collection of raw descriptor records into
// comparable feature vectors: scalar fields are standardized across the whole
// collection, both tiers are weighted, and everything is concatenated in a
// fixed field order.
package features

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrEmptyCollection is returned when no record survives filtering.
	ErrEmptyCollection = errors.New("no usable records in collection")
	// ErrWeights is returned when the two weight tiers do not sum to 1.
	ErrWeights = errors.New("feature weights do not sum to 1")
	// ErrShapeMismatch is returned when histogram lengths differ across records.
	ErrShapeMismatch = errors.New("histogram length differs from collection")
	// ErrUnusable is returned when a single record cannot be turned into a vector.
	ErrUnusable = errors.New("record has missing or non-finite fields")
)

// Scalar identifies a single-valued descriptor field.
type Scalar int

const (
	Area Scalar = iota
	Compactness
	BBoxVolume
	HullVolume
	Diameter
	Eccentricity

	// NumScalars is the number of scalar fields in a feature vector.
	NumScalars = 6
)

// Scalars lists the scalar fields in feature-vector order.
var Scalars = [NumScalars]Scalar{Area, Compactness, BBoxVolume, HullVolume, Diameter, Eccentricity}

func (s Scalar) String() string {
	return [...]string{"area", "compactness", "bbox_volume", "hull_volume", "diameter", "eccentricity"}[s]
}

// scalars extracts the scalar fields of r. ok is false when a volume
// dependent field is missing.
func scalars(r *descriptor.Record) (v [NumScalars]float64, ok bool) {
	if r.HullVolume == nil || r.Compactness == nil {
		return v, false
	}
	v[Area] = r.Area
	v[Compactness] = *r.Compactness
	v[BBoxVolume] = r.BBoxVolume
	v[HullVolume] = *r.HullVolume
	v[Diameter] = r.Diameter
	v[Eccentricity] = r.Eccentricity
	return v, true
}

// Weights splits the total weight between the scalar and histogram tiers.
type Weights struct {
	// Gap shifts weight from the scalar tier to the histogram tier:
	// scalars share 1/2-Gap and histograms share 1/2+Gap.
	Gap float64 `yaml:"gap"`
}

// DefaultWeights gives histograms slightly more than half of the total weight.
func DefaultWeights() Weights {
	return Weights{Gap: 0.05}
}

// Scalar returns the weight applied to each scalar field.
func (w Weights) Scalar() float64 {
	return (0.5 - w.Gap) / NumScalars
}

// Histogram returns the weight applied to each histogram.
func (w Weights) Histogram() float64 {
	return (0.5 + w.Gap) / descriptor.NumDistributions
}

// Validate checks that both tiers are non-negative and sum to 1.
func (w Weights) Validate() error {
	s, h := w.Scalar(), w.Histogram()
	if s < 0 || h < 0 {
		return fmt.Errorf("gap %f: %w", w.Gap, ErrWeights)
	}
	if total := s*NumScalars + h*descriptor.NumDistributions; math.Abs(total-1) > 1e-12 {
		return fmt.Errorf("total %f: %w", total, ErrWeights)
	}
	return nil
}

// Scaler standardizes each scalar field to zero mean and unit variance.
type Scaler struct {
	Mean  [NumScalars]float64
	Scale [NumScalars]float64
}

// Fit computes per-field mean and population standard deviation. A constant
// field gets a scale of 1 so it maps to zero instead of NaN.
func (s *Scaler) Fit(rows [][NumScalars]float64) {
	col := make([]float64, len(rows))
	for f := 0; f < NumScalars; f++ {
		for i, r := range rows {
			col[i] = r[f]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean[f], s.Scale[f] = mean, std
	}
}

// Transform standardizes one row.
func (s *Scaler) Transform(row [NumScalars]float64) [NumScalars]float64 {
	for f := range row {
		row[f] = (row[f] - s.Mean[f]) / s.Scale[f]
	}
	return row
}

// Model is the fitted state needed to turn a record into a feature vector
// consistent with the collection it was fitted on.
type Model struct {
	Scaler       Scaler
	Weights      Weights
	HistogramLen int
}

// Dim returns the feature vector length.
func (m *Model) Dim() int {
	return NumScalars + descriptor.NumDistributions*m.HistogramLen
}

// Vector builds the weighted feature vector of r.
func (m *Model) Vector(r *descriptor.Record) ([]float64, error) {
	row, ok := sanitize(r, m.HistogramLen)
	if !ok {
		return nil, fmt.Errorf("record %d: %w", r.ID, ErrUnusable)
	}
	std := m.Scaler.Transform(row)

	vec := make([]float64, 0, m.Dim())
	ws, wh := m.Weights.Scalar(), m.Weights.Histogram()
	for _, v := range std {
		vec = append(vec, v*ws)
	}
	for _, d := range descriptor.Distributions {
		for _, v := range r.Histograms[d] {
			if math.IsNaN(v) {
				v = 0
			}
			vec = append(vec, v*wh)
		}
	}
	for _, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("record %d: %w", r.ID, ErrUnusable)
		}
	}
	return vec, nil
}

// sanitize reports whether the record is usable: volume fields present,
// scalars finite, histograms of the expected length and free of infinities.
// NaN histogram entries are allowed; Vector reads them as zero.
func sanitize(r *descriptor.Record, histLen int) ([NumScalars]float64, bool) {
	row, ok := scalars(r)
	if !ok {
		return row, false
	}
	for _, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return row, false
		}
	}
	for _, d := range descriptor.Distributions {
		h := r.Histograms[d]
		if len(h) != histLen {
			return row, false
		}
		for _, v := range h {
			if math.IsInf(v, 0) {
				return row, false
			}
		}
	}
	return row, true
}

// Entry is one mesh of a feature-vector collection.
type Entry struct {
	ID     int
	Label  string
	Vector []float64
}

// Collection is a set of feature vectors sharing one length and field order,
// sorted by identifier.
type Collection struct {
	Entries []Entry
	Dim     int
	byID    map[int]int
}

// NewCollection indexes entries by identifier. All vectors must share a length.
func NewCollection(entries []Entry) (*Collection, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCollection
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Collection{Entries: sorted, Dim: len(sorted[0].Vector), byID: make(map[int]int, len(sorted))}
	for i, e := range sorted {
		if len(e.Vector) != c.Dim {
			return nil, fmt.Errorf("entry %d has %d values, want %d: %w", e.ID, len(e.Vector), c.Dim, ErrShapeMismatch)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate identifier %d", e.ID)
		}
		c.byID[e.ID] = i
	}
	return c, nil
}

// Get returns the entry with the given identifier.
func (c *Collection) Get(id int) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.Entries[i], true
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	return len(c.Entries)
}

// FitTransform fits a scaler on every usable record and returns the weighted
// feature vectors. Records with missing volume fields or non-finite values
// are dropped, never imputed.
func FitTransform(records []*descriptor.Record, w Weights) (*Collection, *Model, error) {
	if err := w.Validate(); err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, ErrEmptyCollection
	}

	histLen := len(records[0].Histograms[descriptor.A3])
	for _, r := range records {
		for _, d := range descriptor.Distributions {
			if len(r.Histograms[d]) != histLen {
				return nil, nil, fmt.Errorf("record %d %s: %w", r.ID, d, ErrShapeMismatch)
			}
		}
	}

	kept := make([]*descriptor.Record, 0, len(records))
	rows := make([][NumScalars]float64, 0, len(records))
	for _, r := range records {
		row, ok := sanitize(r, histLen)
		if !ok {
			continue
		}
		kept = append(kept, r)
		rows = append(rows, row)
	}
	if dropped := len(records) - len(kept); dropped > 0 {
		slog.Info("[Features] Dropped unusable records", "dropped", dropped, "kept", len(kept))
	}
	if len(kept) == 0 {
		return nil, nil, ErrEmptyCollection
	}

	model := &Model{Weights: w, HistogramLen: histLen}
	model.Scaler.Fit(rows)

	entries := make([]Entry, 0, len(kept))
	for _, r := range kept {
		vec, err := model.Vector(r)
		if err != nil {
			slog.Warn("[Features] Dropped record after standardization", "id", r.ID, "error", err)
			continue
		}
		entries = append(entries, Entry{ID: r.ID, Label: r.Label, Vector: vec})
	}
	coll, err := NewCollection(entries)
	if err != nil {
		return nil, nil, err
	}
	return coll, model, nil
}
