// Package descriptor computes the raw descriptor record of a canonical mesh:
// global scalar measurements plus five sampled shape-distribution histograms.
package descriptor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/golang/geo/r3"
	"github.com/sanonone/shaperet/pkg/geom"
	"github.com/sanonone/shaperet/pkg/mesh"
	"github.com/sanonone/shaperet/pkg/metrics"
)

// Config holds the sampling constants. They must be identical for every mesh
// of a collection, otherwise feature vectors are not comparable.
type Config struct {
	// Samples is the number of measurements drawn per distribution.
	Samples int `yaml:"samples"`
	// Bins is the number of bin edges; each histogram holds Bins-1 counts.
	Bins int `yaml:"bins"`
	// Seed makes sampling reproducible. Each mesh derives its own stream from
	// Seed and its identifier, so results do not depend on scheduling.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the sampling constants used for the benchmark collection.
func DefaultConfig() Config {
	return Config{
		Samples: 10000,
		Bins:    11,
		Seed:    1,
	}
}

// HistogramLen returns the number of counts each histogram holds.
func (c Config) HistogramLen() int {
	return c.Bins - 1
}

// Record is the raw descriptor of one mesh.
//
// HullVolume and Compactness are nil when the convex hull is undefined for
// the mesh, which marks them missing rather than zero.
type Record struct {
	ID    int
	Label string

	Vertices int
	Faces    int
	Edges    int
	FaceType mesh.FaceType

	BoundsMin  r3.Vector
	BoundsMax  r3.Vector
	Barycenter r3.Vector
	// Diagonal is the bounding box diagonal, the record's scale measure.
	Diagonal float64

	Area         float64
	BBoxVolume   float64
	HullVolume   *float64
	Compactness  *float64
	Diameter     float64
	Eccentricity float64

	// Histograms holds the L2-normalized distributions indexed by Distribution.
	Histograms [NumDistributions][]float64
}

// Histogram returns the normalized histogram of d.
func (r *Record) Histogram(d Distribution) []float64 {
	return r.Histograms[d]
}

// Extractor computes descriptor records.
type Extractor struct {
	ops mesh.Ops
	cfg Config
}

// New creates an Extractor. A nil ops uses mesh.Geometric.
func New(ops mesh.Ops, cfg Config) (*Extractor, error) {
	if ops == nil {
		ops = mesh.Geometric{}
	}
	if cfg.Samples <= 0 {
		return nil, fmt.Errorf("samples must be positive, got %d", cfg.Samples)
	}
	if cfg.Bins < 2 {
		return nil, fmt.Errorf("bins must be at least 2, got %d", cfg.Bins)
	}
	return &Extractor{ops: ops, cfg: cfg}, nil
}

// Config returns the sampling constants in use.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract computes the descriptor record of a canonical mesh.
func (e *Extractor) Extract(m *mesh.Mesh, id int, label string) (*Record, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	}()

	if err := m.Validate(); err != nil {
		return nil, err
	}

	lo, hi := m.Bounds()
	rec := &Record{
		ID:         id,
		Label:      label,
		Vertices:   len(m.Vertices),
		Faces:      len(m.Faces),
		Edges:      m.EdgeCount(),
		FaceType:   m.FaceType,
		BoundsMin:  lo,
		BoundsMax:  hi,
		Barycenter: m.Centroid(),
		Diagonal:   hi.Sub(lo).Norm(),
		Area:       m.Area(),
		BBoxVolume: m.BoundingBoxVolume(),
		Diameter:   Diameter(m.Vertices),
	}

	ecc, err := geom.Eccentricity(m.Vertices)
	switch {
	case err == nil:
		rec.Eccentricity = ecc
	case errors.Is(err, geom.ErrTooFewPoints), errors.Is(err, geom.ErrEigenFailed):
		// Unrepresentable; the feature stage drops infinite rows.
		rec.Eccentricity = math.Inf(1)
	default:
		return nil, err
	}

	hull, err := e.ops.ConvexHull(m)
	if err != nil {
		slog.Debug("[Descriptor] Convex hull unavailable", "id", id, "error", err)
		metrics.MissingFields.WithLabelValues("hull_volume").Inc()
		metrics.MissingFields.WithLabelValues("compactness").Inc()
	} else {
		hv := hull.Volume()
		rec.HullVolume = &hv
		if hv > 0 {
			c := Compactness(rec.Area, hv)
			rec.Compactness = &c
		} else {
			metrics.MissingFields.WithLabelValues("compactness").Inc()
		}
	}

	rng := rand.New(rand.NewSource(e.cfg.Seed ^ int64(id)*0x5DEECE66D))
	for _, d := range Distributions {
		counts := Sample(d, m.Vertices, rec.Barycenter, e.cfg.Samples, e.cfg.Bins, rng)
		rec.Histograms[d] = L2Normalize(counts)
	}
	return rec, nil
}

// Compactness returns area³ / (36π·volume²), which is 1 for a sphere.
func Compactness(area, volume float64) float64 {
	return area * area * area / (36 * math.Pi * volume * volume)
}

// Diameter returns the largest distance between any two vertices with an
// exhaustive pairwise scan.
func Diameter(vertices []r3.Vector) float64 {
	var best float64
	for i := range vertices {
		for j := i + 1; j < len(vertices); j++ {
			if d := vertices[i].Sub(vertices[j]).Norm2(); d > best {
				best = d
			}
		}
	}
	return math.Sqrt(best)
}
