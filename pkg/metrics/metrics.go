package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Define global variables for metrics.
// We use 'promauto' which automatically registers metrics without complex initialization.

var (
	// 1. Meshes Processed (Counter)
	// Counts every mesh that went through the batch pipeline, labeled by outcome
	// ("ok", "failed", "cancelled").
	MeshesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shaperet_meshes_processed_total",
			Help: "Total number of meshes processed by the batch pipeline",
		},
		[]string{"outcome"},
	)

	// 2. Remesh Iterations (Histogram)
	// How many simplify/subdivide passes a mesh needed to reach the target band.
	RemeshIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shaperet_remesh_iterations",
			Help:    "Number of remeshing passes per mesh",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12, 16, 32},
		},
		[]string{"converged"},
	)

	// 3. Stage Duration (Histogram)
	// Time spent in normalization and descriptor extraction per mesh.
	// The O(n²) diameter scan dominates extraction for large meshes.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shaperet_stage_duration_seconds",
			Help:    "Duration of a pipeline stage for a single mesh in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// 4. Missing Fields (Counter)
	// Volume-dependent fields left empty because the hull was degenerate.
	MissingFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shaperet_descriptor_missing_fields_total",
			Help: "Number of descriptor fields recorded as missing",
		},
		[]string{"field"},
	)

	// 5. Index Size (Gauge)
	// Tracks the number of vectors held by each ANN index.
	IndexVectors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shaperet_index_vectors",
			Help: "Number of vectors in the ANN index",
		},
		[]string{"metric"},
	)

	// 6. Majority Accuracy (Gauge)
	// Last evaluated majority-label accuracy per metric and retrieval method.
	MajorityAccuracy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shaperet_majority_accuracy_ratio",
			Help: "Fraction of queries whose majority neighbor label matches their own",
		},
		[]string{"method", "metric"},
	)
)
