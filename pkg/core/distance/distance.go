// Package distance provides functions for calculating distances between
// feature vectors.
//
// Vectors are compared in float64. Dot products and differences run on the
// Gonum BLAS implementation, which handles SIMD dispatch internally. A
// float16 variant of every metric exists for compact ANN index storage.
package distance

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas/gonum"
)

func init() {
	slog.Debug("[Distance] Compute engine: PURE GO / GONUM implementation",
		"cpu", cpuid.CPU.BrandName,
		"avx2", cpuid.CPU.Has(cpuid.AVX2),
		"fma3", cpuid.CPU.Has(cpuid.FMA3),
	)
}

// --- Public Types ---

// DistanceMetric defines the type of distance calculation to perform.
type DistanceMetric string

// PrecisionType defines the data type used for vector storage.
type PrecisionType string

const (
	// Euclidean is the L2 distance.
	Euclidean DistanceMetric = "euclidean"
	// Cosine is 1 - cosine similarity.
	Cosine DistanceMetric = "cosine"
	// EarthMover is the first Wasserstein distance between the value
	// distributions of the two vectors.
	EarthMover DistanceMetric = "emd"
	// Manhattan is the L1 distance.
	Manhattan DistanceMetric = "manhattan"
	// Dot is the negated dot product, so larger products rank closer.
	Dot DistanceMetric = "dot"

	// Float64 stores vectors at full precision.
	Float64 PrecisionType = "float64"
	// Float16 stores vectors as half-precision floats.
	Float16 PrecisionType = "float16"
)

var (
	// ErrDimensionMismatch is returned when two vectors differ in length.
	ErrDimensionMismatch = errors.New("vectors must have the same length")
	// ErrUnknownMetric is returned for metrics without an implementation.
	ErrUnknownMetric = errors.New("unknown distance metric")
)

// ParseMetric maps a metric name, including the short forms used on the
// command line ("ed", "cd", "emd") and the "angular" alias, to a DistanceMetric.
func ParseMetric(s string) (DistanceMetric, error) {
	switch strings.ToLower(s) {
	case "euclidean", "ed":
		return Euclidean, nil
	case "cosine", "cd", "angular":
		return Cosine, nil
	case "emd", "earthmover", "wasserstein":
		return EarthMover, nil
	case "manhattan", "l1":
		return Manhattan, nil
	case "dot":
		return Dot, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownMetric)
}

// Define function types for each precision
type DistanceFunc func(v1, v2 []float64) (float64, error)
type DistanceFuncF16 func(v1, v2 []uint16) (float64, error)

// --- WORKSPACE POOL ---

// diffWorkspace is a pool of float64 slices used to avoid allocations for
// intermediate results such as the difference of two vectors or decoded
// float16 values.
var diffWorkspace = sync.Pool{
	New: func() interface{} {
		// Feature vectors are short; 64 covers the default layout.
		s := make([]float64, 64)
		return &s
	},
}

func borrow(n int) (*[]float64, []float64) {
	p := diffWorkspace.Get().(*[]float64)
	if cap(*p) < n {
		*p = make([]float64, n)
	}
	return p, (*p)[:n]
}

var gonumEngine = gonum.Implementation{}

// euclideanGonum computes the L2 distance as the norm of the difference.
func euclideanGonum(v1, v2 []float64) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrDimensionMismatch
	}
	p, diff := borrow(n)
	defer diffWorkspace.Put(p)

	copy(diff, v1)
	gonumEngine.Daxpy(n, -1, v2, 1, diff, 1)
	return math.Sqrt(gonumEngine.Ddot(n, diff, 1, diff, 1)), nil
}

// cosineGonum computes 1 - cos(v1, v2). A zero vector is at distance 1 from everything.
func cosineGonum(v1, v2 []float64) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrDimensionMismatch
	}
	dot := gonumEngine.Ddot(n, v1, 1, v2, 1)
	n1 := gonumEngine.Dnrm2(n, v1, 1)
	n2 := gonumEngine.Dnrm2(n, v2, 1)
	if n1 == 0 || n2 == 0 {
		return 1, nil
	}
	sim := dot / (n1 * n2)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim, nil
}

// dotGonum returns the negated dot product.
func dotGonum(v1, v2 []float64) (float64, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}
	return -gonumEngine.Ddot(len(v1), v1, 1, v2, 1), nil
}

// manhattanGonum computes the L1 distance.
func manhattanGonum(v1, v2 []float64) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrDimensionMismatch
	}
	p, diff := borrow(n)
	defer diffWorkspace.Put(p)

	copy(diff, v1)
	gonumEngine.Daxpy(n, -1, v2, 1, diff, 1)
	return gonumEngine.Dasum(n, diff, 1), nil
}

// earthMover treats each vector as an empirical sample of values with equal
// weights. For two samples of the same size the first Wasserstein distance
// reduces to the mean absolute difference of the sorted values.
func earthMover(v1, v2 []float64) (float64, error) {
	n := len(v1)
	if n != len(v2) {
		return 0, ErrDimensionMismatch
	}
	if n == 0 {
		return 0, nil
	}
	p1, a := borrow(n)
	defer diffWorkspace.Put(p1)
	p2, b := borrow(n)
	defer diffWorkspace.Put(p2)

	copy(a, v1)
	copy(b, v2)
	sort.Float64s(a)
	sort.Float64s(b)
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(n), nil
}

// --- Function Catalogs and Dispatchers ---

// float64Funcs maps a distance metric to its implementation.
var float64Funcs = map[DistanceMetric]DistanceFunc{
	Euclidean:  euclideanGonum,
	Cosine:     cosineGonum,
	EarthMover: earthMover,
	Manhattan:  manhattanGonum,
	Dot:        dotGonum,
}

// GetFunc returns the distance function for metric.
func GetFunc(metric DistanceMetric) (DistanceFunc, error) {
	fn, ok := float64Funcs[metric]
	if !ok {
		return nil, fmt.Errorf("metric '%s': %w", metric, ErrUnknownMetric)
	}
	return fn, nil
}

// GetFloat16Func returns a distance function over float16-encoded vectors.
// Values are widened to float64 before the metric is applied.
func GetFloat16Func(metric DistanceMetric) (DistanceFuncF16, error) {
	fn, err := GetFunc(metric)
	if err != nil {
		return nil, err
	}
	return func(v1, v2 []uint16) (float64, error) {
		if len(v1) != len(v2) {
			return 0, ErrDimensionMismatch
		}
		p1, a := borrow(len(v1))
		defer diffWorkspace.Put(p1)
		p2, b := borrow(len(v2))
		defer diffWorkspace.Put(p2)
		DecodeFloat16(v1, a)
		DecodeFloat16(v2, b)
		return fn(a, b)
	}, nil
}

// EncodeFloat16 converts v into half-precision bit patterns.
func EncodeFloat16(v []float64) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = float16.Fromfloat32(float32(x)).Bits()
	}
	return out
}

// DecodeFloat16 widens half-precision values into dst, which must be at least len(src).
func DecodeFloat16(src []uint16, dst []float64) {
	for i, b := range src {
		dst[i] = float64(float16.Frombits(b).Float32())
	}
}
