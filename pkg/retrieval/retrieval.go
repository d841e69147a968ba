// Package retrieval ranks the meshes of a feature-vector collection against a
// query, either exactly under a distance metric or approximately through an
// HNSW index, and measures how well rankings agree with class labels.
package retrieval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sanonone/shaperet/pkg/core"
	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/hnsw"
	"github.com/sanonone/shaperet/pkg/core/types"
	"github.com/sanonone/shaperet/pkg/features"
)

var (
	// ErrInvalidK is returned when fewer than one neighbor is requested.
	ErrInvalidK = errors.New("k must be positive")
	// ErrNotFound is returned when a query identifier is not in the collection.
	ErrNotFound = errors.New("identifier not in collection")
)

// Neighbor is one ranked result.
type Neighbor struct {
	ID       int
	Label    string
	Distance float64
}

// Method selects how neighbors are ranked: exactly, by comparing against every
// vector, or approximately through an HNSW index.
type Method struct {
	ANN    bool
	Metric distance.DistanceMetric
}

func (m Method) String() string {
	if m.ANN {
		return "ann/" + string(m.Metric)
	}
	return "exact/" + string(m.Metric)
}

// ParseMethod accepts the query command names: "ed", "cd" and "emd" for
// exact ranking, "ann" for the Manhattan HNSW index, and "ann/<metric>" or
// "exact/<metric>" for anything else.
func ParseMethod(s string) (Method, error) {
	kind, metric, found := strings.Cut(strings.ToLower(s), "/")
	if !found {
		if kind == "ann" {
			return Method{ANN: true, Metric: distance.Manhattan}, nil
		}
		m, err := distance.ParseMetric(kind)
		return Method{Metric: m}, err
	}
	m, err := distance.ParseMetric(metric)
	if err != nil {
		return Method{}, err
	}
	switch kind {
	case "ann":
		return Method{ANN: true, Metric: m}, nil
	case "exact":
		return Method{Metric: m}, nil
	}
	return Method{}, fmt.Errorf("unknown ranking method %q", s)
}

// DefaultMethods are the rankings the accuracy report covers: the three exact
// metrics and an HNSW index per supported metric.
func DefaultMethods() []Method {
	return []Method{
		{Metric: distance.Euclidean},
		{Metric: distance.Cosine},
		{Metric: distance.EarthMover},
		{ANN: true, Metric: distance.Cosine},
		{ANN: true, Metric: distance.Euclidean},
		{ANN: true, Metric: distance.Manhattan},
		{ANN: true, Metric: distance.Dot},
	}
}

func batch(coll *features.Collection) []types.BatchObject {
	objects := make([]types.BatchObject, len(coll.Entries))
	for i, e := range coll.Entries {
		objects[i] = types.BatchObject{ID: e.ID, Vector: e.Vector}
	}
	return objects
}

// NewExactIndex indexes the collection for exact ranking under metric.
func NewExactIndex(coll *features.Collection, metric distance.DistanceMetric) (*core.BruteForceIndex, error) {
	idx, err := core.NewBruteForceIndex(metric)
	if err != nil {
		return nil, err
	}
	if err := idx.AddBatch(batch(coll)); err != nil {
		return nil, err
	}
	return idx, nil
}

// BuildANN builds an HNSW index over the collection. Entries are inserted in
// identifier order, so a given collection and seed always give the same index.
func BuildANN(coll *features.Collection, metric distance.DistanceMetric, cfg hnsw.Config) (*hnsw.Index, error) {
	return hnsw.Build(metric, cfg, batch(coll))
}

// NewIndex builds the index a method ranks with.
func NewIndex(coll *features.Collection, m Method, cfg hnsw.Config) (core.VectorIndex, error) {
	if m.ANN {
		return BuildANN(coll, m.Metric, cfg)
	}
	return NewExactIndex(coll, m.Metric)
}

// DistanceRank compares query against every vector of the collection and
// returns the k closest, never including an entry with the query's identifier.
// The query does not need to belong to the collection.
func DistanceRank(query features.Entry, coll *features.Collection, metric distance.DistanceMetric, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	idx, err := NewExactIndex(coll, metric)
	if err != nil {
		return nil, err
	}
	// One extra result covers the query appearing in its own collection.
	results, err := idx.Search(query.Vector, k+1)
	if err != nil {
		return nil, err
	}
	return label(coll, results, query.ID, k), nil
}

// ANNRank returns the k approximate nearest neighbors of the collection entry
// stored under queryID. The index must have been built from coll.
func ANNRank(queryID int, index core.VectorIndex, coll *features.Collection, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if _, ok := coll.Get(queryID); !ok {
		return nil, fmt.Errorf("%d: %w", queryID, ErrNotFound)
	}
	results, err := index.SearchByID(queryID, k)
	if err != nil {
		return nil, err
	}
	return label(coll, results, queryID, k), nil
}

// label attaches collection labels, drops the query itself and keeps k results.
func label(coll *features.Collection, results []types.SearchResult, queryID, k int) []Neighbor {
	out := make([]Neighbor, 0, k)
	for _, r := range results {
		if r.ID == queryID {
			continue
		}
		if len(out) == k {
			break
		}
		e, _ := coll.Get(r.ID)
		out = append(out, Neighbor{ID: r.ID, Label: e.Label, Distance: r.Distance})
	}
	return out
}

// VectorRank returns the k nearest neighbors of a vector that is not part of
// the collection, such as a freshly extracted mesh. index must have been
// built from coll.
func VectorRank(query []float64, index core.VectorIndex, coll *features.Collection, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	results, err := index.Search(query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Neighbor, len(results))
	for i, r := range results {
		e, _ := coll.Get(r.ID)
		out[i] = Neighbor{ID: r.ID, Label: e.Label, Distance: r.Distance}
	}
	return out, nil
}
