// Package core defines the contract shared by the exact and approximate
// nearest neighbor indexes.
//
// This file defines the VectorIndex interface and BruteForceIndex, the exact
// implementation that compares the query against every stored vector. The
// HNSW graph in package hnsw is the approximate implementation.
package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/hnsw"
	"github.com/sanonone/shaperet/pkg/core/types"
)

// ErrNotFound is returned when a query identifier is not in the index.
var ErrNotFound = errors.New("id not in index")

// --- VectorIndex Interface ---

// VectorIndex defines the read operations the retrieval engine needs from an
// index, so exact and approximate ranking can be used interchangeably.
type VectorIndex interface {
	// Search returns the k nearest neighbors of query in ascending distance.
	Search(query []float64, k int) ([]types.SearchResult, error)
	// SearchByID returns the k nearest neighbors of a stored vector,
	// never including the vector itself.
	SearchByID(id, k int) ([]types.SearchResult, error)
	// Len returns the number of stored vectors.
	Len() int
	// Metric returns the distance metric used by the index.
	Metric() distance.DistanceMetric
}

var (
	_ VectorIndex = (*BruteForceIndex)(nil)
	_ VectorIndex = (*hnsw.Index)(nil)
)

// --- BruteForceIndex Implementation ---

// BruteForceIndex stores all vectors and computes the distance to every one of
// them during a search. Results are exact, and ties are broken by identifier.
type BruteForceIndex struct {
	mu       sync.RWMutex
	metric   distance.DistanceMetric
	distFunc distance.DistanceFunc
	ids      []int
	vectors  [][]float64
	position map[int]int
}

// NewBruteForceIndex creates an empty exact index for metric.
func NewBruteForceIndex(metric distance.DistanceMetric) (*BruteForceIndex, error) {
	fn, err := distance.GetFunc(metric)
	if err != nil {
		return nil, err
	}
	return &BruteForceIndex{
		metric:   metric,
		distFunc: fn,
		position: make(map[int]int),
	}, nil
}

// Add stores vector under id. The slice is kept by reference and must not be
// modified afterwards.
func (idx *BruteForceIndex) Add(id int, vector []float64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.position[id]; exists {
		return fmt.Errorf("ID %d already exists", id)
	}
	if len(idx.vectors) > 0 && len(vector) != len(idx.vectors[0]) {
		return fmt.Errorf("vector %d: %w", id, distance.ErrDimensionMismatch)
	}
	idx.position[id] = len(idx.ids)
	idx.ids = append(idx.ids, id)
	idx.vectors = append(idx.vectors, vector)
	return nil
}

// AddBatch stores every object, stopping at the first error.
func (idx *BruteForceIndex) AddBatch(objects []types.BatchObject) error {
	for _, o := range objects {
		if err := idx.Add(o.ID, o.Vector); err != nil {
			return err
		}
	}
	return nil
}

// Search finds the k nearest vectors to the query vector.
func (idx *BruteForceIndex) Search(query []float64, k int) ([]types.SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.rank(query, k, -1, false)
}

// SearchByID ranks every other stored vector against the one stored under id.
func (idx *BruteForceIndex) SearchByID(id, k int) ([]types.SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	pos, ok := idx.position[id]
	if !ok {
		return nil, fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	return idx.rank(idx.vectors[pos], k, id, true)
}

func (idx *BruteForceIndex) rank(query []float64, k, skipID int, skip bool) ([]types.SearchResult, error) {
	if k <= 0 {
		return []types.SearchResult{}, nil
	}
	results := make([]types.SearchResult, 0, len(idx.ids))
	for i, vec := range idx.vectors {
		if skip && idx.ids[i] == skipID {
			continue
		}
		d, err := idx.distFunc(query, vec)
		if err != nil {
			return nil, err
		}
		results = append(results, types.SearchResult{ID: idx.ids[i], Distance: d})
	}

	slices.SortFunc(results, func(a, b types.SearchResult) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of stored vectors.
func (idx *BruteForceIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Metric returns the distance metric of the index.
func (idx *BruteForceIndex) Metric() distance.DistanceMetric { return idx.metric }
