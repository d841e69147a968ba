package core

import (
	"errors"
	"testing"

	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/types"
)

func TestBruteForceSearchByID(t *testing.T) {
	idx, err := NewBruteForceIndex(distance.Euclidean)
	if err != nil {
		t.Fatal(err)
	}
	err = idx.AddBatch([]types.BatchObject{
		{ID: 3, Vector: []float64{0, 0}},
		{ID: 1, Vector: []float64{1, 0}},
		{ID: 2, Vector: []float64{0, 1}}, // ties with 1, lower ID first
		{ID: 4, Vector: []float64{3, 4}},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := idx.SearchByID(3, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []types.SearchResult{{ID: 1, Distance: 1}, {ID: 2, Distance: 1}, {ID: 4, Distance: 5}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result %d: got %v, want %v", i, got[i], want[i])
		}
	}

	top, _ := idx.Search([]float64{3, 3.9}, 1)
	if len(top) != 1 || top[0].ID != 4 {
		t.Errorf("Search: got %v", top)
	}
}

func TestBruteForceErrors(t *testing.T) {
	if _, err := NewBruteForceIndex("hamming"); !errors.Is(err, distance.ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}
	idx, _ := NewBruteForceIndex(distance.Cosine)
	if err := idx.Add(1, []float64{1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(1, []float64{1, 2}); err == nil {
		t.Error("expected duplicate error")
	}
	if err := idx.Add(2, []float64{1}); !errors.Is(err, distance.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := idx.SearchByID(7, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
