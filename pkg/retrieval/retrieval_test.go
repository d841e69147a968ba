package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/hnsw"
	"github.com/sanonone/shaperet/pkg/features"
)

// twoClusters returns 5 meshes labeled "A" near (1,0,0,0) and 5 labeled "B"
// near (0,0,1,0).
func twoClusters(t *testing.T, extra ...features.Entry) *features.Collection {
	t.Helper()
	var entries []features.Entry
	for i := 0; i < 5; i++ {
		off := 0.01 * float64(i)
		entries = append(entries,
			features.Entry{ID: 1 + i, Label: "A", Vector: []float64{1, off, 0, 0}},
			features.Entry{ID: 6 + i, Label: "B", Vector: []float64{0, off, 1, 0}},
		)
	}
	coll, err := features.NewCollection(append(entries, extra...))
	if err != nil {
		t.Fatal(err)
	}
	return coll
}

func TestDistanceRankExcludesQuery(t *testing.T) {
	coll := twoClusters(t)
	for id := 1; id <= 5; id++ {
		q, _ := coll.Get(id)
		got, err := DistanceRank(q, coll, distance.Euclidean, 4)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 4 {
			t.Fatalf("query %d: got %d neighbors", id, len(got))
		}
		for i, n := range got {
			if n.ID == id {
				t.Errorf("query %d returned itself", id)
			}
			if n.Label != "A" {
				t.Errorf("query %d: neighbor %d has label %s", id, n.ID, n.Label)
			}
			if i > 0 && n.Distance < got[i-1].Distance {
				t.Errorf("query %d: neighbors not sorted", id)
			}
		}
	}
}

func TestDistanceRankFreeQuery(t *testing.T) {
	coll := twoClusters(t)
	got, err := DistanceRank(features.Entry{ID: -1, Vector: []float64{0, 0.02, 0.9, 0}}, coll, distance.Cosine, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != 8 {
		t.Errorf("got %v, want nearest 8", got)
	}
	if _, err := DistanceRank(features.Entry{}, coll, distance.Euclidean, 0); !errors.Is(err, ErrInvalidK) {
		t.Errorf("expected ErrInvalidK, got %v", err)
	}
}

func TestANNRank(t *testing.T) {
	coll := twoClusters(t)
	idx, err := BuildANN(coll, distance.Manhattan, hnsw.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	got, err := ANNRank(7, idx, coll, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d neighbors", len(got))
	}
	for _, n := range got {
		if n.ID == 7 || n.Label != "B" {
			t.Errorf("unexpected neighbor %+v", n)
		}
	}
	if _, err := ANNRank(42, idx, coll, 4); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMajorityLabel(t *testing.T) {
	cases := []struct {
		name      string
		neighbors []Neighbor
		want      string
		ok        bool
	}{
		{"empty", nil, "", false},
		{"clear majority", []Neighbor{{Label: "x"}, {Label: "y"}, {Label: "y"}}, "y", true},
		{"tie goes to nearest", []Neighbor{{Label: "x"}, {Label: "y"}, {Label: "y"}, {Label: "x"}}, "x", true},
		{"tie skips nearer loser", []Neighbor{{Label: "z"}, {Label: "y"}, {Label: "x"}, {Label: "x"}, {Label: "y"}}, "y", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MajorityLabel(tc.neighbors)
			if got != tc.want || ok != tc.ok {
				t.Errorf("got %q, %v; want %q, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestEvaluateAccuracyTwoClusters(t *testing.T) {
	coll := twoClusters(t)
	methods := []Method{
		{Metric: distance.Euclidean},
		{Metric: distance.Cosine},
		{ANN: true, Metric: distance.Euclidean},
		{ANN: true, Metric: distance.Manhattan},
	}
	stats, err := EvaluateAccuracy(context.Background(), coll, 4, methods, hnsw.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != len(methods) {
		t.Fatalf("got %d stats", len(stats))
	}
	for i, s := range stats {
		if s.Method != methods[i] {
			t.Errorf("stats out of order: %s at %d", s.Method, i)
		}
		if s.Queries != 10 || s.MajorityRate != 1 || s.MinMatches != 4 || s.MaxMatches != 4 || s.MeanMatches != 4 {
			t.Errorf("%s: unexpected stats %+v", s.Method, s)
		}
		if len(s.PerLabel) != 2 {
			t.Fatalf("%s: got %d labels", s.Method, len(s.PerLabel))
		}
		for _, lr := range s.PerLabel {
			if lr.Rate != 1 || lr.Queries != 5 {
				t.Errorf("%s: label %s rate %f over %d", s.Method, lr.Label, lr.Rate, lr.Queries)
			}
		}
		if s.PerLabel[0].Label != "A" {
			t.Errorf("%s: equal rates should sort by label", s.Method)
		}
	}
}

func TestEvaluateAccuracyPerLabelOrder(t *testing.T) {
	// A lone "C" sits inside the A cluster, so its neighbors are all A.
	coll := twoClusters(t, features.Entry{ID: 11, Label: "C", Vector: []float64{1, 0.025, 0, 0}})
	stats, err := EvaluateAccuracy(context.Background(), coll, 4, []Method{{Metric: distance.Euclidean}}, hnsw.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	s := stats[0]
	if s.MinMatches != 0 {
		t.Errorf("MinMatches = %d, want 0", s.MinMatches)
	}
	if s.MajorityMatches != 10 {
		t.Errorf("MajorityMatches = %d, want 10", s.MajorityMatches)
	}
	last := s.PerLabel[len(s.PerLabel)-1]
	if last.Label != "C" || last.Rate != 0 {
		t.Errorf("worst label should be C at 0, got %+v", last)
	}
}

func TestEvaluateAccuracyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := EvaluateAccuracy(ctx, twoClusters(t), 4, DefaultMethods(), hnsw.DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]Method{
		"ed":          {Metric: distance.Euclidean},
		"cd":          {Metric: distance.Cosine},
		"emd":         {Metric: distance.EarthMover},
		"ann":         {ANN: true, Metric: distance.Manhattan},
		"ann/angular": {ANN: true, Metric: distance.Cosine},
		"exact/l1":    {Metric: distance.Manhattan},
	}
	for in, want := range cases {
		got, err := ParseMethod(in)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"ann/hamming", "tree/ed", "foo"} {
		if _, err := ParseMethod(bad); err == nil {
			t.Errorf("ParseMethod(%q) should fail", bad)
		}
	}
}

func TestVectorRank(t *testing.T) {
	coll := twoClusters(t)
	idx, err := NewExactIndex(coll, distance.Cosine)
	if err != nil {
		t.Fatal(err)
	}
	got, err := VectorRank([]float64{0, 0.02, 0.9, 0}, idx, coll, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != 8 || got[0].Label == "" {
		t.Errorf("got %v, want nearest 8", got)
	}
}
