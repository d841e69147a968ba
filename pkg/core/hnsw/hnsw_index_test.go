package hnsw

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/types"
)

// generateTestObjects creates a deterministic set of random vectors.
func generateTestObjects(numVectors int, vectorDim int) []types.BatchObject {
	rng := rand.New(rand.NewSource(42))

	objects := make([]types.BatchObject, numVectors)
	for i := 0; i < numVectors; i++ {
		vec := make([]float64, vectorDim)
		for j := range vec {
			vec[j] = rng.Float64()
		}
		objects[i] = types.BatchObject{ID: 1000 + i, Vector: vec}
	}
	return objects
}

// bruteForce returns the ids of the k exact nearest neighbors of query, skipping skipID.
func bruteForce(t *testing.T, metric distance.DistanceMetric, objects []types.BatchObject, query []float64, k, skipID int) []int {
	t.Helper()
	fn, err := distance.GetFunc(metric)
	if err != nil {
		t.Fatal(err)
	}
	res := make([]types.SearchResult, 0, len(objects))
	for _, o := range objects {
		if o.ID == skipID {
			continue
		}
		d, _ := fn(query, o.Vector)
		res = append(res, types.SearchResult{ID: o.ID, Distance: d})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Distance < res[j].Distance })
	ids := make([]int, 0, k)
	for _, r := range res[:k] {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestSearchByIDRecall(t *testing.T) {
	const k = 10
	objects := generateTestObjects(500, 16)

	for _, metric := range []distance.DistanceMetric{distance.Euclidean, distance.Cosine, distance.Manhattan} {
		t.Run(string(metric), func(t *testing.T) {
			idx, err := Build(metric, DefaultConfig(), objects)
			if err != nil {
				t.Fatal(err)
			}

			hits, total := 0, 0
			for _, q := range objects[:50] {
				got, err := idx.SearchByID(q.ID, k)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != k {
					t.Fatalf("query %d: got %d results, want %d", q.ID, len(got), k)
				}
				want := map[int]bool{}
				for _, id := range bruteForce(t, metric, objects, q.Vector, k, q.ID) {
					want[id] = true
				}
				for i, r := range got {
					if r.ID == q.ID {
						t.Fatalf("query %d returned itself", q.ID)
					}
					if i > 0 && r.Distance < got[i-1].Distance {
						t.Fatalf("query %d: results not sorted", q.ID)
					}
					if want[r.ID] {
						hits++
					}
				}
				total += k
			}
			if recall := float64(hits) / float64(total); recall < 0.9 {
				t.Errorf("recall %.3f below 0.9", recall)
			}
		})
	}
}

func TestDeterministicBuild(t *testing.T) {
	objects := generateTestObjects(300, 8)
	cfg := DefaultConfig()
	cfg.M = 4
	cfg.EfSearch = 4

	a, err := Build(distance.Euclidean, cfg, objects)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(distance.Euclidean, cfg, objects)
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range objects[:20] {
		ra, _ := a.SearchByID(q.ID, 5)
		rb, _ := b.SearchByID(q.ID, 5)
		if len(ra) != len(rb) {
			t.Fatalf("query %d: %d vs %d results", q.ID, len(ra), len(rb))
		}
		for i := range ra {
			if ra[i] != rb[i] {
				t.Fatalf("query %d differs at %d: %v vs %v", q.ID, i, ra[i], rb[i])
			}
		}
	}
}

func TestSmallIndexReturnsEveryOtherVector(t *testing.T) {
	objects := generateTestObjects(5, 3)
	idx, err := Build(distance.Euclidean, DefaultConfig(), objects)
	if err != nil {
		t.Fatal(err)
	}
	got, err := idx.SearchByID(objects[0].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("got %d results, want 4", len(got))
	}
}

func TestFloat16Precision(t *testing.T) {
	objects := generateTestObjects(200, 12)
	cfg := DefaultConfig()
	cfg.Precision = distance.Float16
	idx, err := Build(distance.Euclidean, cfg, objects)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Precision() != distance.Float16 {
		t.Fatalf("precision = %s", idx.Precision())
	}

	got, err := idx.Search(objects[7].Vector, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != objects[7].ID || got[0].Distance != 0 {
		t.Errorf("exact query should find itself at distance 0, got %v", got)
	}
}

func TestIndexErrors(t *testing.T) {
	idx, err := New(distance.Euclidean, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	got, err := idx.Search([]float64{1, 2}, 3)
	if err != nil || len(got) != 0 {
		t.Errorf("empty index: got %v, %v", got, err)
	}

	if _, err := idx.Add(1, []float64{1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.Add(1, []float64{3, 4}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := idx.Add(2, []float64{3}); !errors.Is(err, distance.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := idx.SearchByID(99, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := New("hamming", DefaultConfig()); !errors.Is(err, distance.ErrUnknownMetric) {
		t.Errorf("expected ErrUnknownMetric, got %v", err)
	}

	info := idx.Info()
	if info.VectorCount != 1 || info.M != 16 || info.Metric != distance.Euclidean {
		t.Errorf("unexpected info %+v", info)
	}
}

func BenchmarkBuild(b *testing.B) {
	objects := generateTestObjects(2000, 56)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build(distance.Manhattan, DefaultConfig(), objects); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchByID(b *testing.B) {
	objects := generateTestObjects(2000, 56)
	idx, err := Build(distance.Manhattan, DefaultConfig(), objects)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.SearchByID(objects[i%len(objects)].ID, 10)
	}
}
