package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/shaperet/pkg/core/hnsw"
	"github.com/sanonone/shaperet/pkg/features"
	"github.com/sanonone/shaperet/pkg/metrics"
)

// LabelRate is the majority-match rate of the queries carrying one label.
type LabelRate struct {
	Label   string
	Queries int
	Matches int
	Rate    float64
}

// Stats summarizes one ranking method over every query of a collection.
type Stats struct {
	Method Method
	K      int
	// Queries is the number of collection entries used as query.
	Queries int
	// Neighbor label matches per query.
	MinMatches  int
	MaxMatches  int
	MeanMatches float64
	// Queries whose majority neighbor label equals their own.
	MajorityMatches int
	MajorityRate    float64
	// Sorted by rate descending, then by label.
	PerLabel []LabelRate
}

// MajorityLabel returns the most frequent label among neighbors, which must be
// sorted by ascending distance. When several labels share the top count, the
// one carried by the nearest neighbor wins. ok is false for an empty list.
func MajorityLabel(neighbors []Neighbor) (label string, ok bool) {
	if len(neighbors) == 0 {
		return "", false
	}
	counts := make(map[string]int, len(neighbors))
	best := 0
	for _, n := range neighbors {
		counts[n.Label]++
		best = max(best, counts[n.Label])
	}
	for _, n := range neighbors {
		if counts[n.Label] == best {
			return n.Label, true
		}
	}
	return "", false
}

// EvaluateAccuracy uses every entry of the collection as a query, ranks its k
// nearest neighbors with each method, and reports how often the neighbors
// share the query's label. Methods are evaluated in parallel. Results follow
// the order of methods.
func EvaluateAccuracy(ctx context.Context, coll *features.Collection, k int, methods []Method, annCfg hnsw.Config) ([]Stats, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if coll == nil || coll.Len() == 0 {
		return nil, features.ErrEmptyCollection
	}

	results := make([]Stats, len(methods))
	g, ctx := errgroup.WithContext(ctx)
	for i, m := range methods {
		g.Go(func() error {
			start := time.Now()
			s, err := evaluate(ctx, coll, k, m, annCfg)
			if err != nil {
				return fmt.Errorf("%s: %w", m, err)
			}
			results[i] = s
			metrics.MajorityAccuracy.WithLabelValues(methodKind(m), string(m.Metric)).Set(s.MajorityRate)
			slog.Info("[Retrieval] Accuracy evaluated",
				"method", m.String(),
				"k", k,
				"queries", s.Queries,
				"majority_rate", s.MajorityRate,
				"mean_matches", s.MeanMatches,
				"elapsed", time.Since(start),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func methodKind(m Method) string {
	if m.ANN {
		return "ann"
	}
	return "exact"
}

func evaluate(ctx context.Context, coll *features.Collection, k int, m Method, annCfg hnsw.Config) (Stats, error) {
	index, err := NewIndex(coll, m, annCfg)
	if err != nil {
		return Stats{}, err
	}

	counts := make([]float64, 0, coll.Len())
	perLabel := make(map[string]*LabelRate)
	s := Stats{Method: m, K: k}

	for _, q := range coll.Entries {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		results, err := index.SearchByID(q.ID, k)
		if err != nil {
			return Stats{}, err
		}
		neighbors := label(coll, results, q.ID, k)

		matches := 0
		for _, n := range neighbors {
			if n.Label == q.Label {
				matches++
			}
		}
		majority, ok := MajorityLabel(neighbors)
		hit := ok && majority == q.Label

		if s.Queries == 0 {
			s.MinMatches, s.MaxMatches = matches, matches
		} else {
			s.MinMatches = min(s.MinMatches, matches)
			s.MaxMatches = max(s.MaxMatches, matches)
		}
		s.Queries++
		counts = append(counts, float64(matches))

		lr := perLabel[q.Label]
		if lr == nil {
			lr = &LabelRate{Label: q.Label}
			perLabel[q.Label] = lr
		}
		lr.Queries++
		if hit {
			lr.Matches++
			s.MajorityMatches++
		}
	}

	s.MeanMatches = stat.Mean(counts, nil)
	s.MajorityRate = float64(s.MajorityMatches) / float64(s.Queries)
	for _, lr := range perLabel {
		lr.Rate = float64(lr.Matches) / float64(lr.Queries)
		s.PerLabel = append(s.PerLabel, *lr)
	}
	slices.SortFunc(s.PerLabel, func(a, b LabelRate) int {
		if c := cmp.Compare(b.Rate, a.Rate); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return s, nil
}
