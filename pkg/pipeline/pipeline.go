// Package pipeline runs pose normalization and descriptor extraction over a
// collection of mesh files with a bounded pool of workers.
//
// Every mesh is independent: a failure is recorded against its identifier and
// the batch carries on. Cancelling the context stops scheduling new meshes and
// Run returns whatever finished, together with the context error.
package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/labels"
	"github.com/sanonone/shaperet/pkg/mesh"
	"github.com/sanonone/shaperet/pkg/meshio"
	"github.com/sanonone/shaperet/pkg/metrics"
	"github.com/sanonone/shaperet/pkg/normalize"
	"github.com/sanonone/shaperet/pkg/store"
)

// Options tune a batch run.
type Options struct {
	// Workers is the number of meshes processed at once. Zero uses one per logical core.
	Workers int
	// ItemTimeout bounds the time spent on one mesh. Zero means no limit.
	// It is checked between stages, so a stage already running completes.
	ItemTimeout time.Duration
	// OutputDir, when set, receives every normalized mesh as <OutputDir>/m<id>.off.
	OutputDir string
}

// DefaultWorkers returns the number of logical cores.
func DefaultWorkers() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Item is one mesh file to process.
type Item struct {
	Path  string
	ID    int
	Label string
}

// Failure records why one mesh was not processed.
type Failure struct {
	Item
	Err error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (id %d): %v", f.Path, f.ID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Summary is the outcome of a batch run.
type Summary struct {
	RunID uuid.UUID
	// Records holds the descriptor of every mesh that completed.
	Records  *store.Table
	Failures []Failure
	// Skipped counts meshes never started because the run was cancelled.
	Skipped int
	Elapsed time.Duration
}

// Pipeline normalizes meshes and extracts their descriptors.
type Pipeline struct {
	normalizer *normalize.Normalizer
	extractor  *descriptor.Extractor
	labels     *labels.Resolver
	opts       Options
}

// New creates a pipeline. A nil resolver labels every mesh labels.Unlabeled.
func New(n *normalize.Normalizer, e *descriptor.Extractor, r *labels.Resolver, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	return &Pipeline{normalizer: n, extractor: e, labels: r, opts: opts}
}

// Items turns file paths into work items. The model identifier comes from the
// file name; files without one get negative identifiers in path order so
// they can still be keyed, and they stay unlabeled.
func (p *Pipeline) Items(paths []string) []Item {
	sorted := slices.Clone(paths)
	slices.Sort(sorted)
	items := make([]Item, 0, len(sorted))
	anon := 0
	for _, path := range sorted {
		id, ok := meshio.ModelID(path)
		if !ok {
			anon++
			slog.Warn("[Pipeline] No model number in file name", "path", path, "id", -anon)
			items = append(items, Item{Path: path, ID: -anon, Label: labels.Unlabeled})
			continue
		}
		items = append(items, Item{Path: path, ID: id, Label: p.labels.Resolve(id)})
	}
	return items
}

// Process normalizes one in-memory mesh and extracts its descriptor.
func (p *Pipeline) Process(m *mesh.Mesh, id int, label string) (*descriptor.Record, *mesh.Mesh, normalize.Report, error) {
	canon, rep, err := p.normalizer.Normalize(m)
	if err != nil {
		return nil, nil, rep, fmt.Errorf("normalize: %w", err)
	}
	rec, err := p.extractor.Extract(canon, id, label)
	if err != nil {
		return nil, nil, rep, fmt.Errorf("extract: %w", err)
	}
	return rec, canon, rep, nil
}

func (p *Pipeline) processItem(ctx context.Context, it Item) (*descriptor.Record, error) {
	if p.opts.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ItemTimeout)
		defer cancel()
	}

	m, err := meshio.Load(it.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, canon, _, err := p.Process(m, it.ID, it.Label)
	if err != nil {
		return nil, err
	}
	// A finished record is kept even if the run was cancelled meanwhile.
	if p.opts.OutputDir != "" {
		out := filepath.Join(p.opts.OutputDir, fmt.Sprintf("m%d%s", it.ID, meshio.Ext))
		if err := meshio.Save(out, canon); err != nil {
			return nil, fmt.Errorf("save normalized mesh: %w", err)
		}
	}
	return rec, nil
}

// fail records a failed mesh. It always returns nil so the batch carries on.
func (p *Pipeline) fail(run string, it Item, err error, mu *sync.Mutex, sum *Summary) error {
	metrics.MeshesProcessed.WithLabelValues("failed").Inc()
	slog.Warn("[Pipeline] Mesh failed", "run", run, "path", it.Path, "id", it.ID, "error", err)
	mu.Lock()
	sum.Failures = append(sum.Failures, Failure{Item: it, Err: err})
	mu.Unlock()
	return nil
}

// Run processes items concurrently. A failing mesh never stops the batch.
// When ctx is cancelled the returned summary holds the meshes finished so
// far, meshes not yet started are counted as skipped, and the error is
// ctx.Err().
func (p *Pipeline) Run(ctx context.Context, items []Item) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: uuid.New(), Records: store.NewTable()}
	run := sum.RunID.String()

	slog.Info("[Pipeline] Run started", "run", run, "meshes", len(items), "workers", p.opts.Workers)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	skip := func(n int) {
		metrics.MeshesProcessed.WithLabelValues("cancelled").Add(float64(n))
		mu.Lock()
		sum.Skipped += n
		mu.Unlock()
	}

	for i, it := range items {
		if ctx.Err() != nil {
			skip(len(items) - i)
			break
		}
		// g.Go blocks until a worker is free, so the run may have been
		// cancelled by the time this closure starts.
		g.Go(func() (err error) {
			if ctx.Err() != nil {
				skip(1)
				return nil
			}
			defer func() {
				if r := recover(); r != nil {
					err = p.fail(run, it, fmt.Errorf("panic: %v", r), &mu, sum)
				}
			}()

			rec, err := p.processItem(ctx, it)
			if err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					skip(1)
					return nil
				}
				return p.fail(run, it, err, &mu, sum)
			}
			metrics.MeshesProcessed.WithLabelValues("ok").Inc()
			if sum.Records.Put(rec) {
				slog.Warn("[Pipeline] Duplicate model number, keeping last", "run", run, "id", it.ID)
			}
			return nil
		})
	}
	g.Wait()

	slices.SortFunc(sum.Failures, func(a, b Failure) int { return cmp.Compare(a.ID, b.ID) })
	sum.Elapsed = time.Since(start)
	slog.Info("[Pipeline] Run finished",
		"run", run,
		"ok", sum.Records.Len(),
		"failed", len(sum.Failures),
		"skipped", sum.Skipped,
		"elapsed", sum.Elapsed,
	)
	if err := ctx.Err(); err != nil {
		return sum, err
	}
	return sum, nil
}
