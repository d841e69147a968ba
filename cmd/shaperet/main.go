// Command shaperet normalizes a mesh collection, extracts descriptors, and
// answers similarity queries over them.
//
//	shaperet extract  -db ./db -classes ./classes -records records.csv -features features.csv
//	shaperet query    -records records.csv -id 123 -method ann
//	shaperet query    -records records.csv -mesh ./chair.off -method emd
//	shaperet evaluate -records records.csv -k 5
//	shaperet stats    -records records.csv
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/shaperet/pkg/config"
	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/features"
	"github.com/sanonone/shaperet/pkg/labels"
	"github.com/sanonone/shaperet/pkg/meshio"
	"github.com/sanonone/shaperet/pkg/normalize"
	"github.com/sanonone/shaperet/pkg/pipeline"
	"github.com/sanonone/shaperet/pkg/retrieval"
	"github.com/sanonone/shaperet/pkg/stats"
	"github.com/sanonone/shaperet/pkg/store"
)

const usage = `usage: shaperet <command> [flags]

commands:
  extract   normalize a mesh collection and write its descriptor table
  query     rank the collection against a stored model or a new mesh
  evaluate  report majority-label accuracy for every ranking method
  stats     summarize a descriptor table
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "extract":
		err = runExtract(ctx, args)
	case "query":
		err = runQuery(args)
	case "evaluate":
		err = runEvaluate(ctx, args)
	case "stats":
		err = runStats(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

// setup loads the configuration, installs the logger and starts the metrics
// endpoint when one is configured.
func setup(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.LogLevel, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("[Metrics] Serving Prometheus metrics", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("[Metrics] Server stopped", "error", err)
			}
		}()
	}
	return cfg
}

// loadLabels reads a JSON class map or one or more comma separated .cla files.
func loadLabels(arg string) (*labels.Resolver, error) {
	if arg == "" {
		return labels.New(nil), nil
	}
	paths := strings.Split(arg, ",")
	if len(paths) == 1 && strings.EqualFold(filepath.Ext(paths[0]), ".json") {
		return labels.LoadJSON(paths[0])
	}
	if len(paths) == 1 {
		if info, err := os.Stat(paths[0]); err == nil && info.IsDir() {
			found, err := filepath.Glob(filepath.Join(paths[0], "*.cla"))
			if err != nil {
				return nil, err
			}
			paths = found
		}
	}
	return labels.LoadClassFiles(paths...)
}

func runExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	db := fs.String("db", "db", "directory searched recursively for .off meshes")
	classes := fs.String("classes", "", "class map: a .json file, a directory of .cla files, or comma separated .cla files")
	recordsPath := fs.String("records", "records.csv", "descriptor table to write")
	featuresPath := fs.String("features", "", "weighted feature table to write (optional)")
	fs.Parse(args)

	cfg := setup(*configPath)

	resolver, err := loadLabels(*classes)
	if err != nil {
		return fmt.Errorf("load classes: %w", err)
	}
	n, err := normalize.New(nil, cfg.Normalize)
	if err != nil {
		return err
	}
	e, err := descriptor.New(nil, cfg.Descriptor)
	if err != nil {
		return err
	}
	paths, err := meshio.Find(*db)
	if err != nil {
		return err
	}

	p := pipeline.New(n, e, resolver, cfg.PipelineOptions())
	sum, runErr := p.Run(ctx, p.Items(paths))
	if sum == nil {
		return runErr
	}
	for _, f := range sum.Failures {
		fmt.Fprintln(os.Stderr, "failed:", f.Error())
	}
	if err := store.SaveRecords(*recordsPath, sum.Records); err != nil {
		return err
	}
	fmt.Printf("%d meshes extracted, %d failed, %d skipped in %s\n",
		sum.Records.Len(), len(sum.Failures), sum.Skipped, sum.Elapsed.Round(time.Millisecond))

	if *featuresPath != "" {
		coll, _, err := features.FitTransform(sum.Records.Records(), cfg.Weights)
		if err != nil {
			return err
		}
		if err := store.SaveFeatures(*featuresPath, coll); err != nil {
			return err
		}
	}
	return runErr
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	recordsPath := fs.String("records", "records.csv", "descriptor table of the collection")
	id := fs.Int("id", 0, "model number of the query, taken from the collection")
	meshPath := fs.String("mesh", "", "query with a new mesh file instead of a stored model")
	method := fs.String("method", "ann", "ranking method: ed, cd, emd, ann or ann/<metric>")
	k := fs.Int("k", 0, "number of results (default from config)")
	fs.Parse(args)

	cfg := setup(*configPath)
	if *k <= 0 {
		*k = cfg.Retrieval.K
	}
	m, err := retrieval.ParseMethod(*method)
	if err != nil {
		return err
	}

	tbl, err := store.LoadRecords(*recordsPath)
	if err != nil {
		return err
	}
	coll, model, err := features.FitTransform(tbl.Records(), cfg.Weights)
	if err != nil {
		return err
	}

	var results []retrieval.Neighbor
	if *meshPath != "" {
		results, err = queryMesh(cfg, *meshPath, model, coll, m, *k)
	} else {
		results, err = queryID(cfg, *id, coll, m, *k)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tDISTANCE")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%.6f\n", r.ID, r.Label, r.Distance)
	}
	return w.Flush()
}

func queryID(cfg config.Config, id int, coll *features.Collection, m retrieval.Method, k int) ([]retrieval.Neighbor, error) {
	query, ok := coll.Get(id)
	if !ok {
		return nil, fmt.Errorf("model %d: %w", id, retrieval.ErrNotFound)
	}
	if !m.ANN {
		return retrieval.DistanceRank(query, coll, m.Metric, k)
	}
	idx, err := retrieval.BuildANN(coll, m.Metric, cfg.Index)
	if err != nil {
		return nil, err
	}
	return retrieval.ANNRank(id, idx, coll, k)
}

func queryMesh(cfg config.Config, path string, model *features.Model, coll *features.Collection, m retrieval.Method, k int) ([]retrieval.Neighbor, error) {
	n, err := normalize.New(nil, cfg.Normalize)
	if err != nil {
		return nil, err
	}
	e, err := descriptor.New(nil, cfg.Descriptor)
	if err != nil {
		return nil, err
	}
	raw, err := meshio.Load(path)
	if err != nil {
		return nil, err
	}
	id, _ := meshio.ModelID(path)
	rec, _, _, err := pipeline.New(n, e, nil, pipeline.Options{Workers: 1}).Process(raw, id, labels.Unlabeled)
	if err != nil {
		return nil, err
	}
	if got := len(rec.Histograms[descriptor.A3]); got != model.HistogramLen {
		return nil, fmt.Errorf("query histogram length %d, collection uses %d: %w", got, model.HistogramLen, features.ErrShapeMismatch)
	}
	vec, err := model.Vector(rec)
	if err != nil {
		return nil, err
	}
	idx, err := retrieval.NewIndex(coll, m, cfg.Index)
	if err != nil {
		return nil, err
	}
	return retrieval.VectorRank(vec, idx, coll, k)
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	recordsPath := fs.String("records", "records.csv", "descriptor table of the collection")
	k := fs.Int("k", 0, "neighbors per query (default from config)")
	perLabel := fs.Bool("per-label", false, "print the per-label rates of every method")
	fs.Parse(args)

	cfg := setup(*configPath)
	if *k <= 0 {
		*k = cfg.Retrieval.K
	}
	methods, err := cfg.Methods()
	if err != nil {
		return err
	}
	tbl, err := store.LoadRecords(*recordsPath)
	if err != nil {
		return err
	}
	coll, _, err := features.FitTransform(tbl.Records(), cfg.Weights)
	if err != nil {
		return err
	}

	results, err := retrieval.EvaluateAccuracy(ctx, coll, *k, methods, cfg.Index)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "METHOD\tMIN\tMAX\tMEAN\tMAJORITY\tRATE")
	for _, s := range results {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.2f\t%d/%d\t%.2f%%\n",
			s.Method, s.MinMatches, s.MaxMatches, s.MeanMatches, s.MajorityMatches, s.Queries, 100*s.MajorityRate)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !*perLabel {
		return nil
	}
	for _, s := range results {
		fmt.Printf("\n%s\n", s.Method)
		for _, l := range s.PerLabel {
			fmt.Fprintf(w, "%s\t%d/%d\t%.2f%%\n", l.Label, l.Matches, l.Queries, 100*l.Rate)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	recordsPath := fs.String("records", "records.csv", "descriptor table of the collection")
	threshold := fs.Float64("threshold", stats.DefaultOptions().Threshold, "vertex count distance from the mean reported as outside average")
	fs.Parse(args)

	setup(*configPath)
	tbl, err := store.LoadRecords(*recordsPath)
	if err != nil {
		return err
	}
	opts := stats.DefaultOptions()
	opts.Threshold = *threshold
	rep, err := stats.Collect(tbl.Records(), opts)
	if errors.Is(err, stats.ErrNoRecords) {
		return fmt.Errorf("%s: %w", *recordsPath, err)
	} else if err != nil {
		return err
	}

	fmt.Printf("meshes: %d\n", rep.Meshes)
	fmt.Printf("vertices: min %.0f | max %.0f | mean %.2f\n", rep.Vertices.Min, rep.Vertices.Max, rep.Vertices.Mean)
	fmt.Printf("faces:    min %.0f | max %.0f | mean %.2f\n", rep.Faces.Min, rep.Faces.Max, rep.Faces.Mean)
	for _, ft := range rep.SortedFaceTypes() {
		fmt.Printf("%s: %d\n", ft, rep.FaceTypes[ft])
	}
	fmt.Printf("below average: %d | above average: %d\n", rep.BelowAverage, rep.AboveAverage)
	fmt.Printf("outliers: %v\n", rep.Outliers)
	fmt.Printf("distance from origin: min %.5f | max %.5f | mean %.5f | off-center %d\n",
		rep.Centering.Min, rep.Centering.Max, rep.Centering.Mean, len(rep.Uncentered))
	fmt.Printf("longest bbox edge:    min %.5f | max %.5f | mean %.5f | off-scale %d\n",
		rep.Scaling.Min, rep.Scaling.Max, rep.Scaling.Mean, len(rep.Unscaled))
	return nil
}
