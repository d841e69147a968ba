// Package config loads the YAML configuration shared by every command.
//
// Loading starts from DefaultConfig and overlays the file, so a file only
// needs the keys it changes. Unknown keys are rejected.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/hnsw"
	"github.com/sanonone/shaperet/pkg/descriptor"
	"github.com/sanonone/shaperet/pkg/features"
	"github.com/sanonone/shaperet/pkg/normalize"
	"github.com/sanonone/shaperet/pkg/pipeline"
	"github.com/sanonone/shaperet/pkg/retrieval"
)

// Duration is a wrapper around time.Duration that reads "1m", "10s" or a
// plain number of nanoseconds from YAML and JSON.
type Duration time.Duration

func parseDuration(v any) (Duration, error) {
	switch value := v.(type) {
	case int:
		return Duration(time.Duration(value)), nil
	case float64:
		return Duration(time.Duration(value)), nil
	case string:
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, err
		}
		return Duration(d), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("invalid duration %v", v)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML writes the duration as a readable string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON handles both numbers (nanoseconds) and strings ("10s").
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON serializes the duration back to a readable string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// PipelineConfig controls batch extraction.
type PipelineConfig struct {
	// Workers is the number of meshes processed at once. 0 = one per logical core.
	Workers     int      `yaml:"workers"`
	ItemTimeout Duration `yaml:"item_timeout"`
	// OutputDir receives normalized meshes when set.
	OutputDir string `yaml:"output_dir"`
}

// RetrievalConfig controls querying and evaluation.
type RetrievalConfig struct {
	K int `yaml:"k"`
	// Methods evaluated by the accuracy report, e.g. "ed", "cd", "emd", "ann/manhattan".
	Methods []string `yaml:"methods"`
}

// Config is the full configuration.
type Config struct {
	Normalize  normalize.Config  `yaml:"normalize"`
	Descriptor descriptor.Config `yaml:"descriptor"`
	Weights    features.Weights  `yaml:"weights"`
	Index      hnsw.Config       `yaml:"index"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Retrieval  RetrievalConfig   `yaml:"retrieval"`
	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the settings used for the benchmark collection.
func DefaultConfig() Config {
	methods := retrieval.DefaultMethods()
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = m.String()
	}
	return Config{
		Normalize:  normalize.DefaultConfig(),
		Descriptor: descriptor.DefaultConfig(),
		Weights:    features.DefaultWeights(),
		Index:      hnsw.DefaultConfig(),
		Pipeline:   PipelineConfig{ItemTimeout: Duration(5 * time.Minute)},
		Retrieval:  RetrievalConfig{K: 5, Methods: names},
		LogLevel:   "info",
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("YAML syntax error in config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.Descriptor.Samples <= 0 || c.Descriptor.Bins < 2 {
		return fmt.Errorf("descriptor: samples %d, bins %d", c.Descriptor.Samples, c.Descriptor.Bins)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval: k must be positive, got %d", c.Retrieval.K)
	}
	if _, err := c.Methods(); err != nil {
		return err
	}
	switch c.Index.Precision {
	case "", distance.Float64, distance.Float16:
	default:
		return fmt.Errorf("index: unsupported precision %q", c.Index.Precision)
	}
	return nil
}

// Methods parses the configured evaluation methods.
func (c Config) Methods() ([]retrieval.Method, error) {
	out := make([]retrieval.Method, 0, len(c.Retrieval.Methods))
	for _, s := range c.Retrieval.Methods {
		m, err := retrieval.ParseMethod(s)
		if err != nil {
			return nil, fmt.Errorf("retrieval: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// PipelineOptions converts the pipeline section.
func (c Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Workers:     c.Pipeline.Workers,
		ItemTimeout: time.Duration(c.Pipeline.ItemTimeout),
		OutputDir:   c.Pipeline.OutputDir,
	}
}
