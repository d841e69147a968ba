package hnsw

import "github.com/sanonone/shaperet/pkg/core/distance"

// Config defines how an index is built and searched.
type Config struct {
	// Max number of connections per node per layer. Default: 16.
	M int `json:"m" yaml:"m"`
	// Size of the dynamic candidate list during construction. Default: 200.
	EfConstruction int `json:"ef_construction" yaml:"ef_construction"`
	// Size of the dynamic candidate list during search. Values below k are raised to k.
	EfSearch int `json:"ef_search" yaml:"ef_search"`
	// Seed of the level generator. The same seed and insertion order yield the same graph.
	Seed int64 `json:"seed" yaml:"seed"`
	// Storage precision of the vectors. Default: float64.
	Precision distance.PrecisionType `json:"precision" yaml:"precision"`
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		Seed:           42,
		Precision:      distance.Float64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.M <= 0 {
		c.M = d.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearch <= 0 {
		c.EfSearch = d.EfSearch
	}
	if c.Precision == "" {
		c.Precision = d.Precision
	}
	return c
}
