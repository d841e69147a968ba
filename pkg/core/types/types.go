package types

import "github.com/sanonone/shaperet/pkg/core/distance"

// SearchResult is a single neighbor returned by a query, with its distance.
type SearchResult struct {
	ID       int
	Distance float64
}

// Candidate is the internal HNSW result, keyed by the graph's internal ID.
type Candidate struct {
	Id       uint32
	Distance float64
}

// BatchObject carries one vector to be indexed.
type BatchObject struct {
	ID     int
	Vector []float64
}

// IndexInfo describes an index.
type IndexInfo struct {
	Metric         distance.DistanceMetric `json:"metric" yaml:"metric"`
	Precision      distance.PrecisionType  `json:"precision" yaml:"precision"`
	M              int                     `json:"m" yaml:"m"`
	EfConstruction int                     `json:"ef_construction" yaml:"ef_construction"`
	VectorCount    int                     `json:"vector_count" yaml:"vector_count"`
}
