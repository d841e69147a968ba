// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// (HNSW) graph algorithm for approximate nearest neighbor search.
//
// An Index is built once from a closed collection of feature vectors and then
// queried, either with a free vector or with the identifier of a mesh already
// inside it. Levels are drawn from a seeded generator so the same collection
// inserted in the same order always yields the same graph. Vectors are stored
// as float64 or, to halve memory, as float16.
package hnsw

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"sync"

	"github.com/sanonone/shaperet/pkg/core/distance"
	"github.com/sanonone/shaperet/pkg/core/types"
	"github.com/sanonone/shaperet/pkg/metrics"
)

var (
	// ErrDuplicateID is returned when an identifier is inserted twice.
	ErrDuplicateID = errors.New("id already indexed")
	// ErrNotFound is returned when a query identifier is not in the index.
	ErrNotFound = errors.New("id not in index")
)

// Index represents the hierarchical graph structure.
type Index struct {
	mu sync.RWMutex

	// HNSW algorithm parameters
	m              int // Max number of connections per node per layer
	mMax0          int // Max number of connections per node at layer 0
	efConstruction int // Size of the dynamic candidate list during insertion
	efSearch       int // Default size of the dynamic candidate list during search

	// ml is the normalization factor for the level probability distribution
	ml float64

	// Starting point of every search, always a node on the highest layer
	entrypointID uint32
	// The current highest level present in the graph, -1 when empty
	maxLevel int

	nodes                []*Node
	externalToInternalID map[int]uint32
	dim                  int

	metric    distance.DistanceMetric
	precision distance.PrecisionType

	distFunc    distance.DistanceFunc
	distFuncF16 distance.DistanceFuncF16

	// Only used under the write lock.
	rng *rand.Rand

	visitedPool sync.Pool
	minHeapPool sync.Pool
	maxHeapPool sync.Pool
}

// New creates an empty index for the given metric.
func New(metric distance.DistanceMetric, cfg Config) (*Index, error) {
	cfg = cfg.withDefaults()
	if cfg.M < 2 {
		return nil, fmt.Errorf("m must be at least 2, got %d", cfg.M)
	}

	h := &Index{
		m:                    cfg.M,
		mMax0:                cfg.M * 2, // A common heuristic is to double m for layer 0
		efConstruction:       cfg.EfConstruction,
		efSearch:             cfg.EfSearch,
		ml:                   1.0 / math.Log(float64(cfg.M)),
		maxLevel:             -1,
		externalToInternalID: make(map[int]uint32),
		metric:               metric,
		precision:            cfg.Precision,
		rng:                  rand.New(rand.NewSource(cfg.Seed)),
	}

	h.visitedPool = sync.Pool{
		New: func() any { return NewBitSet(256) },
	}
	h.minHeapPool = sync.Pool{
		New: func() any { return newMinHeap(h.efConstruction) },
	}
	h.maxHeapPool = sync.Pool{
		New: func() any { return newMaxHeap(h.efConstruction) },
	}

	var err error
	switch cfg.Precision {
	case distance.Float64:
		h.distFunc, err = distance.GetFunc(metric)
	case distance.Float16:
		h.distFuncF16, err = distance.GetFloat16Func(metric)
	default:
		return nil, fmt.Errorf("unsupported precision: %s", cfg.Precision)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Build creates an index and inserts every object in order.
func Build(metric distance.DistanceMetric, cfg Config, objects []types.BatchObject) (*Index, error) {
	h, err := New(metric, cfg)
	if err != nil {
		return nil, err
	}
	if err := h.AddBatch(objects); err != nil {
		return nil, err
	}
	return h, nil
}

// distanceBetweenNodes calculates the distance between two stored vectors.
func (h *Index) distanceBetweenNodes(n1, n2 *Node) (float64, error) {
	if h.precision == distance.Float16 {
		return h.distFuncF16(n1.VectorF16, n2.VectorF16)
	}
	return h.distFunc(n1.Vector, n2.Vector)
}

// prepareQuery converts a float64 query to the stored representation.
func (h *Index) prepareQuery(query []float64) (any, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("query has %d values, index holds %d: %w", len(query), h.dim, distance.ErrDimensionMismatch)
	}
	if h.precision == distance.Float16 {
		return distance.EncodeFloat16(query), nil
	}
	return query, nil
}

// storedQuery returns the stored vector of a node in the form searchLayerUnlocked expects.
func (h *Index) storedQuery(n *Node) any {
	if h.precision == distance.Float16 {
		return n.VectorF16
	}
	return n.Vector
}

// Search returns the k approximate nearest neighbors of query.
func (h *Index) Search(query []float64, k int) ([]types.SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.maxLevel == -1 || k <= 0 {
		return []types.SearchResult{}, nil
	}
	q, err := h.prepareQuery(query)
	if err != nil {
		return nil, err
	}
	candidates, err := h.searchInternal(q, k, max(h.efSearch, k))
	if err != nil {
		return nil, err
	}
	return h.toResults(candidates, k, -1), nil
}

// SearchByID returns the k approximate nearest neighbors of the mesh already
// stored under id. The index is asked for k+1 neighbors so the query itself
// can be removed from the answer.
func (h *Index) SearchByID(id, k int) ([]types.SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	internalID, ok := h.externalToInternalID[id]
	if !ok {
		return nil, fmt.Errorf("%d: %w", id, ErrNotFound)
	}
	if k <= 0 {
		return []types.SearchResult{}, nil
	}
	q := h.storedQuery(h.nodes[internalID])
	candidates, err := h.searchInternal(q, k+1, max(h.efSearch, k+1))
	if err != nil {
		return nil, err
	}
	return h.toResults(candidates, k, int64(internalID)), nil
}

// toResults maps candidates to external identifiers, skipping the node with
// internal ID skip (-1 skips nothing), and keeps at most k.
func (h *Index) toResults(candidates []types.Candidate, k int, skip int64) []types.SearchResult {
	results := make([]types.SearchResult, 0, min(k, len(candidates)))
	for _, c := range candidates {
		if int64(c.Id) == skip {
			continue
		}
		if len(results) == k {
			break
		}
		results = append(results, types.SearchResult{ID: h.nodes[c.Id].Id, Distance: c.Distance})
	}
	return results
}

// searchInternal descends greedily through the upper layers and then runs
// the wide search on the base layer. Must be called under at least RLock.
func (h *Index) searchInternal(query any, k, ef int) ([]types.Candidate, error) {
	if h.maxLevel == -1 {
		return []types.Candidate{}, nil
	}

	currentEntryPoint := h.entrypointID

	// 1) Iterative top-down search
	for l := h.maxLevel; l > 0; l-- {
		nearest, err := h.searchLayerUnlocked(query, currentEntryPoint, 1, l, 1)
		if err != nil {
			return nil, err
		}
		if len(nearest) == 0 {
			return nil, fmt.Errorf("search failed at level %d", l)
		}
		currentEntryPoint = nearest[0].Id
	}

	// 2) Base layer search
	return h.searchLayerUnlocked(query, currentEntryPoint, k, 0, ef)
}

// Add inserts a single vector.
func (h *Index) Add(id int, vector []float64) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	internalID, err := h.addUnlocked(id, vector)
	if err != nil {
		return 0, err
	}
	metrics.IndexVectors.WithLabelValues(string(h.metric)).Set(float64(len(h.nodes)))
	return internalID, nil
}

// AddBatch inserts objects one after the other under a single lock. Insertion
// is sequential because the graph shape depends on insertion order, and a
// fixed order plus a fixed seed is what makes the index reproducible.
func (h *Index) AddBatch(objects []types.BatchObject) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, obj := range objects {
		if _, err := h.addUnlocked(obj.ID, obj.Vector); err != nil {
			return fmt.Errorf("insert %d: %w", obj.ID, err)
		}
	}
	metrics.IndexVectors.WithLabelValues(string(h.metric)).Set(float64(len(h.nodes)))
	slog.Debug("[HNSW] Batch indexed",
		"metric", h.metric,
		"precision", h.precision,
		"vectors", len(h.nodes),
		"levels", h.maxLevel+1,
	)
	return nil
}

func (h *Index) addUnlocked(id int, vector []float64) (uint32, error) {
	if _, exists := h.externalToInternalID[id]; exists {
		return 0, fmt.Errorf("%d: %w", id, ErrDuplicateID)
	}
	if len(h.nodes) == 0 {
		h.dim = len(vector)
	} else if len(vector) != h.dim {
		return 0, fmt.Errorf("vector has %d values, index holds %d: %w", len(vector), h.dim, distance.ErrDimensionMismatch)
	}

	internalID := uint32(len(h.nodes))
	node := &Node{Id: id, InternalID: internalID}
	if h.precision == distance.Float16 {
		node.VectorF16 = distance.EncodeFloat16(vector)
	} else {
		node.Vector = slices.Clone(vector)
	}
	query := h.storedQuery(node)

	if h.maxLevel == -1 {
		node.Connections = make([][]uint32, 1)
		h.nodes = append(h.nodes, node)
		h.externalToInternalID[id] = internalID
		h.entrypointID = internalID
		h.maxLevel = 0
		return internalID, nil
	}

	level := h.randomLevel()
	node.Connections = make([][]uint32, level+1)

	currentEntryPoint := h.entrypointID
	for l := h.maxLevel; l > level; l-- {
		nearest, err := h.searchLayerUnlocked(query, currentEntryPoint, 1, l, 1)
		if err != nil {
			return 0, err
		}
		if len(nearest) > 0 {
			currentEntryPoint = nearest[0].Id
		}
	}

	// The node joins the slice only after its neighbors are chosen, so the
	// searches above can never return it.
	type layerLinks struct {
		level     int
		maxConns  int
		neighbors []types.Candidate
	}
	var pending []layerLinks

	for l := min(level, h.maxLevel); l >= 0; l-- {
		neighbors, err := h.searchLayerUnlocked(query, currentEntryPoint, h.efConstruction, l, h.efConstruction)
		if err != nil {
			return 0, err
		}

		maxConns := h.m
		if l == 0 {
			maxConns = h.mMax0
		}

		selected, err := h.selectNeighbors(neighbors, maxConns)
		if err != nil {
			return 0, err
		}
		node.Connections[l] = make([]uint32, len(selected))
		for i, c := range selected {
			node.Connections[l][i] = c.Id
		}
		pending = append(pending, layerLinks{level: l, maxConns: maxConns, neighbors: selected})

		if len(neighbors) > 0 {
			currentEntryPoint = neighbors[0].Id
		}
	}

	h.nodes = append(h.nodes, node)
	h.externalToInternalID[id] = internalID

	// Bidirectional connections
	for _, p := range pending {
		for _, c := range p.neighbors {
			if err := h.connect(h.nodes[c.Id], node, p.level, p.maxConns); err != nil {
				return 0, err
			}
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entrypointID = internalID
	}
	return internalID, nil
}

// connect adds newNode to the neighbor list of node at level. When the list
// is full, the farthest neighbor is replaced if newNode is closer.
func (h *Index) connect(node, newNode *Node, level, maxConns int) error {
	if level > node.level() {
		return nil
	}
	conns := node.Connections[level]
	if len(conns) < maxConns {
		node.Connections[level] = append(conns, newNode.InternalID)
		return nil
	}

	maxDist := -1.0
	worst := -1
	for i, nID := range conns {
		d, err := h.distanceBetweenNodes(node, h.nodes[nID])
		if err != nil {
			return err
		}
		if d > maxDist {
			maxDist = d
			worst = i
		}
	}
	distToNew, err := h.distanceBetweenNodes(node, newNode)
	if err != nil {
		return err
	}
	if worst != -1 && distToNew < maxDist {
		conns[worst] = newNode.InternalID
	}
	return nil
}

// searchLayerUnlocked performs a best-first search on a single layer and
// returns up to k candidates sorted by ascending distance.
func (h *Index) searchLayerUnlocked(query any, entrypointID uint32, k, level, efSearch int) ([]types.Candidate, error) {
	visited := h.visitedPool.Get().(*BitSet)
	candidates := h.minHeapPool.Get().(*minHeap)
	results := h.maxHeapPool.Get().(*maxHeap)

	// Fast reset (keeps underlying slice capacity)
	*candidates = (*candidates)[:0]
	*results = (*results)[:0]

	defer func() {
		visited.Clear()
		h.visitedPool.Put(visited)
		h.minHeapPool.Put(candidates)
		h.maxHeapPool.Put(results)
	}()

	visited.EnsureCapacity(uint32(len(h.nodes)))

	ef := max(efSearch, k)

	// Lift the precision switch out of the hot loop.
	var distFn func(node *Node) (float64, error)
	switch h.precision {
	case distance.Float64:
		q := query.([]float64)
		fn := h.distFunc
		distFn = func(node *Node) (float64, error) { return fn(q, node.Vector) }
	case distance.Float16:
		q := query.([]uint16)
		fn := h.distFuncF16
		distFn = func(node *Node) (float64, error) { return fn(q, node.VectorF16) }
	default:
		return nil, fmt.Errorf("precision not setup")
	}

	if entrypointID >= uint32(len(h.nodes)) {
		return nil, fmt.Errorf("entry point node %d not found", entrypointID)
	}
	dist, err := distFn(h.nodes[entrypointID])
	if err != nil {
		return nil, err
	}

	ep := types.Candidate{Id: entrypointID, Distance: dist}
	heap.Push(candidates, ep)
	heap.Push(results, ep)
	visited.Add(entrypointID)

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(types.Candidate)

		// The closest unexpanded candidate is farther than the worst result:
		// nothing reachable from here can improve the set.
		if results.Len() >= ef && current.Distance > results.Peek().Distance {
			break
		}

		currentNode := h.nodes[current.Id]
		if level > currentNode.level() {
			continue
		}

		for _, neighborID := range currentNode.Connections[level] {
			if visited.Has(neighborID) {
				continue
			}
			visited.Add(neighborID)

			d, err := distFn(h.nodes[neighborID])
			if err != nil {
				return nil, err
			}

			if results.Len() < ef || d < results.Peek().Distance {
				c := types.Candidate{Id: neighborID, Distance: d}
				heap.Push(candidates, c)
				heap.Push(results, c)
				if results.Len() > ef {
					heap.Pop(results) // Remove the farthest
				}
			}
		}
	}

	// Pop() on the max-heap yields largest to smallest, fill from the back.
	count := results.Len()
	finalResults := make([]types.Candidate, count)
	for i := count - 1; i >= 0; i-- {
		finalResults[i] = heap.Pop(results).(types.Candidate)
	}
	if len(finalResults) > k {
		return finalResults[:k], nil
	}
	return finalResults, nil
}

// randomLevel draws a level from the exponentially decaying distribution
// floor(-ln(U)·ml), capped one above the current top so the graph grows a
// layer at a time.
func (h *Index) randomLevel() int {
	level := int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
	return min(level, h.maxLevel+1)
}

// selectNeighbors implements the neighbor selection heuristic from the HNSW paper.
// A candidate is kept only if it is closer to the new node than to every
// neighbor already kept, which spreads links in different directions.
// candidates must be sorted by ascending distance.
func (h *Index) selectNeighbors(candidates []types.Candidate, m int) ([]types.Candidate, error) {
	if len(candidates) <= m {
		return candidates, nil
	}

	results := make([]types.Candidate, 0, m)
	discarded := make([]types.Candidate, 0, m)

	for _, e := range candidates {
		if len(results) == m {
			break
		}
		good := true
		for _, r := range results {
			d, err := h.distanceBetweenNodes(h.nodes[e.Id], h.nodes[r.Id])
			if err != nil {
				return nil, err
			}
			if d < e.Distance {
				good = false
				break
			}
		}
		if good {
			results = append(results, e)
		} else {
			discarded = append(discarded, e)
		}
	}

	// If the heuristic was too aggressive, fill the remaining slots with the
	// best discarded candidates so no node ends up weakly connected.
	for _, c := range discarded {
		if len(results) == m {
			break
		}
		results = append(results, c)
	}
	return results, nil
}

// Len returns the number of indexed vectors.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Contains reports whether id is indexed.
func (h *Index) Contains(id int) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.externalToInternalID[id]
	return ok
}

// Metric returns the distance metric of the index.
func (h *Index) Metric() distance.DistanceMetric { return h.metric }

// Precision returns the storage precision of the index.
func (h *Index) Precision() distance.PrecisionType { return h.precision }

// Info summarizes the index parameters and size.
func (h *Index) Info() types.IndexInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return types.IndexInfo{
		Metric:         h.metric,
		Precision:      h.precision,
		M:              h.m,
		EfConstruction: h.efConstruction,
		VectorCount:    len(h.nodes),
	}
}
