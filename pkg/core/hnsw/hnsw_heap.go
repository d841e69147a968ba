// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// graph algorithm for approximate nearest neighbor search over feature vectors.
//
// This file defines the min-heap and max-heap used during graph traversal and
// construction. Both satisfy container/heap and hold candidates by value.
package hnsw

import (
	"container/heap"

	"github.com/sanonone/shaperet/pkg/core/types"
)

// minHeap keeps the closest candidate on top. It holds the nodes still to be
// expanded so the search always explores the most promising one next.
type minHeap []types.Candidate

func (h minHeap) Len() int { return len(h) }

// Ties on distance are broken by internal ID so traversal is deterministic.
func (h minHeap) Less(i, j int) bool {
	if h[i].Distance == h[j].Distance {
		return h[i].Id < h[j].Id
	}
	return h[i].Distance < h[j].Distance
}

func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *minHeap) Push(x any) { *h = append(*h, x.(types.Candidate)) }

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// maxHeap keeps the farthest candidate on top. It holds the best results found
// so far; the root is the worst of them and the first to be evicted.
type maxHeap []types.Candidate

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) Less(i, j int) bool {
	if h[i].Distance == h[j].Distance {
		return h[i].Id > h[j].Id
	}
	return h[i].Distance > h[j].Distance
}

func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(types.Candidate)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// Peek returns the farthest candidate without removing it.
func (h maxHeap) Peek() types.Candidate { return h[0] }

// newMinHeap creates a new min-heap with a specified initial capacity.
func newMinHeap(capacity int) *minHeap {
	h := make(minHeap, 0, capacity)
	heap.Init(&h)
	return &h
}

// newMaxHeap creates a new max-heap with a specified initial capacity.
func newMaxHeap(capacity int) *maxHeap {
	h := make(maxHeap, 0, capacity)
	heap.Init(&h)
	return &h
}
