// Package hnsw provides the implementation of the Hierarchical Navigable Small World
// graph algorithm for approximate nearest neighbor search over feature vectors.
//
// This file defines the Node struct, the building block of the graph. Each node
// holds one mesh's feature vector and its neighbor lists across layers.
package hnsw

// Node represents a single vector within the HNSW graph.
type Node struct {
	// Id is the mesh identifier the vector belongs to.
	Id int
	// InternalID is the dense position of the node in the index, used for traversal.
	InternalID uint32
	// Vector stores full precision values. Nil when the index stores float16.
	Vector []float64
	// VectorF16 stores half-precision bit patterns. Nil for float64 indexes.
	VectorF16 []uint16

	// Connections[l] lists the neighbors of the node at layer l.
	// Connections[0] holds the base layer and is the only layer every node has.
	Connections [][]uint32
}

// level returns the highest layer the node participates in.
func (n *Node) level() int { return len(n.Connections) - 1 }
