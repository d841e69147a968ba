package mesh

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
)

// mergeDigits is the number of decimal digits vertex positions are rounded to
// when looking for duplicates.
const mergeDigits = 8

type vertexKey struct{ x, y, z int64 }

func quantize(v r3.Vector) vertexKey {
	scale := math.Pow10(mergeDigits)
	return vertexKey{
		int64(math.Round(v.X * scale)),
		int64(math.Round(v.Y * scale)),
		int64(math.Round(v.Z * scale)),
	}
}

// CleanupStats reports what Cleanup removed.
type CleanupStats struct {
	MergedVertices       int
	DegenerateFaces      int
	DuplicateFaces       int
	UnreferencedVertices int
}

// Cleanup merges coincident vertices, drops faces that collapse onto fewer than
// three distinct vertices, removes faces that repeat an existing vertex triple
// (regardless of winding) and discards vertices no face references.
// Vertex order of the survivors is preserved.
func (m *Mesh) Cleanup() CleanupStats {
	var stats CleanupStats

	// 1. Merge coincident vertices onto their first occurrence.
	remap := make([]int, len(m.Vertices))
	seen := make(map[vertexKey]int, len(m.Vertices))
	for i, v := range m.Vertices {
		k := quantize(v)
		if first, ok := seen[k]; ok {
			remap[i] = first
			stats.MergedVertices++
			continue
		}
		seen[k] = i
		remap[i] = i
	}

	// 2. Rewrite faces, skipping degenerate and duplicate ones.
	faces := make([]Face, 0, len(m.Faces))
	dup := make(map[Face]struct{}, len(m.Faces))
	for _, f := range m.Faces {
		g := Face{remap[f[0]], remap[f[1]], remap[f[2]]}
		if g[0] == g[1] || g[1] == g[2] || g[0] == g[2] {
			stats.DegenerateFaces++
			continue
		}
		key := g
		sort.Ints(key[:])
		if _, ok := dup[key]; ok {
			stats.DuplicateFaces++
			continue
		}
		dup[key] = struct{}{}
		faces = append(faces, g)
	}

	// 3. Compact the vertex array.
	used := make([]bool, len(m.Vertices))
	for _, f := range faces {
		used[f[0]], used[f[1]], used[f[2]] = true, true, true
	}
	newIndex := make([]int, len(m.Vertices))
	vertices := make([]r3.Vector, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		if !used[i] {
			if remap[i] == i {
				stats.UnreferencedVertices++
			}
			continue
		}
		newIndex[i] = len(vertices)
		vertices = append(vertices, v)
	}
	for i, f := range faces {
		faces[i] = Face{newIndex[f[0]], newIndex[f[1]], newIndex[f[2]]}
	}

	m.Vertices = vertices
	m.Faces = faces
	return stats
}
