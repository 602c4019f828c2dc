// Package index provides in-memory cosine similarity search over a
// project's embeddings. Collections large enough to pay the graph build
// cost get an HNSW index; small ones are scanned directly.
package index

import (
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/photostacks/photostacks/internal/database"
	"github.com/photostacks/photostacks/internal/vectors"
)

// Match is one search hit with its cosine similarity to the query.
type Match struct {
	PhotoID    int64
	Similarity float64
}

// SimilarityIndex answers nearest-neighbor queries over a fixed snapshot of
// embeddings. Build once per run; it does not track later writes.
type SimilarityIndex struct {
	mu      sync.RWMutex
	vectors map[int64][]float32
	ids     []int64 // ascending, for deterministic iteration
	graph   *hnsw.Graph[int64]
}

// Build constructs an index over the given embeddings. The approximate
// graph only pays off beyond a few hundred vectors; below that the exact
// scan is both faster and simpler.
func Build(embeddings map[int64][]float32) *SimilarityIndex {
	idx := &SimilarityIndex{
		vectors: make(map[int64][]float32, len(embeddings)),
		ids:     make([]int64, 0, len(embeddings)),
	}
	for id, vec := range embeddings {
		if len(vec) == 0 {
			continue
		}
		idx.vectors[id] = vec
		idx.ids = append(idx.ids, id)
	}
	sort.Slice(idx.ids, func(i, j int) bool { return idx.ids[i] < idx.ids[j] })

	if len(idx.ids) >= database.HNSWMinCollectionSize {
		g := hnsw.NewGraph[int64]()
		g.M = database.HNSWMaxNeighbors
		g.Ml = 1.0 / float64(database.HNSWMaxNeighbors)
		g.Distance = hnsw.CosineDistance

		// Insert in ID order so the graph layout is reproducible.
		for _, id := range idx.ids {
			g.Add(hnsw.MakeNode(id, idx.vectors[id]))
		}
		idx.graph = g
	}

	return idx
}

// Size returns the number of indexed vectors.
func (idx *SimilarityIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Approximate reports whether queries go through the HNSW graph.
func (idx *SimilarityIndex) Approximate() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph != nil
}

// TopK returns up to k matches with similarity >= threshold, most similar
// first. Fewer than k results mean fewer vectors cleared the threshold, not
// an error. excludeID removes the query photo itself from its own results;
// pass 0 to keep everything.
func (idx *SimilarityIndex) TopK(query []float32, k int, threshold float64, excludeID int64) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if k <= 0 || len(idx.ids) == 0 {
		return nil
	}

	var matches []Match
	if idx.graph != nil {
		// Over-fetch so threshold filtering still leaves k candidates.
		searchK := k*database.HNSWSearchMultiplier + 1
		for _, n := range idx.graph.Search(query, searchK) {
			if n.Key == excludeID {
				continue
			}
			sim := vectors.CosineSimilarity(query, n.Value)
			if sim >= threshold {
				matches = append(matches, Match{PhotoID: n.Key, Similarity: sim})
			}
		}
	} else {
		for _, id := range idx.ids {
			if id == excludeID {
				continue
			}
			sim := vectors.CosineSimilarity(query, idx.vectors[id])
			if sim >= threshold {
				matches = append(matches, Match{PhotoID: id, Similarity: sim})
			}
		}
	}

	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// AllPairsAboveThreshold returns, for every indexed photo, its neighbors
// with similarity >= threshold (at most maxPerItem each). The relation is
// symmetric: if a lists b then b lists a, barring HNSW recall misses on
// very large collections.
func (idx *SimilarityIndex) AllPairsAboveThreshold(threshold float64, maxPerItem int) map[int64][]Match {
	idx.mu.RLock()
	ids := idx.ids
	idx.mu.RUnlock()

	result := make(map[int64][]Match, len(ids))
	for _, id := range ids {
		idx.mu.RLock()
		query := idx.vectors[id]
		idx.mu.RUnlock()
		if matches := idx.TopK(query, maxPerItem, threshold, id); len(matches) > 0 {
			result[id] = matches
		}
	}
	return result
}

// Vector returns the indexed embedding for a photo, nil if absent.
func (idx *SimilarityIndex) Vector(photoID int64) []float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.vectors[photoID]
}

// sortMatches orders by similarity descending with photo ID as the tie
// breaker, so equal scores always rank the same way.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].PhotoID < matches[j].PhotoID
	})
}
