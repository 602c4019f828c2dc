package stacker

import (
	"math"
	"testing"
)

// angleSim builds a similarity function from per-photo angles: the
// similarity of two photos is the cosine of their angle difference.
func angleSim(angles map[int64]float64) simFunc {
	return func(a, b int64) float64 {
		return math.Cos(angles[a] - angles[b])
	}
}

// fullNeighbors links every id to every other, the shape the index returns
// when all pairs clear the threshold.
func fullNeighbors(ids []int64) map[int64][]int64 {
	neighbors := make(map[int64][]int64, len(ids))
	for _, a := range ids {
		for _, b := range ids {
			if a != b {
				neighbors[a] = append(neighbors[a], b)
			}
		}
	}
	return neighbors
}

func TestGrowClusterCompleteLinkage(t *testing.T) {
	// 1~2 and 2~3 clear 0.95, but 1~3 does not: complete linkage keeps 3
	// out even though it chains to 2.
	sim := angleSim(map[int64]float64{1: 0, 2: 0.25, 3: 0.5})

	cluster := growCluster(1, []int64{2, 3}, sim, 0.95)
	if len(cluster) != 2 || cluster[0] != 1 || cluster[1] != 2 {
		t.Errorf("Expected [1 2], got %v", cluster)
	}
}

func TestGrowClusterUnsortedCandidates(t *testing.T) {
	sim := angleSim(map[int64]float64{5: 0, 3: 0.05, 9: 0.1, 1: 1.5})

	cluster := growCluster(5, []int64{9, 1, 3}, sim, 0.9)
	if len(cluster) != 3 || cluster[0] != 3 || cluster[1] != 5 || cluster[2] != 9 {
		t.Errorf("Expected [3 5 9], got %v", cluster)
	}
}

func TestClusterCompletePartitions(t *testing.T) {
	sim := angleSim(map[int64]float64{1: 0, 2: 0.05, 3: 0.1, 4: 2.0, 5: 2.05})

	ids := []int64{1, 2, 3, 4, 5}
	clusters := clusterComplete(ids, fullNeighbors(ids), sim, 0.95)

	seen := make(map[int64]int)
	for _, cluster := range clusters {
		for _, id := range cluster {
			seen[id]++
		}
	}
	for id := int64(1); id <= 5; id++ {
		if seen[id] != 1 {
			t.Errorf("Photo %d appears %d times across clusters", id, seen[id])
		}
	}
	if len(clusters) != 2 {
		t.Errorf("Expected 2 clusters, got %d: %v", len(clusters), clusters)
	}
}

func TestClusterCompleteSingletons(t *testing.T) {
	sim := angleSim(map[int64]float64{1: 0, 2: 1.5})

	ids := []int64{1, 2}
	clusters := clusterComplete(ids, fullNeighbors(ids), sim, 0.9)
	if len(clusters) != 2 {
		t.Fatalf("Expected 2 singleton clusters, got %v", clusters)
	}
	for _, cluster := range clusters {
		if len(cluster) != 1 {
			t.Errorf("Expected singleton, got %v", cluster)
		}
	}
}

func TestClusterCompleteNeighborListsMatchFullScan(t *testing.T) {
	// Restricting candidates to above-threshold neighbors yields the same
	// partition as offering every id, since sub-threshold candidates are
	// rejected either way.
	angles := map[int64]float64{1: 0, 2: 0.05, 3: 0.1, 4: 2.0, 5: 2.05}
	sim := angleSim(angles)
	ids := []int64{1, 2, 3, 4, 5}
	threshold := 0.95

	restricted := make(map[int64][]int64)
	for _, a := range ids {
		for _, b := range ids {
			if a != b && sim(a, b) >= threshold {
				restricted[a] = append(restricted[a], b)
			}
		}
	}

	full := clusterComplete(ids, fullNeighbors(ids), sim, threshold)
	sparse := clusterComplete(ids, restricted, sim, threshold)

	if len(full) != len(sparse) {
		t.Fatalf("Cluster counts differ: %v vs %v", full, sparse)
	}
	for i := range full {
		if len(full[i]) != len(sparse[i]) {
			t.Fatalf("Cluster %d differs: %v vs %v", i, full[i], sparse[i])
		}
		for j := range full[i] {
			if full[i][j] != sparse[i][j] {
				t.Errorf("Cluster %d member %d differs: %d vs %d", i, j, full[i][j], sparse[i][j])
			}
		}
	}
}

func TestClusterCompleteDeterministic(t *testing.T) {
	angles := map[int64]float64{10: 0, 20: 0.04, 30: 0.08, 40: 0.12, 50: 1.0}
	sim := angleSim(angles)
	ids := []int64{50, 40, 30, 20, 10}

	first := clusterComplete(ids, fullNeighbors(ids), sim, 0.99)
	second := clusterComplete([]int64{10, 20, 30, 40, 50}, fullNeighbors(ids), sim, 0.99)

	if len(first) != len(second) {
		t.Fatalf("Cluster counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i]) != len(second[i]) {
			t.Fatalf("Cluster %d sizes differ: %v vs %v", i, first[i], second[i])
		}
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Errorf("Cluster %d member %d differs: %d vs %d", i, j, first[i][j], second[i][j])
			}
		}
	}
}
