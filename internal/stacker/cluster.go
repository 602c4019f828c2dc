package stacker

import "sort"

// simFunc returns the cosine similarity between two photos' embeddings.
type simFunc func(a, b int64) float64

// growCluster performs complete-linkage accretion around a seed: a candidate
// joins only if it clears the threshold against every member already in the
// cluster. Candidates are visited in ascending ID order so the same input
// always yields the same cluster.
func growCluster(seed int64, candidates []int64, sim simFunc, threshold float64) []int64 {
	sorted := append([]int64(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	members := []int64{seed}
	for _, id := range sorted {
		if id == seed {
			continue
		}
		if linkedToAll(id, members, sim, threshold) {
			members = append(members, id)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}

// clusterComplete partitions ids into complete-linkage clusters: every pair
// inside a cluster has similarity >= threshold. Seeds are taken in ascending
// ID order and accrete only from their own neighbor list, which is enough:
// complete linkage requires every member to clear the threshold against the
// seed itself. Singletons are returned too, the caller filters by size.
func clusterComplete(ids []int64, neighbors map[int64][]int64, sim simFunc, threshold float64) [][]int64 {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	taken := make(map[int64]bool, len(sorted))
	var clusters [][]int64
	for _, seed := range sorted {
		if taken[seed] {
			continue
		}
		candidates := make([]int64, 0, len(neighbors[seed]))
		for _, id := range neighbors[seed] {
			if !taken[id] {
				candidates = append(candidates, id)
			}
		}
		members := growCluster(seed, candidates, sim, threshold)
		for _, id := range members {
			taken[id] = true
		}
		clusters = append(clusters, members)
	}
	return clusters
}

func linkedToAll(id int64, members []int64, sim simFunc, threshold float64) bool {
	for _, m := range members {
		if sim(id, m) < threshold {
			return false
		}
	}
	return true
}

// containsAll reports whether set contains every element of subset.
func containsAll(set map[int64]bool, subset []int64) bool {
	for _, id := range subset {
		if !set[id] {
			return false
		}
	}
	return true
}
