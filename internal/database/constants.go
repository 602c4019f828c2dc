package database

// HNSW index parameters for image embeddings.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from
	// HNSW to ensure enough remain after threshold filtering.
	HNSWSearchMultiplier = 3

	// HNSWMinCollectionSize is the collection size at which an HNSW graph
	// pays off; smaller sets use the brute-force matrix.
	HNSWMinCollectionSize = 200
)

// Clustering defaults. Any change here must be reflected in a new rule
// version so old and new stacks can coexist.
const (
	// DefaultTimeWindowSeconds bounds the capture-time candidate search.
	DefaultTimeWindowSeconds = 300

	// DefaultSimilarityThreshold is the minimum pairwise cosine similarity
	// within a time-window cluster.
	DefaultSimilarityThreshold = 0.85

	// DefaultMinStackSize discards clusters smaller than this.
	DefaultMinStackSize = 3

	// NormTolerance is the accepted deviation of an embedding's L2 norm
	// from 1.0; vectors outside it are re-normalized before storage.
	NormTolerance = 0.01
)
