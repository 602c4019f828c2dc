package database

import (
	"time"
)

// Precision identifies the storage format of an embedding vector.
type Precision int

const (
	// PrecisionFull stores float32 components (pgvector `vector`).
	PrecisionFull Precision = iota
	// PrecisionHalf stores float16 components (pgvector `halfvec`).
	PrecisionHalf
)

func (p Precision) String() string {
	if p == PrecisionHalf {
		return "half"
	}
	return "full"
}

// EncodeDim folds the precision tag into a signed dimension marker:
// negative means half precision. Pre-existing rows written before the
// half-precision migration carry a plain positive dim and decode as full.
func EncodeDim(dim int, p Precision) int {
	if p == PrecisionHalf {
		return -dim
	}
	return dim
}

// DecodeDim splits a signed dimension marker back into (dim, precision).
func DecodeDim(marker int) (int, Precision) {
	if marker < 0 {
		return -marker, PrecisionHalf
	}
	return marker, PrecisionFull
}

// StoredEmbedding represents an embedding row for a (photo, model) pair.
// Embedding is always exposed as float32 regardless of stored precision.
type StoredEmbedding struct {
	PhotoID     int64
	ProjectID   int64
	Embedding   []float32
	Model       string
	Dim         int // signed marker, see EncodeDim
	ContentHash string
	CreatedAt   time.Time
}

// Precision returns the storage precision derived from the dim marker.
func (e *StoredEmbedding) Precision() Precision {
	_, p := DecodeDim(e.Dim)
	return p
}

// StackType classifies what kind of grouping a stack represents.
type StackType string

const (
	StackTypeDuplicate     StackType = "duplicate"
	StackTypeNearDuplicate StackType = "near_duplicate"
	StackTypeSimilar       StackType = "similar"
	StackTypeBurst         StackType = "burst"
)

// Valid reports whether t is one of the known stack types.
func (t StackType) Valid() bool {
	switch t {
	case StackTypeDuplicate, StackTypeNearDuplicate, StackTypeSimilar, StackTypeBurst:
		return true
	}
	return false
}

// Stack is a materialized group of visually related photos.
type Stack struct {
	ID                    int64
	ProjectID             int64
	Type                  StackType
	RepresentativePhotoID *int64 // nil when no representative could be resolved
	RuleVersion           string
	CreatedBy             string
	CreatedAt             time.Time
	Members               []StackMember
}

// StackMember links a photo to a stack with its similarity to the
// representative (1.0 for the representative itself).
type StackMember struct {
	StackID         int64
	PhotoID         int64
	SimilarityScore float64
	Rank            *int // optional ordering hint
}

// Photo is the read-only view of a photo-catalog record. The catalog is
// owned by the scanning pipeline; this engine never writes to it.
type Photo struct {
	ID          int64
	ProjectID   int64
	TakenAt     *time.Time // nil when capture time is unknown
	Width       int
	Height      int
	Size        int64
	Path        string
	FolderID    int64
	ContentHash string // perceptual hash of current pixels, empty if not computed
}

// Resolution returns the pixel count, the primary representative-selection key.
func (p *Photo) Resolution() int64 {
	return int64(p.Width) * int64(p.Height)
}

// StorageStats summarizes embedding storage across all projects.
type StorageStats struct {
	TotalEmbeddings int
	FullPrecision   int
	HalfPrecision   int
	SpaceSavedPct   float64
}

// ProjectStats extends StorageStats with per-project coverage numbers.
type ProjectStats struct {
	StorageStats
	ProjectID      int64
	PhotoCount     int
	CoveragePct    float64
	StaleCount     int
	CanonicalModel string
}
