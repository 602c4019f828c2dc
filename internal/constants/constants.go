// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// DefaultSearchTopK is the default number of results for similarity search endpoints
	DefaultSearchTopK = 20

	// MaxSearchTopK caps the number of results a search request may ask for
	MaxSearchTopK = 500
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100
)

// Processing constants
const (
	// DefaultConcurrency is the default number of parallel workers for encoding
	DefaultConcurrency = 5

	// DefaultMigrateBatchSize is the batch size for the half-precision migration
	DefaultMigrateBatchSize = 100
)
