// Package constants provides shared constants used across the codebase.
package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for job event listeners
	EventChannelBuffer = 100
)

// Upload constants
const (
	// MaxQueryImageSize is the largest identification image accepted over HTTP (16MB)
	MaxQueryImageSize = 16 << 20

	// MaxEmbeddingRequestSize bounds a JSON query embedding request body (1MB)
	MaxEmbeddingRequestSize = 1 << 20

	// MaxEnrollRequestSize bounds an enrollment request body (4KB)
	MaxEnrollRequestSize = 4 << 10
)

// Job constants
const (
	// FinishedJobRetention is how many finished enrollment jobs are kept for status queries
	FinishedJobRetention = 50
)
