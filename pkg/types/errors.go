package types

import "errors"

// Domain errors shared across the indexing and retrieval core
var (
	// Chunk errors
	ErrMissingEmbedding  = errors.New("chunk has no embedding")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Retrieval errors
	ErrQueryEmbedding = errors.New("failed to embed query")
	ErrEmptyQuery     = errors.New("query cannot be empty")
)
