// Package types provides shared type definitions for the codelens core.
//
// This package defines the domain types used across the embedding pool,
// vector store, and retrieval engine.
//
// # Core Types
//
// Chunk represents a semantic code section for embedding and search:
//
//	chunk := types.Chunk{
//	    ID:       "auth.go:42",
//	    FilePath: "internal/auth/auth.go",
//	    Content:  functionBody,
//	    Type:     types.ChunkFunction,
//	}
//
// A Chunk flows through two states: unembedded (fresh from the chunker, only
// ever held transiently) and embedded (committed to the store and servable).
// ValidateEmbedded enforces the boundary between the two.
//
// ContextPackage is the retrieval engine's output: an ordered, scored,
// token-budgeted selection of chunks plus aggregate coverage stats.
//
// # Validation
//
// All domain types implement validation methods to ensure data integrity:
//
//	if err := chunk.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package types
