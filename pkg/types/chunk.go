package types

import (
	"errors"
	"fmt"
	"time"
)

// ChunkType classifies what kind of source construct a chunk covers
type ChunkType string

const (
	ChunkFunction ChunkType = "function"
	ChunkClass    ChunkType = "class"
	ChunkVariable ChunkType = "variable"
	ChunkModule   ChunkType = "module"
	ChunkOther    ChunkType = "other"
)

// RelationKind names a category of edge between chunks
type RelationKind string

const (
	RelationImports   RelationKind = "imports"
	RelationExports   RelationKind = "exports"
	RelationCalls     RelationKind = "calls"
	RelationCoChanged RelationKind = "co_changed"
)

// Relationships holds the declared edges from a chunk to other chunks or
// external symbols. Values are chunk IDs when the target is indexed, or bare
// symbol names when it is not.
type Relationships struct {
	Imports   []string `json:"imports,omitempty"`
	Exports   []string `json:"exports,omitempty"`
	Calls     []string `json:"calls,omitempty"`
	CoChanged []string `json:"co_changed,omitempty"`
}

// All returns every outgoing edge regardless of kind.
func (r Relationships) All() []string {
	out := make([]string, 0, len(r.Imports)+len(r.Exports)+len(r.Calls)+len(r.CoChanged))
	out = append(out, r.Imports...)
	out = append(out, r.Exports...)
	out = append(out, r.Calls...)
	out = append(out, r.CoChanged...)
	return out
}

// IsEmpty reports whether the chunk declares no edges at all.
func (r Relationships) IsEmpty() bool {
	return len(r.Imports) == 0 && len(r.Exports) == 0 && len(r.Calls) == 0 && len(r.CoChanged) == 0
}

// Chunk represents a semantically meaningful code section for embedding and search
type Chunk struct {
	// Identification
	ID       string `json:"id"`
	FilePath string `json:"file_path"` // Relative to repository root

	// Content
	Content    string    `json:"content"`
	SymbolName string    `json:"symbol_name,omitempty"`
	Type       ChunkType `json:"type"`

	// Location
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Embedding is empty until the chunk has been run through the pool.
	// A chunk with no embedding is transient and must never be persisted.
	Embedding []float32 `json:"embedding,omitempty"`

	// Relationships to other chunks or external symbols
	Relationships Relationships `json:"relationships"`

	IndexedAt time.Time `json:"indexed_at"`
}

// HasEmbedding reports whether the chunk carries a committed embedding.
func (c *Chunk) HasEmbedding() bool {
	return len(c.Embedding) > 0
}

// TokenCount estimates the number of tokens in the chunk content.
// Uses a simple heuristic: characters / 4
func (c *Chunk) TokenCount() int {
	n := len(c.Content) / 4
	if n == 0 && c.Content != "" {
		n = 1
	}
	return n
}

// ValidateContent checks if the chunk content and location are valid
func (c *Chunk) ValidateContent() error {
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}

	if c.FilePath == "" {
		return errors.New("chunk file path cannot be empty")
	}

	if c.StartLine <= 0 || c.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if c.StartLine > c.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// ValidateType checks if the chunk type is one of the known kinds
func (c *Chunk) ValidateType() error {
	switch c.Type {
	case ChunkFunction, ChunkClass, ChunkVariable, ChunkModule, ChunkOther:
		return nil
	default:
		return fmt.Errorf("invalid chunk type %q", c.Type)
	}
}

// Validate performs comprehensive validation of the chunk
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk ID is required")
	}

	if err := c.ValidateContent(); err != nil {
		return err
	}

	return c.ValidateType()
}

// ValidateEmbedded checks the chunk is valid and carries an embedding of the
// given dimension. Used at commit time: only embedded chunks may be persisted.
func (c *Chunk) ValidateEmbedded(dimension int) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if !c.HasEmbedding() {
		return fmt.Errorf("chunk %s: %w", c.ID, ErrMissingEmbedding)
	}

	if dimension > 0 && len(c.Embedding) != dimension {
		return fmt.Errorf("chunk %s: %w: got %d, want %d",
			c.ID, ErrDimensionMismatch, len(c.Embedding), dimension)
	}

	return nil
}
