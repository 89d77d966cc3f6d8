package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChunk() Chunk {
	return Chunk{
		ID:        "internal/auth/auth.go#Login",
		FilePath:  "internal/auth/auth.go",
		Content:   "func Login(user, pass string) error {\n\treturn nil\n}",
		Type:      ChunkFunction,
		StartLine: 10,
		EndLine:   12,
	}
}

func TestChunkValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Chunk)
		wantErr bool
	}{
		{
			name:    "valid chunk",
			mutate:  func(c *Chunk) {},
			wantErr: false,
		},
		{
			name:    "missing ID",
			mutate:  func(c *Chunk) { c.ID = "" },
			wantErr: true,
		},
		{
			name:    "empty content",
			mutate:  func(c *Chunk) { c.Content = "" },
			wantErr: true,
		},
		{
			name:    "empty file path",
			mutate:  func(c *Chunk) { c.FilePath = "" },
			wantErr: true,
		},
		{
			name:    "zero start line",
			mutate:  func(c *Chunk) { c.StartLine = 0 },
			wantErr: true,
		},
		{
			name:    "start after end",
			mutate:  func(c *Chunk) { c.StartLine = 20 },
			wantErr: true,
		},
		{
			name:    "unknown chunk type",
			mutate:  func(c *Chunk) { c.Type = "lambda" },
			wantErr: true,
		},
		{
			name:    "all known chunk types accepted",
			mutate:  func(c *Chunk) { c.Type = ChunkModule },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChunk()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChunkValidateEmbedded(t *testing.T) {
	c := validChunk()

	err := c.ValidateEmbedded(4)
	require.ErrorIs(t, err, ErrMissingEmbedding)

	c.Embedding = []float32{0.1, 0.2, 0.3}
	err = c.ValidateEmbedded(4)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	c.Embedding = []float32{0.1, 0.2, 0.3, 0.4}
	assert.NoError(t, c.ValidateEmbedded(4))

	// Dimension 0 accepts any non-empty embedding
	assert.NoError(t, c.ValidateEmbedded(0))
}

func TestChunkTokenCount(t *testing.T) {
	c := Chunk{Content: "abcdefgh"}
	assert.Equal(t, 2, c.TokenCount())

	c.Content = "ab"
	assert.Equal(t, 1, c.TokenCount(), "short content rounds up to one token")

	c.Content = ""
	assert.Equal(t, 0, c.TokenCount())
}

func TestRelationshipsAll(t *testing.T) {
	r := Relationships{
		Imports:   []string{"a"},
		Exports:   []string{"b"},
		Calls:     []string{"c", "d"},
		CoChanged: []string{"e"},
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, r.All())
	assert.False(t, r.IsEmpty())
	assert.True(t, Relationships{}.IsEmpty())
}

func TestContextPackageStats(t *testing.T) {
	pkg := ContextPackage{TokenBudget: 100, TokensUsed: 50}
	assert.InDelta(t, 0.5, pkg.TokenUtilization(), 1e-9)
	assert.True(t, pkg.IsEmpty())

	pkg.TokenBudget = 0
	assert.Zero(t, pkg.TokenUtilization())
}
