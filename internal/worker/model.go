package worker

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// Model converts text batches to fixed-dimension vectors. A worker process
// loads exactly one Model instance and shares it with nothing.
type Model interface {
	Embed(texts []string) ([][]float32, error)
	Dimension() int
	Name() string
}

// Default model parameters
const (
	DefaultDimension = 384
	DefaultModelName = "codelens-hash-v1"
)

// HashModel is a deterministic, dependency-free embedding model: the vector
// is derived from iterated SHA-256 of the text and L2-normalized. Similar
// only to identical text, which is enough for the pool and store machinery;
// a neural model slots in behind the same interface.
type HashModel struct {
	dimension int
	name      string
}

// NewHashModel creates a hash-based model with the given dimension.
func NewHashModel(dimension int) *HashModel {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HashModel{dimension: dimension, name: DefaultModelName}
}

// Embed generates one vector per input text, in input order.
func (m *HashModel) Embed(texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text at index %d is empty", i)
		}
		vectors[i] = m.embedOne(text)
	}
	return vectors, nil
}

func (m *HashModel) embedOne(text string) []float32 {
	vector := make([]float32, m.dimension)

	// Stretch the digest across the full dimension by hashing with a counter
	seed := sha256.Sum256([]byte(text))
	var block [sha256.Size + 8]byte
	copy(block[:], seed[:])

	for i := 0; i < m.dimension; {
		binary.LittleEndian.PutUint64(block[sha256.Size:], uint64(i))
		digest := sha256.Sum256(block[:])
		for j := 0; j < len(digest) && i < m.dimension; j++ {
			vector[i] = float32(digest[j])/127.5 - 1.0
			i++
		}
	}

	normalize(vector)
	return vector
}

// normalize scales a vector to unit length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// Dimension returns the vector length this model produces.
func (m *HashModel) Dimension() int {
	return m.dimension
}

// Name returns the model identifier.
func (m *HashModel) Name() string {
	return m.name
}
