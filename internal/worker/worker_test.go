package worker

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashModelDeterministic(t *testing.T) {
	m := NewHashModel(64)

	a, err := m.Embed([]string{"func main() {}"})
	require.NoError(t, err)
	b, err := m.Embed([]string{"func main() {}"})
	require.NoError(t, err)

	assert.Equal(t, a, b, "same text must produce the same vector")
	assert.Len(t, a[0], 64)
}

func TestHashModelDistinctTexts(t *testing.T) {
	m := NewHashModel(32)

	vectors, err := m.Embed([]string{"alpha", "beta"})
	require.NoError(t, err)
	assert.NotEqual(t, vectors[0], vectors[1])
}

func TestHashModelUnitNorm(t *testing.T) {
	m := NewHashModel(DefaultDimension)

	vectors, err := m.Embed([]string{"normalize me"})
	require.NoError(t, err)

	var sum float64
	for _, x := range vectors[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestHashModelRejectsEmptyText(t *testing.T) {
	m := NewHashModel(16)

	_, err := m.Embed([]string{"ok", ""})
	assert.Error(t, err)
}

func TestServeAnswersRequests(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	model := NewHashModel(16)
	done := make(chan error, 1)
	go func() {
		done <- Serve(context.Background(), inR, outW, model, nil)
	}()

	enc := NewEncoder(inW)
	dec := NewDecoder(outR)

	var hello Hello
	require.NoError(t, dec.Decode(&hello))
	assert.True(t, hello.Ready)
	assert.Equal(t, 16, hello.Dimension)
	assert.Equal(t, DefaultModelName, hello.Model)

	require.NoError(t, enc.Encode(Request{ID: 1, Texts: []string{"one", "two"}}))

	var resp Response
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, int64(1), resp.ID)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.Vectors, 2)
	assert.Len(t, resp.Vectors[0], 16)

	// Closing stdin ends the serve loop cleanly.
	require.NoError(t, inW.Close())
	assert.NoError(t, <-done)
}

func TestServeReportsEmbedError(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	go func() { _ = Serve(context.Background(), inR, outW, NewHashModel(8), nil) }()
	defer inW.Close()

	enc := NewEncoder(inW)
	dec := NewDecoder(outR)

	var hello Hello
	require.NoError(t, dec.Decode(&hello))

	require.NoError(t, enc.Encode(Request{ID: 7, Texts: []string{""}}))

	var resp Response
	require.NoError(t, dec.Decode(&resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.NotEmpty(t, resp.Error)
	assert.Nil(t, resp.Vectors)
}
