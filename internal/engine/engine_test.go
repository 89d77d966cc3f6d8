package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/pkg/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChunker serves canned chunks per file and can be told to fail.
type fakeChunker struct {
	mu     sync.Mutex
	chunks map[string][]types.Chunk
	failOn map[string]bool
	calls  int
}

func (f *fakeChunker) ChunkFile(_ context.Context, path string) ([]types.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn[path] {
		return nil, errors.New("unparseable file")
	}
	return f.chunks[path], nil
}

// fakeEmbedder returns unit vectors and counts embedded texts.
type fakeEmbedder struct {
	mu      sync.Mutex
	err     error
	texts   int
	batches int

	// block, when set, holds every call until released.
	started chan struct{}
	release chan struct{}
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.started != nil {
		f.started <- struct{}{}
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.batches++
	f.texts += len(texts)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func testChunk(id, file string) types.Chunk {
	return types.Chunk{
		ID:        id,
		FilePath:  file,
		Content:   "func " + id + "() {}",
		Type:      types.ChunkFunction,
		StartLine: 1,
		EndLine:   3,
	}
}

func mapHashFn(hashes map[string]string) store.HashFunc {
	return func(path string) (string, error) {
		h, ok := hashes[path]
		if !ok {
			return "", fmt.Errorf("open %s: no such file", path)
		}
		return h, nil
	}
}

func newTestStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := store.Open(store.Config{
		LocalPath: path,
		Model:     "test-model",
		Dimension: 4,
	}, quietLogger())
	require.NoError(t, err)
	return s, path
}

func newTestEngine(t *testing.T, s *store.Store, chunker *fakeChunker, emb *fakeEmbedder) *Engine {
	t.Helper()
	e, err := New(s, chunker, emb, Config{}, quietLogger())
	require.NoError(t, err)
	return e
}

func TestNewRequiresDependencies(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{}
	emb := &fakeEmbedder{}

	_, err := New(nil, chunker, emb, Config{}, nil)
	assert.Error(t, err)
	_, err = New(s, nil, emb, Config{}, nil)
	assert.Error(t, err)
	_, err = New(s, chunker, nil, Config{}, nil)
	assert.Error(t, err)
}

func TestReindexAddsFiles(t *testing.T) {
	s, localPath := newTestStore(t)
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{
		"a.go": {testChunk("a1", "a.go"), testChunk("a2", "a.go")},
		"b.go": {testChunk("b1", "b.go")},
	}}
	emb := &fakeEmbedder{}
	e := newTestEngine(t, s, chunker, emb)

	hashes := map[string]string{"a.go": "h1", "b.go": "h2"}
	stats, err := e.Reindex(context.Background(), []string{"a.go", "b.go"}, mapHashFn(hashes))
	require.NoError(t, err)

	assert.Equal(t, 2, stats.FilesAdded)
	assert.Equal(t, 3, stats.ChunksEmbedded)
	assert.Empty(t, stats.ErrorMessages)
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 3, emb.texts)

	c, ok := s.Chunk("a1")
	require.True(t, ok)
	assert.True(t, c.HasEmbedding())
	assert.False(t, c.IndexedAt.IsZero())

	// The run persisted an artifact.
	assert.FileExists(t, localPath)
}

func TestReindexUnchangedIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{
		"a.go": {testChunk("a1", "a.go")},
	}}
	emb := &fakeEmbedder{}
	e := newTestEngine(t, s, chunker, emb)

	hashes := map[string]string{"a.go": "h1"}
	_, err := e.Reindex(context.Background(), []string{"a.go"}, mapHashFn(hashes))
	require.NoError(t, err)
	callsAfterFirst := chunker.calls

	stats, err := e.Reindex(context.Background(), []string{"a.go"}, mapHashFn(hashes))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesUnchanged)
	assert.Equal(t, 0, stats.ChunksEmbedded)
	assert.Equal(t, callsAfterFirst, chunker.calls, "unchanged files are not re-chunked")
}

func TestReindexModifiedReplacesChunks(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{
		"a.go": {testChunk("old", "a.go")},
	}}
	emb := &fakeEmbedder{}
	e := newTestEngine(t, s, chunker, emb)

	_, err := e.Reindex(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "v1"}))
	require.NoError(t, err)

	chunker.chunks["a.go"] = []types.Chunk{testChunk("new", "a.go")}
	stats, err := e.Reindex(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "v2"}))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesModified)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Chunk("old")
	assert.False(t, ok)
	_, ok = s.Chunk("new")
	assert.True(t, ok)
}

func TestReindexRemovesDeletedFiles(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{
		"a.go": {testChunk("a1", "a.go")},
		"b.go": {testChunk("b1", "b.go")},
	}}
	emb := &fakeEmbedder{}
	e := newTestEngine(t, s, chunker, emb)

	hashes := map[string]string{"a.go": "h1", "b.go": "h2"}
	_, err := e.Reindex(context.Background(), []string{"a.go", "b.go"}, mapHashFn(hashes))
	require.NoError(t, err)

	stats, err := e.Reindex(context.Background(), []string{"a.go"}, mapHashFn(hashes))
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesDeleted)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Chunk("b1")
	assert.False(t, ok)
}

func TestReindexChunkerFailureSkipsFile(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{
		chunks: map[string][]types.Chunk{
			"good.go": {testChunk("g1", "good.go")},
		},
		failOn: map[string]bool{"bad.go": true},
	}
	emb := &fakeEmbedder{}
	e := newTestEngine(t, s, chunker, emb)

	hashes := map[string]string{"good.go": "h1", "bad.go": "h2"}
	stats, err := e.Reindex(context.Background(), []string{"good.go", "bad.go"}, mapHashFn(hashes))
	require.NoError(t, err, "one bad file must not fail the run")

	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "bad.go")
	assert.Equal(t, 1, s.Len())
	_, ok := s.Chunk("g1")
	assert.True(t, ok)
}

func TestReindexEmbedFailureAborts(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{
		"a.go": {testChunk("a1", "a.go")},
	}}
	emb := &fakeEmbedder{err: errors.New("pool exhausted")}
	e := newTestEngine(t, s, chunker, emb)

	_, err := e.Reindex(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "h1"}))
	require.Error(t, err)

	assert.Equal(t, 0, s.Len(), "a failed run leaves the store untouched")
}

func TestReindexAssignsMissingChunkIDs(t *testing.T) {
	s, _ := newTestStore(t)
	anon := testChunk("", "a.go")
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{"a.go": {anon}}}
	emb := &fakeEmbedder{}
	e := newTestEngine(t, s, chunker, emb)

	_, err := e.Reindex(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "h1"}))
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Chunks, 1)
	assert.NotEmpty(t, snap.Chunks[0].ID)
}

func TestReindexBatchesLargeRuns(t *testing.T) {
	s, _ := newTestStore(t)
	var chunks []types.Chunk
	for i := 0; i < 10; i++ {
		chunks = append(chunks, testChunk(fmt.Sprintf("c%02d", i), "big.go"))
	}
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{"big.go": chunks}}
	emb := &fakeEmbedder{}

	e, err := New(s, chunker, emb, Config{BatchSize: 4}, quietLogger())
	require.NoError(t, err)

	stats, err := e.Reindex(context.Background(), []string{"big.go"},
		mapHashFn(map[string]string{"big.go": "h1"}))
	require.NoError(t, err)

	assert.Equal(t, 10, stats.ChunksEmbedded)
	assert.Equal(t, 3, emb.batches)
	assert.Equal(t, 10, s.Len())
}

func TestReindexRefusesConcurrentRuns(t *testing.T) {
	s, _ := newTestStore(t)
	chunker := &fakeChunker{chunks: map[string][]types.Chunk{
		"a.go": {testChunk("a1", "a.go")},
	}}
	emb := &fakeEmbedder{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	e := newTestEngine(t, s, chunker, emb)

	done := make(chan error, 1)
	go func() {
		_, err := e.Reindex(context.Background(), []string{"a.go"},
			mapHashFn(map[string]string{"a.go": "h1"}))
		done <- err
	}()

	<-emb.started
	_, err := e.Reindex(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "h1"}))
	assert.ErrorIs(t, err, ErrReindexInProgress)

	close(emb.release)
	require.NoError(t, <-done)

	// The lock is free again once the first run finishes.
	stats, err := e.Reindex(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "h1"}))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesUnchanged)
}
