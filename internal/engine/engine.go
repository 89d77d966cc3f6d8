package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codelens-dev/codelens/internal/store"
	"github.com/codelens-dev/codelens/pkg/types"
)

// Engine errors
var (
	ErrReindexInProgress = errors.New("another reindex is already running")
)

// Chunker parses one file into unembedded chunk records. Supplied by the
// caller; chunking strategy is not the core's concern.
type Chunker interface {
	ChunkFile(ctx context.Context, path string) ([]types.Chunk, error)
}

// Embedder converts texts to vectors. *pool.Pool satisfies this.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes the indexing pipeline.
type Config struct {
	BatchSize   int // Chunks per embedding batch (default 64)
	Concurrency int // Embedding batches in flight at once (default 4)
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Statistics describes one reindex run.
type Statistics struct {
	FilesAdded     int
	FilesModified  int
	FilesDeleted   int
	FilesUnchanged int
	ChunksEmbedded int
	Duration       time.Duration
	ErrorMessages  []string
}

// Engine coordinates the indexing pipeline: delta -> chunk -> embed ->
// commit -> save. The scanner and chunker stay outside; the engine only
// consumes their outputs.
type Engine struct {
	store    *store.Store
	chunker  Chunker
	embedder Embedder
	cfg      Config
	logger   *slog.Logger

	// reindexMu is only ever TryLocked: a reindex that finds another run
	// in flight is refused immediately instead of queued.
	reindexMu sync.Mutex
}

// New creates an engine over a store, a chunker, and an embedder.
func New(st *store.Store, chunker Chunker, embedder Embedder, cfg Config, logger *slog.Logger) (*Engine, error) {
	if st == nil || chunker == nil || embedder == nil {
		return nil, errors.New("store, chunker, and embedder are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:    st,
		chunker:  chunker,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}, nil
}

// Reindex brings the store up to date with the given file listing: compute
// the delta, re-chunk and embed only the files that changed, commit, and
// persist. Only one reindex runs at a time per engine; a second call is
// refused with ErrReindexInProgress.
func (e *Engine) Reindex(ctx context.Context, currentFiles []string, hashFn store.HashFunc) (*Statistics, error) {
	if !e.reindexMu.TryLock() {
		return nil, ErrReindexInProgress
	}
	defer e.reindexMu.Unlock()

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	delta, err := e.store.CalculateDelta(ctx, currentFiles, hashFn)
	if err != nil {
		return nil, fmt.Errorf("calculate delta: %w", err)
	}
	stats.FilesAdded = len(delta.Added)
	stats.FilesModified = len(delta.Modified)
	stats.FilesDeleted = len(delta.Deleted)
	stats.FilesUnchanged = len(delta.Unchanged)

	if delta.IsEmpty() {
		stats.Duration = time.Since(start)
		e.logger.Info("reindex: nothing to do", "files", len(currentFiles))
		return stats, nil
	}

	chunks := e.chunkFiles(ctx, delta.NeedsEmbedding(), stats)

	if err := e.embedChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	stats.ChunksEmbedded = len(chunks)

	if err := e.store.Commit(delta, chunks); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if err := e.store.Save(); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	stats.Duration = time.Since(start)
	e.logger.Info("reindex complete",
		"added", stats.FilesAdded, "modified", stats.FilesModified,
		"deleted", stats.FilesDeleted, "chunks", stats.ChunksEmbedded,
		"duration", stats.Duration)
	return stats, nil
}

// chunkFiles runs the external chunker over every file needing (re)embedding.
// A file the chunker cannot handle is logged and skipped; its stale chunks
// are still removed at commit so the index never serves outdated content.
func (e *Engine) chunkFiles(ctx context.Context, files []string, stats *Statistics) []types.Chunk {
	var chunks []types.Chunk
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		fileChunks, err := e.chunker.ChunkFile(ctx, path)
		if err != nil {
			msg := fmt.Sprintf("chunk %s: %v", path, err)
			stats.ErrorMessages = append(stats.ErrorMessages, msg)
			e.logger.Warn("chunker failed, skipping file", "file", path, "err", err)
			continue
		}
		for i := range fileChunks {
			if fileChunks[i].ID == "" {
				fileChunks[i].ID = uuid.NewString()
			}
		}
		chunks = append(chunks, fileChunks...)
	}
	return chunks
}

// embedChunks fills in embeddings, dispatching batches concurrently with a
// semaphore bound. Each chunk's vector lands back at its own position.
func (e *Engine) embedChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	semaphore := make(chan struct{}, e.cfg.Concurrency)
	var mu sync.Mutex

	for off := 0; off < len(chunks); off += e.cfg.BatchSize {
		end := min(off+e.cfg.BatchSize, len(chunks))
		batch := chunks[off:end]

		g.Go(func() error {
			select {
			case semaphore <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-semaphore }()

			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Content
			}

			vectors, err := e.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}

			mu.Lock()
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}
