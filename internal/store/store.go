package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codelens-dev/codelens/pkg/types"
)

// Store errors
var (
	ErrStoreCorrupt    = errors.New("index unusable at both storage locations")
	ErrRebuildRequired = errors.New("index schema or model mismatch, full rebuild required")
	ErrNoLocalPath     = errors.New("local index path is required")
)

// Config describes a store instance. One store holds exactly one
// repository's index.
type Config struct {
	LocalPath  string // Repo-local artifact path (required)
	GlobalPath string // Globally synchronized copy ("" disables the second copy)
	Model      string // Embedding model tag persisted with the index
	Dimension  int    // Expected embedding dimension (0 = accept any)
}

// Stats summarizes store contents and persistence state.
type Stats struct {
	Chunks     int
	Files      int
	UpdatedAt  time.Time
	LocalPath  string
	GlobalPath string
	LastSaved  time.Time
	LastSynced time.Time // Last successful write of the global copy
}

// Store is the authoritative in-memory index: chunk records plus per-file
// content hashes, persisted as a dual-location bbolt artifact.
//
// Concurrency: Commit and Save are serialized by writeMu (single-writer
// discipline); reads go through mu and always observe the last fully
// committed state.
type Store struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex // Serializes Commit/Save/Load

	mu        sync.RWMutex
	chunks    map[string]types.Chunk            // chunk ID -> chunk
	byFile    map[string]map[string]struct{}    // file path -> chunk IDs
	files     map[string]string                 // file path -> content hash (hex)
	updatedAt time.Time

	snap      *Snapshot
	snapStale bool

	lastSaved  time.Time
	lastSynced time.Time
}

// Open creates a store bound to the given artifact locations. Call Load to
// pull existing state from disk.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.LocalPath == "" {
		return nil, ErrNoLocalPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		cfg:       cfg,
		logger:    logger,
		chunks:    make(map[string]types.Chunk),
		byFile:    make(map[string]map[string]struct{}),
		files:     make(map[string]string),
		snapStale: true,
	}, nil
}

// Commit applies a delta: chunks of modified and deleted files are removed,
// freshly embedded chunks are inserted, and file hashes are updated for
// every touched file. Chunks without a valid embedding are rejected before
// anything is mutated, so a failed commit leaves the store untouched.
func (s *Store) Commit(delta Delta, chunks []types.Chunk) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i := range chunks {
		if err := chunks[i].ValidateEmbedded(s.cfg.Dimension); err != nil {
			return fmt.Errorf("commit rejected: %w", err)
		}
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range delta.Modified {
		s.removeFileLocked(path)
	}
	for _, path := range delta.Deleted {
		s.removeFileLocked(path)
		delete(s.files, path)
	}

	for _, c := range chunks {
		if c.IndexedAt.IsZero() {
			c.IndexedAt = now
		}
		s.insertLocked(c)
	}

	// Record the hashes computed during delta classification. A file whose
	// hash could not be computed stays absent and will be reclassified as
	// modified on the next delta.
	for _, path := range delta.Added {
		if h, ok := delta.Hashes[path]; ok {
			s.files[path] = h
		}
	}
	for _, path := range delta.Modified {
		if h, ok := delta.Hashes[path]; ok {
			s.files[path] = h
		}
	}

	s.updatedAt = now
	s.snapStale = true
	return nil
}

// insertLocked adds one chunk to the maps. Caller holds mu.
func (s *Store) insertLocked(c types.Chunk) {
	if old, ok := s.chunks[c.ID]; ok {
		// Replacing a chunk that moved between files: unhook the old owner.
		if old.FilePath != c.FilePath {
			if ids := s.byFile[old.FilePath]; ids != nil {
				delete(ids, c.ID)
			}
		}
	}
	s.chunks[c.ID] = c
	ids := s.byFile[c.FilePath]
	if ids == nil {
		ids = make(map[string]struct{})
		s.byFile[c.FilePath] = ids
	}
	ids[c.ID] = struct{}{}
}

// removeFileLocked drops every chunk owned by a file. Caller holds mu.
func (s *Store) removeFileLocked(path string) {
	for id := range s.byFile[path] {
		delete(s.chunks, id)
	}
	delete(s.byFile, path)
}

// Chunk returns one chunk by ID.
func (s *Store) Chunk(id string) (types.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	return c, ok
}

// Len returns the number of committed chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Stats returns store and persistence statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Chunks:     len(s.chunks),
		Files:      len(s.files),
		UpdatedAt:  s.updatedAt,
		LocalPath:  s.cfg.LocalPath,
		GlobalPath: s.cfg.GlobalPath,
		LastSaved:  s.lastSaved,
		LastSynced: s.lastSynced,
	}
}
