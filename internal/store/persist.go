package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/codelens-dev/codelens/pkg/types"
)

// SchemaVersion tags the persisted artifact layout.
const SchemaVersion = 1

var (
	bucketChunks = []byte("chunks")
	bucketFiles  = []byte("files")
	bucketMeta   = []byte("meta")

	keySchema    = []byte("schema_version")
	keyModel     = []byte("model")
	keyDimension = []byte("dimension")
	keyUpdatedAt = []byte("updated_at")
)

// artifact is a fully decoded persisted index.
type artifact struct {
	chunks    []types.Chunk
	files     map[string]string
	model     string
	dimension int
	updatedAt time.Time
}

// Save writes the full index to the local location and, when configured, to
// the global location. Each write lands in a temporary file that is
// atomically promoted, so an interrupted save can never leave a partial
// artifact visible to the next Load.
func (s *Store) Save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	chunks := make([]types.Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		chunks = append(chunks, c)
	}
	files := make(map[string]string, len(s.files))
	for path, h := range s.files {
		files[path] = h
	}
	updatedAt := s.updatedAt
	s.mu.RUnlock()

	art := artifact{
		chunks:    chunks,
		files:     files,
		model:     s.cfg.Model,
		dimension: s.cfg.Dimension,
		updatedAt: updatedAt,
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := writeArtifact(s.cfg.LocalPath, art); err != nil {
			return fmt.Errorf("write local index: %w", err)
		}
		return nil
	})
	if s.cfg.GlobalPath != "" {
		g.Go(func() error {
			if err := writeArtifact(s.cfg.GlobalPath, art); err != nil {
				return fmt.Errorf("write global index: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	s.lastSaved = now
	if s.cfg.GlobalPath != "" {
		s.lastSynced = now
	}
	s.mu.Unlock()

	s.logger.Info("index saved", "chunks", len(chunks), "files", len(files),
		"local", s.cfg.LocalPath, "global", s.cfg.GlobalPath)
	return nil
}

// Load reads the index, preferring whichever location carries the newer
// last-modified timestamp, and synchronizes the other location to match. A
// copy that fails to open or decode is logged and skipped; if every
// configured location is unusable, ErrStoreCorrupt is returned. Two missing
// copies are a fresh store, not an error.
func (s *Store) Load() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	type copyState struct {
		path string
		art  *artifact
		err  error
	}

	locations := []copyState{{path: s.cfg.LocalPath}}
	if s.cfg.GlobalPath != "" {
		locations = append(locations, copyState{path: s.cfg.GlobalPath})
	}

	missing := 0
	for i := range locations {
		art, err := readArtifact(locations[i].path)
		if err != nil {
			if os.IsNotExist(err) {
				missing++
				continue
			}
			s.logger.Warn("index copy unusable", "path", locations[i].path, "err", err)
			locations[i].err = err
			continue
		}
		if art.dimension != 0 && s.cfg.Dimension != 0 && art.dimension != s.cfg.Dimension {
			s.logger.Warn("index copy has wrong dimension",
				"path", locations[i].path, "got", art.dimension, "want", s.cfg.Dimension)
			locations[i].err = ErrRebuildRequired
			continue
		}
		if art.model != "" && s.cfg.Model != "" && art.model != s.cfg.Model {
			s.logger.Warn("index copy built with different model",
				"path", locations[i].path, "got", art.model, "want", s.cfg.Model)
			locations[i].err = ErrRebuildRequired
			continue
		}
		locations[i].art = art
	}

	if missing == len(locations) {
		return nil // First run: nothing persisted yet.
	}

	// Newest usable copy wins.
	var chosen *copyState
	for i := range locations {
		if locations[i].art == nil {
			continue
		}
		if chosen == nil || locations[i].art.updatedAt.After(chosen.art.updatedAt) {
			chosen = &locations[i]
		}
	}
	if chosen == nil {
		for _, loc := range locations {
			if loc.err == ErrRebuildRequired {
				return ErrRebuildRequired
			}
		}
		return ErrStoreCorrupt
	}

	s.mu.Lock()
	s.chunks = make(map[string]types.Chunk, len(chosen.art.chunks))
	s.byFile = make(map[string]map[string]struct{})
	for _, c := range chosen.art.chunks {
		s.insertLocked(c)
	}
	s.files = chosen.art.files
	if s.files == nil {
		s.files = make(map[string]string)
	}
	s.updatedAt = chosen.art.updatedAt
	s.snapStale = true
	s.mu.Unlock()

	// Bring the stale or broken copy up to date.
	for i := range locations {
		if locations[i].path == chosen.path {
			continue
		}
		if locations[i].art != nil && locations[i].art.updatedAt.Equal(chosen.art.updatedAt) {
			continue
		}
		if err := copyFileAtomic(chosen.path, locations[i].path); err != nil {
			s.logger.Warn("could not synchronize index copy",
				"from", chosen.path, "to", locations[i].path, "err", err)
			continue
		}
		s.mu.Lock()
		s.lastSynced = time.Now()
		s.mu.Unlock()
	}

	s.logger.Info("index loaded", "source", chosen.path,
		"chunks", len(chosen.art.chunks), "updated_at", chosen.art.updatedAt)
	return nil
}

// writeArtifact serializes an artifact into a fresh bbolt file next to the
// target and renames it into place.
func writeArtifact(path string, art artifact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	db, err := bolt.Open(tmp, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open temp artifact: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		chunksB, err := tx.CreateBucket(bucketChunks)
		if err != nil {
			return err
		}
		filesB, err := tx.CreateBucket(bucketFiles)
		if err != nil {
			return err
		}
		metaB, err := tx.CreateBucket(bucketMeta)
		if err != nil {
			return err
		}

		for _, c := range art.chunks {
			data, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal chunk %s: %w", c.ID, err)
			}
			if err := chunksB.Put([]byte(c.ID), data); err != nil {
				return err
			}
		}

		for p, h := range art.files {
			if err := filesB.Put([]byte(p), []byte(h)); err != nil {
				return err
			}
		}

		if err := metaB.Put(keySchema, []byte(strconv.Itoa(SchemaVersion))); err != nil {
			return err
		}
		if err := metaB.Put(keyModel, []byte(art.model)); err != nil {
			return err
		}
		if err := metaB.Put(keyDimension, []byte(strconv.Itoa(art.dimension))); err != nil {
			return err
		}
		return metaB.Put(keyUpdatedAt, []byte(art.updatedAt.Format(time.RFC3339Nano)))
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("promote artifact: %w", err)
	}
	return nil
}

// readArtifact decodes a persisted index. Returns an error satisfying
// os.IsNotExist when the file is absent.
func readArtifact(path string) (*artifact, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = db.Close() }()

	art := &artifact{files: make(map[string]string)}

	err = db.View(func(tx *bolt.Tx) error {
		metaB := tx.Bucket(bucketMeta)
		chunksB := tx.Bucket(bucketChunks)
		filesB := tx.Bucket(bucketFiles)
		if metaB == nil || chunksB == nil || filesB == nil {
			return fmt.Errorf("artifact missing buckets")
		}

		schema, err := strconv.Atoi(string(metaB.Get(keySchema)))
		if err != nil || schema != SchemaVersion {
			return fmt.Errorf("unsupported schema version %q", metaB.Get(keySchema))
		}

		art.model = string(metaB.Get(keyModel))
		if dim := metaB.Get(keyDimension); dim != nil {
			art.dimension, _ = strconv.Atoi(string(dim))
		}
		if raw := metaB.Get(keyUpdatedAt); raw != nil {
			t, err := time.Parse(time.RFC3339Nano, string(raw))
			if err != nil {
				return fmt.Errorf("bad updated_at: %w", err)
			}
			art.updatedAt = t
		}

		if err := chunksB.ForEach(func(_, v []byte) error {
			var c types.Chunk
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("decode chunk: %w", err)
			}
			if !c.HasEmbedding() {
				return fmt.Errorf("chunk %s persisted without embedding", c.ID)
			}
			art.chunks = append(art.chunks, c)
			return nil
		}); err != nil {
			return err
		}

		return filesB.ForEach(func(k, v []byte) error {
			art.files[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return art, nil
}

// copyFileAtomic copies src over dst through a temp file in dst's directory.
func copyFileAtomic(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".sync.tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
