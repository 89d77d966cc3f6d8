package store

import (
	"context"
	"sort"
)

// HashFunc computes the content hash of a file, supplied by the repository
// scanner so the store stays decoupled from file-system and VCS specifics.
// The returned hash is an opaque hex digest.
type HashFunc func(path string) (string, error)

// Delta classifies the current file listing against stored state. The four
// sets partition the union of stored and current files; no file is ever
// dropped from classification.
type Delta struct {
	Added     []string
	Modified  []string
	Deleted   []string
	Unchanged []string

	// Hashes carries the digests computed during classification so Commit
	// records them without hashing twice. Files whose hash computation
	// failed are absent.
	Hashes map[string]string
}

// IsEmpty reports whether the delta requires no work.
func (d Delta) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// NeedsEmbedding returns the files whose chunks must be (re)embedded.
func (d Delta) NeedsEmbedding() []string {
	out := make([]string, 0, len(d.Added)+len(d.Modified))
	out = append(out, d.Added...)
	out = append(out, d.Modified...)
	return out
}

// CalculateDelta classifies each current file as added, modified, or
// unchanged, and stored files missing from the listing as deleted.
// Ambiguity always resolves toward modified (re-embed), never toward
// unchanged or deleted: an unreadable file or a missing stored hash is
// modified, conservatively.
func (s *Store) CalculateDelta(ctx context.Context, currentFiles []string, hashFn HashFunc) (Delta, error) {
	s.repairFileRecords()

	s.mu.RLock()
	storedHashes := make(map[string]string, len(s.files))
	for path, h := range s.files {
		storedHashes[path] = h
	}
	storedChunkFiles := make(map[string]struct{}, len(s.byFile))
	for path := range s.byFile {
		storedChunkFiles[path] = struct{}{}
	}
	s.mu.RUnlock()

	delta := Delta{Hashes: make(map[string]string)}
	current := make(map[string]struct{}, len(currentFiles))

	for _, path := range currentFiles {
		if err := ctx.Err(); err != nil {
			return Delta{}, err
		}
		if _, dup := current[path]; dup {
			continue
		}
		current[path] = struct{}{}

		if _, hasChunks := storedChunkFiles[path]; !hasChunks {
			// Never indexed before.
			delta.Added = append(delta.Added, path)
			if h, err := hashFn(path); err == nil {
				delta.Hashes[path] = h
			} else {
				s.logger.Warn("hash failed for new file, deferring hash record",
					"file", path, "err", err)
			}
			continue
		}

		h, err := hashFn(path)
		if err != nil {
			// Unreadable now does not mean unchanged; re-embed rather than
			// serve stale results.
			s.logger.Warn("hash failed, classifying as modified", "file", path, "err", err)
			delta.Modified = append(delta.Modified, path)
			continue
		}

		stored, ok := storedHashes[path]
		if !ok || stored == "" {
			// Legacy or repaired state with no usable hash: re-embed and let
			// Commit reconstruct the record.
			s.logger.Warn("no stored hash, classifying as modified", "file", path)
			delta.Modified = append(delta.Modified, path)
			delta.Hashes[path] = h
			continue
		}

		if stored != h {
			delta.Modified = append(delta.Modified, path)
			delta.Hashes[path] = h
			continue
		}

		delta.Unchanged = append(delta.Unchanged, path)
		delta.Hashes[path] = h
	}

	// Stored files absent from the listing are gone.
	for path := range storedChunkFiles {
		if _, ok := current[path]; !ok {
			delta.Deleted = append(delta.Deleted, path)
		}
	}

	// Deterministic output for identical inputs.
	sort.Strings(delta.Added)
	sort.Strings(delta.Modified)
	sort.Strings(delta.Deleted)
	sort.Strings(delta.Unchanged)

	return delta, nil
}

// repairFileRecords rebuilds the file-hash table from chunk ownership when
// it is empty while chunks exist (legacy or partially loaded state). The
// rebuilt entries carry no hash, so their files classify as modified rather
// than the whole repository classifying as deleted.
func (s *Store) repairFileRecords() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.files) > 0 || len(s.byFile) == 0 {
		return
	}

	for path := range s.byFile {
		s.files[path] = ""
	}
	s.logger.Warn("file hash table was empty, rebuilt from chunk paths",
		"files", len(s.files))
}
