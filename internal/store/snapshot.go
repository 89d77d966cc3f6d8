package store

import (
	"sort"
	"time"

	"github.com/codelens-dev/codelens/pkg/types"
)

// Snapshot is an immutable view of the committed index for readers. Chunks
// are ordered by ID and adjacency is keyed by chunk ID with edges resolved
// to chunk IDs, so a chunk removed by a later commit simply has no entry:
// nothing dangles.
type Snapshot struct {
	Chunks    []types.Chunk
	Adjacency map[string][]string
	TakenAt   time.Time

	index map[string]int // chunk ID -> position in Chunks
}

// Get returns a chunk from the snapshot by ID.
func (sn *Snapshot) Get(id string) (types.Chunk, bool) {
	i, ok := sn.index[id]
	if !ok {
		return types.Chunk{}, false
	}
	return sn.Chunks[i], true
}

// Neighbors returns the resolved outgoing edges of a chunk.
func (sn *Snapshot) Neighbors(id string) []string {
	return sn.Adjacency[id]
}

// Snapshot returns the current read view, rebuilding it only after a commit
// or load has changed the store.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	if !s.snapStale && s.snap != nil {
		snap := s.snap
		s.mu.RUnlock()
		return snap
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snapStale && s.snap != nil {
		return s.snap
	}

	snap := &Snapshot{
		Chunks:    make([]types.Chunk, 0, len(s.chunks)),
		Adjacency: make(map[string][]string, len(s.chunks)),
		TakenAt:   time.Now(),
		index:     make(map[string]int, len(s.chunks)),
	}

	for _, c := range s.chunks {
		snap.Chunks = append(snap.Chunks, c)
	}
	sort.Slice(snap.Chunks, func(i, j int) bool {
		return snap.Chunks[i].ID < snap.Chunks[j].ID
	})
	for i, c := range snap.Chunks {
		snap.index[c.ID] = i
	}

	// Symbol names resolve edges that were declared against an exported
	// symbol rather than a chunk ID.
	bySymbol := make(map[string][]string)
	for _, c := range snap.Chunks {
		if c.SymbolName != "" {
			bySymbol[c.SymbolName] = append(bySymbol[c.SymbolName], c.ID)
		}
	}

	for _, c := range snap.Chunks {
		var edges []string
		seen := map[string]struct{}{c.ID: {}}

		addTarget := func(target string) {
			if _, ok := snap.index[target]; ok {
				if _, dup := seen[target]; !dup {
					seen[target] = struct{}{}
					edges = append(edges, target)
				}
				return
			}
			for _, id := range bySymbol[target] {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					edges = append(edges, id)
				}
			}
		}

		for _, target := range c.Relationships.All() {
			addTarget(target)
		}

		if len(edges) > 0 {
			sort.Strings(edges)
			snap.Adjacency[c.ID] = edges
		}
	}

	s.snap = snap
	s.snapStale = false
	return snap
}
