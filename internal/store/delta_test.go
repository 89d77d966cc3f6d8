package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/pkg/types"
)

// mapHashFn hashes from a fixture map; missing entries fail like an
// unreadable file.
func mapHashFn(hashes map[string]string) HashFunc {
	return func(path string) (string, error) {
		h, ok := hashes[path]
		if !ok {
			return "", fmt.Errorf("open %s: no such file", path)
		}
		return h, nil
	}
}

func TestDeltaScenarioAddedDeleted(t *testing.T) {
	// Store has chunks for a.ts and b.ts; the repo now contains a.ts
	// (unchanged) and a brand-new c.ts.
	s := setupStore(t)
	seedStore(t, s, "a.ts", "b.ts")

	delta, err := s.CalculateDelta(context.Background(), []string{"a.ts", "c.ts"},
		mapHashFn(map[string]string{"a.ts": "h-a.ts", "c.ts": "h-c.ts"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"c.ts"}, delta.Added)
	assert.Empty(t, delta.Modified)
	assert.Equal(t, []string{"b.ts"}, delta.Deleted)
	assert.Equal(t, []string{"a.ts"}, delta.Unchanged)
}

func TestDeltaModifiedOnHashChange(t *testing.T) {
	s := setupStore(t)
	seedStore(t, s, "a.go")

	delta, err := s.CalculateDelta(context.Background(), []string{"a.go"},
		mapHashFn(map[string]string{"a.go": "different"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, delta.Modified)
	assert.Equal(t, "different", delta.Hashes["a.go"])
}

func TestDeltaHashFailureResolvesToModified(t *testing.T) {
	s := setupStore(t)
	seedStore(t, s, "a.go", "b.go")

	// a.go is unreadable; that must never be treated as unchanged or
	// deleted, and must never abort classification of other files.
	delta, err := s.CalculateDelta(context.Background(), []string{"a.go", "b.go"},
		mapHashFn(map[string]string{"b.go": "h-b.go"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, delta.Modified)
	assert.Equal(t, []string{"b.go"}, delta.Unchanged)
	_, ok := delta.Hashes["a.go"]
	assert.False(t, ok, "failed hash is not recorded")
}

func TestDeltaIdempotentReindex(t *testing.T) {
	s := setupStore(t)
	seedStore(t, s, "a.go", "b.go")

	hashes := map[string]string{"a.go": "h-a.go", "b.go": "h-b.go"}
	for i := 0; i < 2; i++ {
		delta, err := s.CalculateDelta(context.Background(), []string{"a.go", "b.go"}, mapHashFn(hashes))
		require.NoError(t, err)
		assert.True(t, delta.IsEmpty(), "run %d must find nothing to do", i)
		assert.Len(t, delta.Unchanged, 2)
	}
}

func TestDeltaPartitionInvariant(t *testing.T) {
	// Every combination of stored/current membership and hash success must
	// classify every file exactly once.
	tests := []struct {
		name     string
		stored   []string
		current  []string
		hashes   map[string]string // Same hash as seeded = unchanged
		failures []string          // Files whose hashFn errors
	}{
		{
			name:    "disjoint sets",
			stored:  []string{"a", "b"},
			current: []string{"c", "d"},
			hashes:  map[string]string{"c": "x", "d": "y"},
		},
		{
			name:    "full overlap unchanged",
			stored:  []string{"a", "b"},
			current: []string{"a", "b"},
			hashes:  map[string]string{"a": "h-a", "b": "h-b"},
		},
		{
			name:     "every hash fails",
			stored:   []string{"a", "b"},
			current:  []string{"a", "b", "c"},
			failures: []string{"a", "b", "c"},
		},
		{
			name:     "mixed",
			stored:   []string{"a", "b", "c"},
			current:  []string{"b", "c", "d"},
			hashes:   map[string]string{"b": "h-b", "c": "changed", "d": "new"},
			failures: nil,
		},
		{
			name:    "empty store",
			stored:  nil,
			current: []string{"a"},
			hashes:  map[string]string{"a": "x"},
		},
		{
			name:    "empty repo",
			stored:  []string{"a", "b"},
			current: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupStore(t)
			if len(tt.stored) > 0 {
				seedStore(t, s, tt.stored...)
			}

			failing := make(map[string]bool)
			for _, f := range tt.failures {
				failing[f] = true
			}
			hashFn := func(path string) (string, error) {
				if failing[path] {
					return "", errors.New("simulated read failure")
				}
				return mapHashFn(tt.hashes)(path)
			}

			delta, err := s.CalculateDelta(context.Background(), tt.current, hashFn)
			require.NoError(t, err)

			universe := make(map[string]bool)
			for _, f := range tt.stored {
				universe[f] = true
			}
			for _, f := range tt.current {
				universe[f] = true
			}

			var classified []string
			classified = append(classified, delta.Added...)
			classified = append(classified, delta.Modified...)
			classified = append(classified, delta.Deleted...)
			classified = append(classified, delta.Unchanged...)

			seen := make(map[string]int)
			for _, f := range classified {
				seen[f]++
			}

			var want []string
			for f := range universe {
				want = append(want, f)
			}
			sort.Strings(want)
			sort.Strings(classified)

			assert.Equal(t, want, classified, "classification must partition the universe")
			for f, n := range seen {
				assert.Equal(t, 1, n, "file %s classified %d times", f, n)
			}
		})
	}
}

func TestDeltaDeterministic(t *testing.T) {
	s := setupStore(t)
	seedStore(t, s, "m.go", "a.go", "z.go")

	hashFn := mapHashFn(map[string]string{"a.go": "x", "m.go": "y", "z.go": "z", "new.go": "n"})
	files := []string{"z.go", "a.go", "m.go", "new.go"}

	first, err := s.CalculateDelta(context.Background(), files, hashFn)
	require.NoError(t, err)
	second, err := s.CalculateDelta(context.Background(), files, hashFn)
	require.NoError(t, err)

	assert.Equal(t, first.Added, second.Added)
	assert.Equal(t, first.Modified, second.Modified)
	assert.Equal(t, first.Deleted, second.Deleted)
	assert.Equal(t, first.Unchanged, second.Unchanged)
}

func TestDeltaRepairsMissingHashTable(t *testing.T) {
	s := setupStore(t)

	// Chunks exist but no hash was ever recorded, as after a legacy or
	// partially decoded load.
	delta := Delta{Added: []string{"a.go", "b.go"}, Hashes: map[string]string{}}
	chunks := []types.Chunk{
		embeddedChunk("chunk-a", "a.go"),
		embeddedChunk("chunk-b", "b.go"),
	}
	require.NoError(t, s.Commit(delta, chunks))

	d, err := s.CalculateDelta(context.Background(), []string{"a.go", "b.go"},
		mapHashFn(map[string]string{"a.go": "h", "b.go": "h"}))
	require.NoError(t, err)

	// Without repair these files would degenerate to deleted; instead they
	// re-embed conservatively.
	assert.Empty(t, d.Deleted)
	assert.Empty(t, d.Added)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, d.Modified)
}

func TestDeltaDuplicateCurrentFiles(t *testing.T) {
	s := setupStore(t)
	seedStore(t, s, "a.go")

	delta, err := s.CalculateDelta(context.Background(), []string{"a.go", "a.go"},
		mapHashFn(map[string]string{"a.go": "h-a.go"}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, delta.Unchanged)
	assert.Empty(t, delta.Added)
}
