// Package store implements the persistent vector store.
//
// The store is the authoritative in-memory structure of chunk records and
// per-file content hashes. It answers one question for the indexing
// pipeline, "which files changed since the last build", and persists the
// whole index as a versioned bbolt artifact at two locations.
//
// # Delta indexing
//
//	delta, err := st.CalculateDelta(ctx, currentFiles, hashFn)
//	// embed chunks for delta.NeedsEmbedding() ...
//	err = st.Commit(delta, embeddedChunks)
//	err = st.Save()
//
// Classification always partitions the union of stored and current files
// into added/modified/deleted/unchanged. A hash failure or a missing stored
// hash resolves to modified: the worst outcome of that choice is redundant
// embedding work, whereas the alternative is stale search results. If the
// hash table is lost entirely while chunks remain, it is rebuilt from chunk
// ownership before classification so the repository is not misread as fully
// deleted.
//
// # Persistence
//
// Save serializes the index into a fresh bbolt file and renames it over the
// target, for the local and the global location both; a save interrupted at
// any point leaves the previous artifact intact. Load prefers the location
// with the newer embedded timestamp, falls back to the other on corruption,
// and copies the winner over the loser. Only when every configured location
// is unusable does Load fail.
//
// # Concurrency
//
// Commit, Save, and Load are serialized (single writer). Readers use
// Snapshot, an immutable view with relationship edges pre-resolved to chunk
// IDs, rebuilt lazily after each mutation.
package store
