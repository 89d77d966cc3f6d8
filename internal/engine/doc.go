// Package engine wires the indexing pipeline together: the store's delta
// decides which files changed, the external chunker re-chunks exactly
// those, the embedding pool vectorizes the new chunks, and the store
// commits and persists the result.
//
//	eng, _ := engine.New(st, chunker, p, engine.Config{}, logger)
//	stats, err := eng.Reindex(ctx, fileList, hashFn)
//
// Reindex is guarded by a non-blocking lock: concurrent runs are refused,
// not queued, since the second run would recompute the same delta anyway.
package engine
