// Package pool implements the embedding process pool.
//
// The pool owns a set of isolated worker processes (codelens-worker), each
// hosting its own embedding model instance. Nothing mutable is shared across
// process boundaries: work travels to workers as newline-delimited JSON
// batches and vectors travel back the same way. This is the isolation the
// underlying inference runtimes demand; they are not safe to drive from
// multiple threads of one process.
//
// # Batching and ordering
//
//	p, _ := pool.New(pool.DefaultConfig(), &pool.ProcessLauncher{}, nil, nil)
//	if err := p.Initialize(ctx); err != nil { ... }
//	defer p.Shutdown("done")
//
//	vectors, err := p.EmbedBatch(ctx, texts)
//
// EmbedBatch splits input into sub-batches, fans them out to idle workers,
// and reassembles results by recorded position: callers always get one
// vector per input text, in input order, no matter which workers finished
// first. A failed sub-batch is retried on a different worker up to the retry
// budget; exhausting it fails the whole call without affecting pool health.
//
// # Resource-adaptive sizing
//
// The pool begins at MinWorkers and never exceeds max(1, NumCPU-2). A
// monitor goroutine ticks independently of dispatch, sampling system-wide
// CPU and memory plus summed worker RSS through an injected Sampler. Growth
// stops when usage crosses the stop thresholds and resumes only below the
// lower resume thresholds, so the pool cannot oscillate around a boundary.
// Refused growth is a logged decision, not an error. Workers are never
// culled under load; the set only shrinks at shutdown.
//
// # Shutdown
//
// Shutdown cancels in-flight work and cascades a stop to every worker:
// graceful stdin close, grace-period wait, then SIGKILL. It returns only
// when every worker process has exited, so no worker outlives the pool.
package pool
