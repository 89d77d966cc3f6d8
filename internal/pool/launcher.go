package pool

import (
	"context"
	"time"
)

// Conn is the pool's handle on one running embedding worker. A Conn carries
// at most one batch in flight at a time; the pool enforces this by giving
// each Conn a single owning goroutine.
type Conn interface {
	// Embed sends one batch to the worker and blocks until the vectors come
	// back, the context expires, or the worker dies.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// PID returns the worker's OS process ID, or 0 for in-process fakes.
	PID() int

	// Dimension returns the vector dimension the worker announced.
	Dimension() int

	// Close stops the worker: graceful signal first, force kill once the
	// grace period expires. Blocks until the worker is gone.
	Close(grace time.Duration) error
}

// Launcher starts embedding workers. The production implementation spawns
// codelens-worker subprocesses; tests inject in-process fakes.
type Launcher interface {
	Start(ctx context.Context) (Conn, error)
}
