package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/codelens-dev/codelens/internal/worker"
)

// Worker process errors
var (
	ErrWorkerDied      = errors.New("worker process exited")
	ErrWorkerNotReady  = errors.New("worker did not become ready")
	ErrResponseMangled = errors.New("worker returned a mismatched response")
)

// DefaultWorkerCommand is the worker binary the pool spawns. It must be on
// PATH unless an absolute path is configured.
const DefaultWorkerCommand = "codelens-worker"

// ProcessLauncher spawns codelens-worker subprocesses. Each subprocess loads
// its own model instance, so no inference state is ever shared between
// workers or with the pool.
type ProcessLauncher struct {
	Command        string        // Worker binary (default: codelens-worker)
	Dimension      int           // Vector dimension passed to the worker
	StartupTimeout time.Duration // How long to wait for the ready frame
	Logger         *slog.Logger
}

// Start spawns one worker process and waits for its ready announcement.
func (l *ProcessLauncher) Start(ctx context.Context) (Conn, error) {
	command := l.Command
	if command == "" {
		command = DefaultWorkerCommand
	}
	startupTimeout := l.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	args := []string{}
	if l.Dimension > 0 {
		args = append(args, "-dimension", strconv.Itoa(l.Dimension))
	}

	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr // Worker logs go to our stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker: %w", err)
	}

	conn := &procConn{
		cmd:       cmd,
		stdin:     stdin,
		enc:       worker.NewEncoder(stdin),
		responses: make(chan worker.Response, 1),
		hello:     make(chan worker.Hello, 1),
		exited:    make(chan struct{}),
		logger:    logger,
	}
	go conn.run(stdout)

	// Wait for the ready frame before handing the conn to the pool.
	select {
	case h := <-conn.hello:
		if !h.Ready {
			_ = conn.Close(0)
			return nil, ErrWorkerNotReady
		}
		conn.dimension = h.Dimension
		logger.Info("worker ready", "pid", cmd.Process.Pid, "model", h.Model, "dimension", h.Dimension)
		return conn, nil
	case <-conn.exited:
		return nil, fmt.Errorf("%w before ready", ErrWorkerDied)
	case <-time.After(startupTimeout):
		_ = conn.Close(0)
		return nil, fmt.Errorf("%w within %s", ErrWorkerNotReady, startupTimeout)
	case <-ctx.Done():
		_ = conn.Close(0)
		return nil, ctx.Err()
	}
}

// procConn is a Conn backed by a live worker subprocess.
type procConn struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	enc       *worker.Encoder
	responses chan worker.Response
	hello     chan worker.Hello
	exited    chan struct{}
	logger    *slog.Logger

	dimension int
	nextID    int64

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// run reads frames until the worker's stdout closes, then reaps the process.
func (c *procConn) run(stdout io.Reader) {
	dec := worker.NewDecoder(stdout)

	var h worker.Hello
	if err := dec.Decode(&h); err == nil {
		c.hello <- h

		for {
			var resp worker.Response
			if err := dec.Decode(&resp); err != nil {
				break
			}
			c.responses <- resp
		}
	}

	close(c.responses)
	_ = c.cmd.Wait()
	close(c.exited)
}

// Embed sends one batch and waits for its response. Responses left over from
// a previous timed-out request are discarded by ID.
func (c *procConn) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.nextID++
	id := c.nextID

	c.writeMu.Lock()
	err := c.enc.Encode(worker.Request{ID: id, Texts: texts})
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send batch to worker %d: %w", c.PID(), ErrWorkerDied)
	}

	for {
		select {
		case resp, ok := <-c.responses:
			if !ok {
				return nil, fmt.Errorf("worker %d: %w mid-batch", c.PID(), ErrWorkerDied)
			}
			if resp.ID < id {
				continue // Stale response from an abandoned request
			}
			if resp.ID != id {
				return nil, fmt.Errorf("worker %d: %w: got id %d, want %d", c.PID(), ErrResponseMangled, resp.ID, id)
			}
			if resp.Error != "" {
				return nil, fmt.Errorf("worker %d: %s", c.PID(), resp.Error)
			}
			if len(resp.Vectors) != len(texts) {
				return nil, fmt.Errorf("worker %d: %w: got %d vectors for %d texts",
					c.PID(), ErrResponseMangled, len(resp.Vectors), len(texts))
			}
			return resp.Vectors, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// PID returns the worker's process ID.
func (c *procConn) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Dimension returns the vector dimension the worker announced.
func (c *procConn) Dimension() int {
	return c.dimension
}

// Close asks the worker to exit by closing its stdin, escalating to SIGKILL
// once the grace period runs out. Blocks until the process is reaped, so no
// worker can outlive the pool.
func (c *procConn) Close(grace time.Duration) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.stdin.Close()
		c.writeMu.Unlock()

		if grace > 0 {
			select {
			case <-c.exited:
				return
			case <-time.After(grace):
				c.logger.Warn("worker ignored graceful stop, killing", "pid", c.PID(), "grace", grace)
			}
		}

		if c.cmd.Process != nil {
			c.closeErr = c.cmd.Process.Kill()
		}
		<-c.exited
	})
	return c.closeErr
}
