package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrPoolClosed        = errors.New("pool is shut down")
	ErrPoolNotReady      = errors.New("pool is not initialized")
	ErrNoWorkers         = errors.New("no embedding workers available")
	ErrBatchFailed       = errors.New("batch failed after retries")
	ErrBatchTimedOut     = errors.New("batch dispatch timed out")
	ErrDimensionMismatch = errors.New("worker vector dimension mismatch")
)

// State describes the pool lifecycle.
type State string

const (
	StateNew      State = "new"
	StateReady    State = "ready"
	StateDegraded State = "degraded" // Running with fewer workers than wanted
	StateStopped  State = "stopped"
)

// Config tunes the embedding pool. Zero values are replaced with defaults;
// nothing is read from the environment.
type Config struct {
	MinWorkers      int           // Initial worker count (default 1)
	MaxWorkers      int           // Upper bound; capped at HardCeiling() (0 = ceiling)
	BatchSize       int           // Max texts per worker batch (default 64)
	BatchTimeout    time.Duration // Per-batch deadline (default 60s)
	MaxRetries      int           // Retries after a failed batch (default 2)
	MonitorInterval time.Duration // Resource control tick (default 3s)
	GracePeriod     time.Duration // Graceful worker stop window (default 3s)
	CacheSize       int           // Embedding LRU entries (default 10000)

	// Scaling thresholds, percent of system capacity. Growth stops at the
	// stop thresholds and resumes only below the resume thresholds.
	CPUStopPercent   float64 // default 69
	MemStopPercent   float64 // default 78
	CPUResumePercent float64 // default 49
	MemResumePercent float64 // default 69

	// WorkerMemEstimate projects a new worker's footprint before any real
	// RSS has been observed (default 512 MiB).
	WorkerMemEstimate uint64
}

// DefaultConfig returns the tuning the pool ships with.
func DefaultConfig() Config {
	return Config{
		MinWorkers:        1,
		MaxWorkers:        HardCeiling(),
		BatchSize:         64,
		BatchTimeout:      60 * time.Second,
		MaxRetries:        2,
		MonitorInterval:   3 * time.Second,
		GracePeriod:       3 * time.Second,
		CacheSize:         10000,
		CPUStopPercent:    69,
		MemStopPercent:    78,
		CPUResumePercent:  49,
		MemResumePercent:  69,
		WorkerMemEstimate: 512 << 20,
	}
}

// HardCeiling is the absolute worker limit: two cores are always reserved
// for the host system.
func HardCeiling() int {
	return max(1, runtime.NumCPU()-2)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinWorkers <= 0 {
		c.MinWorkers = d.MinWorkers
	}
	ceiling := HardCeiling()
	if c.MaxWorkers <= 0 || c.MaxWorkers > ceiling {
		c.MaxWorkers = ceiling
	}
	if c.MinWorkers > c.MaxWorkers {
		c.MinWorkers = c.MaxWorkers
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = d.MonitorInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.CacheSize <= 0 {
		c.CacheSize = d.CacheSize
	}
	if c.CPUStopPercent <= 0 {
		c.CPUStopPercent = d.CPUStopPercent
	}
	if c.MemStopPercent <= 0 {
		c.MemStopPercent = d.MemStopPercent
	}
	if c.CPUResumePercent <= 0 {
		c.CPUResumePercent = d.CPUResumePercent
	}
	if c.MemResumePercent <= 0 {
		c.MemResumePercent = d.MemResumePercent
	}
	if c.WorkerMemEstimate == 0 {
		c.WorkerMemEstimate = d.WorkerMemEstimate
	}
	return c
}

// job is one sub-batch routed to a single worker.
type job struct {
	texts []string
	reply chan jobResult
}

type jobResult struct {
	vectors [][]float32
	err     error
}

// managedWorker pairs a worker connection with its pool-side identity.
type managedWorker struct {
	id   int
	conn Conn
}

// Pool owns a resource-adaptively sized set of embedding worker processes
// and routes batched embedding work to them.
type Pool struct {
	cfg      Config
	launcher Launcher
	sampler  Sampler
	logger   *slog.Logger

	cache *lru.Cache[string, []float32]
	jobs  chan *job

	baseCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	state        State
	workers      map[int]*managedWorker
	nextWorkerID int
	dimension    int // Vector dimension announced by the first worker
	tripped      bool
	lastSample   Sample
	workerRSS    uint64 // Summed RSS from the last control tick

	wg           sync.WaitGroup
	monitorDone  chan struct{}
	monitorOn    bool
	shutdownOnce sync.Once

	metrics counters
}

// New creates a pool. Call Initialize before EmbedBatch.
func New(cfg Config, launcher Launcher, sampler Sampler, logger *slog.Logger) (*Pool, error) {
	if launcher == nil {
		return nil, fmt.Errorf("%w: launcher is required", ErrInvalidInput)
	}
	if sampler == nil {
		sampler = NewSystemSampler()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		cfg:         cfg,
		launcher:    launcher,
		sampler:     sampler,
		logger:      logger,
		cache:       cache,
		jobs:        make(chan *job),
		baseCtx:     ctx,
		cancel:      cancel,
		state:       StateNew,
		workers:     make(map[int]*managedWorker),
		monitorDone: make(chan struct{}),
	}, nil
}

// Initialize starts the minimum worker set and the resource monitor. The
// pool starts conservatively and grows only when resource checks pass.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateNew {
		p.mu.Unlock()
		return fmt.Errorf("initialize: pool is %s", p.state)
	}
	p.mu.Unlock()

	started := 0
	for i := 0; i < p.cfg.MinWorkers; i++ {
		if err := p.startWorker(ctx); err != nil {
			p.logger.Warn("failed to start worker", "err", err)
			continue
		}
		started++
	}

	if started == 0 {
		return fmt.Errorf("%w: could not start any of %d workers", ErrNoWorkers, p.cfg.MinWorkers)
	}

	p.mu.Lock()
	if started < p.cfg.MinWorkers {
		p.state = StateDegraded
	} else {
		p.state = StateReady
	}
	p.monitorOn = true
	p.mu.Unlock()

	go p.monitor()

	p.logger.Info("pool initialized",
		"workers", started, "ceiling", p.cfg.MaxWorkers, "batch_size", p.cfg.BatchSize)
	return nil
}

// startWorker launches one worker and hands it to a dedicated goroutine.
// Growth past the configured ceiling is refused.
func (p *Pool) startWorker(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if len(p.workers) >= p.cfg.MaxWorkers {
		p.mu.Unlock()
		return fmt.Errorf("worker ceiling %d reached", p.cfg.MaxWorkers)
	}
	p.nextWorkerID++
	id := p.nextWorkerID
	p.mu.Unlock()

	conn, err := p.launcher.Start(ctx)
	if err != nil {
		return err
	}

	mw := &managedWorker{id: id, conn: conn}
	dim := conn.Dimension()

	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		_ = conn.Close(0)
		return ErrPoolClosed
	}
	if p.dimension == 0 {
		p.dimension = dim
	} else if dim != p.dimension {
		p.mu.Unlock()
		_ = conn.Close(0)
		return fmt.Errorf("%w: worker announced dimension %d, pool uses %d",
			ErrDimensionMismatch, dim, p.dimension)
	}
	p.workers[id] = mw
	active := len(p.workers)
	p.mu.Unlock()

	p.metrics.recordWorkerCount(active)

	p.wg.Add(1)
	go p.runWorker(mw)
	return nil
}

// runWorker owns one worker connection, pulling jobs until shutdown or the
// worker fails. A failed worker is replaced so the batch can retry elsewhere.
func (p *Pool) runWorker(mw *managedWorker) {
	defer p.wg.Done()

	for {
		select {
		case <-p.baseCtx.Done():
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}

			ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.BatchTimeout)
			vectors, err := mw.conn.Embed(ctx, j.texts)
			cancel()

			j.reply <- jobResult{vectors: vectors, err: err}

			if err != nil && p.baseCtx.Err() == nil {
				p.metrics.workerFailures.Add(1)
				p.logger.Warn("worker failed, replacing", "worker", mw.id, "err", err)
				p.replaceWorker(mw)
				return
			}
		}
	}
}

// replaceWorker retires a failed worker and starts a successor. The failed
// entry stays registered until the successor is ready (or the launch has
// failed), so dispatchers never observe a transiently empty pool during
// the swap.
func (p *Pool) replaceWorker(mw *managedWorker) {
	// The old process may be hung; no grace.
	_ = mw.conn.Close(0)

	conn, err := p.launcher.Start(p.baseCtx)

	p.mu.Lock()
	delete(p.workers, mw.id)

	if err != nil {
		empty := len(p.workers) == 0
		if empty && p.state == StateReady {
			p.state = StateDegraded
		}
		p.mu.Unlock()
		p.logger.Warn("could not replace failed worker", "worker", mw.id, "err", err)
		return
	}

	if p.state == StateStopped {
		p.mu.Unlock()
		_ = conn.Close(0)
		return
	}

	p.nextWorkerID++
	successor := &managedWorker{id: p.nextWorkerID, conn: conn}
	p.workers[successor.id] = successor
	active := len(p.workers)
	p.mu.Unlock()

	p.metrics.recordWorkerCount(active)
	p.wg.Add(1)
	go p.runWorker(successor)
}

// EmbedBatch embeds texts in input order. The call blocks until every
// sub-batch has completed, failed past its retry budget, or ctx expires.
func (p *Pool) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	switch state {
	case StateReady, StateDegraded:
	case StateStopped:
		return nil, ErrPoolClosed
	default:
		return nil, ErrPoolNotReady
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	p.metrics.requests.Add(1)

	// Serve what we can from the cache; collect the rest by position so the
	// output order survives any completion order.
	results := make([][]float32, len(texts))
	var missTexts []string
	var missPos []int
	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = cacheKey(text)
		if vec, ok := p.cache.Get(keys[i]); ok {
			results[i] = vec
			p.metrics.cacheHits.Add(1)
			continue
		}
		p.metrics.cacheMisses.Add(1)
		missTexts = append(missTexts, text)
		missPos = append(missPos, i)
	}

	if len(missTexts) > 0 {
		g, gctx := errgroup.WithContext(ctx)

		for off := 0; off < len(missTexts); off += p.cfg.BatchSize {
			end := min(off+p.cfg.BatchSize, len(missTexts))
			batch := missTexts[off:end]
			positions := missPos[off:end]

			g.Go(func() error {
				vectors, err := p.dispatch(gctx, batch)
				if err != nil {
					return err
				}
				for k, pos := range positions {
					results[pos] = vectors[k]
					p.cache.Add(keys[pos], vectors[k])
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			p.metrics.batchFailures.Add(1)
			return nil, err
		}
	}

	p.metrics.recordLatency(time.Since(start))
	return results, nil
}

// dispatch routes one sub-batch to a worker, retrying on a different worker
// after a failure up to the retry budget.
func (p *Pool) dispatch(ctx context.Context, texts []string) ([][]float32, error) {
	attempts := p.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if p.ActiveWorkers() == 0 {
			return nil, ErrNoWorkers
		}
		if attempt > 0 {
			p.metrics.retries.Add(1)
		}

		j := &job{texts: texts, reply: make(chan jobResult, 1)}

		// The dispatch guard keeps a dead pool from blocking the caller
		// forever: workers pick jobs within a batch timeout or we bail.
		guard := time.NewTimer(p.cfg.BatchTimeout + time.Second)

		select {
		case p.jobs <- j:
		case <-ctx.Done():
			guard.Stop()
			return nil, ctx.Err()
		case <-p.baseCtx.Done():
			guard.Stop()
			return nil, ErrPoolClosed
		case <-guard.C:
			return nil, ErrBatchTimedOut
		}

		select {
		case res := <-j.reply:
			guard.Stop()
			if res.err == nil {
				p.metrics.batches.Add(1)
				return res.vectors, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			guard.Stop()
			return nil, ctx.Err()
		case <-p.baseCtx.Done():
			guard.Stop()
			return nil, ErrPoolClosed
		case <-guard.C:
			lastErr = ErrBatchTimedOut
		}
	}

	return nil, fmt.Errorf("%w (%d attempts): %v", ErrBatchFailed, attempts, lastErr)
}

// Shutdown cascades a stop to every worker: cancel in-flight work, close
// each worker with the grace period, force-kill stragglers, and return only
// once all of them have exited. Safe to call more than once.
func (p *Pool) Shutdown(reason string) error {
	p.shutdownOnce.Do(func() {
		p.logger.Info("pool shutting down", "reason", reason)

		p.mu.Lock()
		p.state = StateStopped
		workers := make([]*managedWorker, 0, len(p.workers))
		for _, mw := range p.workers {
			workers = append(workers, mw)
		}
		p.workers = make(map[int]*managedWorker)
		monitorOn := p.monitorOn
		p.mu.Unlock()

		p.cancel()
		if monitorOn {
			<-p.monitorDone
		}

		var closers sync.WaitGroup
		for _, mw := range workers {
			closers.Add(1)
			go func(mw *managedWorker) {
				defer closers.Done()
				if err := mw.conn.Close(p.cfg.GracePeriod); err != nil {
					p.logger.Warn("worker did not exit cleanly", "worker", mw.id, "err", err)
				}
			}(mw)
		}
		closers.Wait()
		p.wg.Wait()

		p.logger.Info("pool stopped", "workers_closed", len(workers))
	})
	return nil
}

// ActiveWorkers returns the current worker count.
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Health returns a point-in-time view of pool state.
func (p *Pool) Health() HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return HealthStatus{
		State:         p.state,
		ActiveWorkers: len(p.workers),
		MaxWorkers:    p.cfg.MaxWorkers,
		Dimension:     p.dimension,
		GrowthPaused:  p.tripped,
		LastSample:    p.lastSample,
		WorkerRSS:     p.workerRSS,
	}
}

// Dimension returns the vector dimension the workers produce, or 0 before
// the first worker has started.
func (p *Pool) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

// Metrics returns cumulative pool counters.
func (p *Pool) Metrics() MetricsSnapshot {
	return p.metrics.snapshot(p.ActiveWorkers())
}

// cacheKey hashes text for the embedding cache.
func cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
