package pool

import (
	"context"
	"time"
)

// monitor runs the resource control loop. It only influences future growth
// decisions; in-flight batches are never touched.
func (p *Pool) monitor() {
	defer close(p.monitorDone)

	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
			p.controlTick()
		}
	}
}

// controlTick samples system usage, updates the hysteresis state, and grows
// the pool by at most one worker when every check passes.
func (p *Pool) controlTick() {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.cfg.MonitorInterval)
	defer cancel()

	sample, err := p.sampler.Sample(ctx)
	if err != nil {
		p.logger.Warn("resource sample failed", "err", err)
		return
	}

	rssTotal, rssAvg := p.sampleWorkerRSS(ctx)

	p.mu.Lock()
	p.lastSample = sample
	p.workerRSS = rssTotal

	// Hysteresis: once usage crosses a stop threshold, growth stays paused
	// until both figures fall under the (lower) resume thresholds.
	if p.tripped {
		if sample.CPUPercent < p.cfg.CPUResumePercent && sample.MemPercent < p.cfg.MemResumePercent {
			p.tripped = false
			p.logger.Info("resource pressure cleared, growth resumed",
				"cpu_pct", sample.CPUPercent, "mem_pct", sample.MemPercent)
		}
	} else if sample.CPUPercent >= p.cfg.CPUStopPercent || sample.MemPercent >= p.cfg.MemStopPercent {
		p.tripped = true
	}

	active := len(p.workers)
	tripped := p.tripped
	state := p.state
	p.mu.Unlock()

	if state != StateReady && state != StateDegraded {
		return
	}
	if active >= p.cfg.MaxWorkers {
		return
	}

	if tripped {
		p.metrics.growthRefusals.Add(1)
		p.logger.Info("growth refused: resource pressure",
			"cpu_pct", sample.CPUPercent, "mem_pct", sample.MemPercent,
			"cpu_stop", p.cfg.CPUStopPercent, "mem_stop", p.cfg.MemStopPercent,
			"workers", active)
		return
	}

	// Project the next worker's footprint against remaining headroom.
	estimate := rssAvg
	if estimate == 0 {
		estimate = p.cfg.WorkerMemEstimate
	}
	if sample.MemTotal > 0 {
		projected := sample.MemPercent + float64(estimate)/float64(sample.MemTotal)*100
		if projected >= p.cfg.MemStopPercent {
			p.metrics.growthRefusals.Add(1)
			p.logger.Info("growth refused: projected memory over threshold",
				"mem_pct", sample.MemPercent, "projected_pct", projected,
				"worker_estimate_bytes", estimate, "workers", active)
			return
		}
	}

	if err := p.startWorker(p.baseCtx); err != nil {
		p.logger.Warn("growth failed", "err", err)
		return
	}
	p.logger.Info("pool grown", "workers", active+1,
		"cpu_pct", sample.CPUPercent, "mem_pct", sample.MemPercent)
}

// sampleWorkerRSS sums resident memory across live workers. Sampling errors
// for individual workers are skipped; a worker that just exited is not
// worth failing the tick over.
func (p *Pool) sampleWorkerRSS(ctx context.Context) (total uint64, avg uint64) {
	p.mu.Lock()
	pids := make([]int, 0, len(p.workers))
	for _, mw := range p.workers {
		if pid := mw.conn.PID(); pid > 0 {
			pids = append(pids, pid)
		}
	}
	p.mu.Unlock()

	var sampled uint64
	for _, pid := range pids {
		rss, err := p.sampler.ProcessRSS(ctx, pid)
		if err != nil {
			continue
		}
		total += rss
		sampled++
	}

	if sampled > 0 {
		avg = total / sampled
	}
	return total, avg
}
