package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is a point-in-time view of system-wide resource usage.
type Sample struct {
	CPUPercent float64 // System-wide CPU utilization, 0-100
	MemPercent float64 // System-wide memory utilization, 0-100
	MemTotal   uint64  // Total physical memory in bytes
	Taken      time.Time
}

// Sampler provides system resource figures to the pool's monitor. It is an
// injected dependency so tests can simulate load deterministically; the
// figures are read-only ambient state and never mutated by the pool.
type Sampler interface {
	// Sample returns current system-wide CPU and memory utilization.
	Sample(ctx context.Context) (Sample, error)

	// ProcessRSS returns the resident set size of the given process in bytes.
	ProcessRSS(ctx context.Context, pid int) (uint64, error)
}

// SystemSampler reads real system figures via gopsutil.
type SystemSampler struct{}

// NewSystemSampler creates a sampler backed by the host OS.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{}
}

// Sample reads system-wide CPU and memory utilization.
func (s *SystemSampler) Sample(ctx context.Context) (Sample, error) {
	// Interval 0 measures against the previous call, which matches the
	// monitor's periodic tick.
	cpuPcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("sample cpu: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("sample memory: %w", err)
	}

	sample := Sample{
		MemPercent: vm.UsedPercent,
		MemTotal:   vm.Total,
		Taken:      time.Now(),
	}
	if len(cpuPcts) > 0 {
		sample.CPUPercent = cpuPcts[0]
	}

	return sample, nil
}

// ProcessRSS reads the resident set size of a process.
func (s *SystemSampler) ProcessRSS(ctx context.Context, pid int) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, fmt.Errorf("open process %d: %w", pid, err)
	}

	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory info for pid %d: %w", pid, err)
	}

	return info.RSS, nil
}
