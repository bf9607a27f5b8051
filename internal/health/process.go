package health

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
}

// Sampler reads CPU and memory usage of the running hub.
type Sampler struct {
	proc *process.Process
}

func NewSampler() (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}
	return &Sampler{proc: p}, nil
}

// Sample returns the current usage. CPU percent is measured since the
// previous call, so the first sample reads the lifetime average.
func (s *Sampler) Sample(ctx context.Context) (ProcessStats, error) {
	stats := ProcessStats{PID: s.proc.Pid, Goroutines: runtime.NumGoroutine()}

	cpu, err := s.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return stats, fmt.Errorf("cpu percent: %w", err)
	}
	stats.CPUPercent = cpu

	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("memory info: %w", err)
	}
	stats.RSSBytes = mem.RSS
	return stats, nil
}
