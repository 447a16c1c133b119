package limits

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/reviewarcade/server/internal/monitoring"
)

// ResourceGuard samples CPU, memory, and goroutine counts on an interval and
// refuses new connections once any of them crosses its threshold. Existing
// sessions keep running; only the accept path sheds load.
type ResourceGuard struct {
	cpuThreshold  float64
	memThreshold  float64
	maxGoroutines int
	maxConns      int64

	// currentConns points at the server's live connection counter.
	currentConns *int64

	currentCPU atomic.Value // float64
	currentMem atomic.Value // float64

	logger zerolog.Logger
}

// NewResourceGuard wires a guard to the server's connection counter.
// Thresholds are percentages of system capacity.
func NewResourceGuard(cpuThreshold, memThreshold float64, maxGoroutines int, maxConns int, currentConns *int64, logger zerolog.Logger) *ResourceGuard {
	g := &ResourceGuard{
		cpuThreshold:  cpuThreshold,
		memThreshold:  memThreshold,
		maxGoroutines: maxGoroutines,
		maxConns:      int64(maxConns),
		currentConns:  currentConns,
		logger:        logger.With().Str("component", "resource_guard").Logger(),
	}
	g.currentCPU.Store(float64(0))
	g.currentMem.Store(float64(0))
	return g
}

// Start runs the sampling loop until ctx is cancelled.
func (g *ResourceGuard) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		g.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.sample()
			}
		}
	}()
}

func (g *ResourceGuard) sample() {
	// cpu.Percent with zero interval measures since the previous call;
	// the first call returns zero, which only delays the gate one tick.
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		g.currentCPU.Store(percents[0])
		monitoring.CPUUsagePercent.Set(percents[0])
	} else if err != nil {
		g.logger.Warn().Err(err).Msg("cpu sample failed")
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		g.currentMem.Store(vmem.UsedPercent)
		monitoring.MemoryUsagePercent.Set(vmem.UsedPercent)
	} else {
		g.logger.Warn().Err(err).Msg("memory sample failed")
	}

	monitoring.GoroutinesActive.Set(float64(runtime.NumGoroutine()))
}

// Admit reports whether a new connection should be accepted. The reason
// names the first exhausted resource and doubles as a metric label.
func (g *ResourceGuard) Admit() (bool, string) {
	if conns := atomic.LoadInt64(g.currentConns); conns >= g.maxConns {
		return false, "max_connections"
	}
	if goros := runtime.NumGoroutine(); goros >= g.maxGoroutines {
		return false, "max_goroutines"
	}
	if cpuPct := g.currentCPU.Load().(float64); cpuPct >= g.cpuThreshold {
		return false, "cpu"
	}
	if memPct := g.currentMem.Load().(float64); memPct >= g.memThreshold {
		return false, "memory"
	}
	return true, ""
}

// CPUPercent returns the last sampled system CPU usage.
func (g *ResourceGuard) CPUPercent() float64 {
	return g.currentCPU.Load().(float64)
}

// MemoryPercent returns the last sampled system memory usage.
func (g *ResourceGuard) MemoryPercent() float64 {
	return g.currentMem.Load().(float64)
}
