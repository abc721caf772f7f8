package worker

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hirewire/hirewire/queue"
)

// SystemMetrics tracks resource usage for processor monitoring.
type SystemMetrics struct {
	HandlersActive int     `json:"handlers_active"` // Handlers currently executing jobs
	HandlersMax    int     `json:"handlers_max"`    // Configured concurrency ceiling
	MemoryUsedGB   float64 `json:"memory_used_gb"`
	MemoryTotalGB  float64 `json:"memory_total_gb"`
	MemoryPercent  float64 `json:"memory_percent"`
	JobsPending    int     `json:"jobs_pending"`
	JobsProcessing int     `json:"jobs_processing"`
}

// SystemMetrics returns current resource usage. Store errors degrade to
// zero counts rather than failing the sweep.
func (p *Processor) SystemMetrics(ctx context.Context) SystemMetrics {
	metrics := SystemMetrics{
		HandlersActive: int(p.activeHandlers.Load()),
		HandlersMax:    int(p.cfg.MaxConcurrent),
	}

	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		metrics.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		metrics.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		metrics.MemoryPercent = (metrics.MemoryUsedGB / metrics.MemoryTotalGB) * 100
	}

	if stats, err := p.manager.Stats(ctx); err == nil {
		metrics.JobsPending = stats.ByStatus[queue.StatusPending]
		metrics.JobsProcessing = stats.ByStatus[queue.StatusProcessing]
	}

	return metrics
}
