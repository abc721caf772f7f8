package live

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hirewire/hirewire/worker"
)

// Daemon states derived from queue depth.
const (
	DaemonBusy   = "busy"   // jobs executing right now
	DaemonActive = "active" // jobs waiting but none executing
	DaemonIdle   = "idle"
)

// Broadcast intervals per daemon state. Busy processors report every
// second; an idle daemon only confirms liveness twice a minute.
const (
	busyStatusInterval   = 1 * time.Second
	activeStatusInterval = 5 * time.Second
	idleStatusInterval   = 30 * time.Second
)

// memoryPercentTolerance suppresses rebroadcasts for memory jitter.
const memoryPercentTolerance = 1.0

// DaemonStatus is the payload carried by daemon_status messages.
type DaemonStatus struct {
	State          string  `json:"state"`
	JobsPending    int     `json:"jobs_pending"`
	JobsProcessing int     `json:"jobs_processing"`
	HandlersActive int     `json:"handlers_active"`
	HandlersMax    int     `json:"handlers_max"`
	MemoryUsedGB   float64 `json:"memory_used_gb"`
	MemoryPercent  float64 `json:"memory_percent"`
	Subscribers    int     `json:"subscribers"`
}

// MetricsProvider supplies processor resource metrics. *worker.Processor
// satisfies it.
type MetricsProvider interface {
	SystemMetrics(ctx context.Context) worker.SystemMetrics
}

// StatusBroadcaster periodically pushes daemon status to hub subscribers.
// The interval adapts to queue activity and unchanged statuses are not
// rebroadcast.
type StatusBroadcaster struct {
	hub     *Hub
	metrics MetricsProvider
	logger  *zap.SugaredLogger
	timeNow func() time.Time

	mu         sync.Mutex
	lastStatus *DaemonStatus
}

func NewStatusBroadcaster(hub *Hub, metrics MetricsProvider, logger *zap.SugaredLogger) *StatusBroadcaster {
	return &StatusBroadcaster{
		hub:     hub,
		metrics: metrics,
		logger:  logger.Named("live"),
		timeNow: time.Now,
	}
}

// Run broadcasts until ctx is cancelled. Call in a goroutine.
func (b *StatusBroadcaster) Run(ctx context.Context) {
	interval := idleStatusInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Infow("Daemon status broadcaster started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("Daemon status broadcaster stopped")
			return
		case <-ticker.C:
			status := b.collect(ctx)
			b.publish(status)

			if next := statusInterval(status.State); next != interval {
				interval = next
				ticker.Reset(interval)
				b.logger.Debugw("Status interval adjusted",
					"state", status.State, "interval", interval)
			}
		}
	}
}

// collect builds the current status from processor metrics and hub state.
func (b *StatusBroadcaster) collect(ctx context.Context) DaemonStatus {
	m := b.metrics.SystemMetrics(ctx)
	return DaemonStatus{
		State:          daemonState(m),
		JobsPending:    m.JobsPending,
		JobsProcessing: m.JobsProcessing,
		HandlersActive: m.HandlersActive,
		HandlersMax:    m.HandlersMax,
		MemoryUsedGB:   m.MemoryUsedGB,
		MemoryPercent:  m.MemoryPercent,
		Subscribers:    b.hub.ClientCount(),
	}
}

// publish broadcasts the status if it differs from the last one sent.
func (b *StatusBroadcaster) publish(status DaemonStatus) {
	b.mu.Lock()
	changed := b.lastStatus == nil || statusHasChanged(*b.lastStatus, status)
	if changed {
		b.lastStatus = &status
	}
	b.mu.Unlock()

	if changed {
		b.hub.Broadcast(NewMessage(MessageDaemonStatus, status, b.timeNow()))
	}
}

func daemonState(m worker.SystemMetrics) string {
	switch {
	case m.JobsProcessing > 0 || m.HandlersActive > 0:
		return DaemonBusy
	case m.JobsPending > 0:
		return DaemonActive
	default:
		return DaemonIdle
	}
}

func statusInterval(state string) time.Duration {
	switch state {
	case DaemonBusy:
		return busyStatusInterval
	case DaemonActive:
		return activeStatusInterval
	default:
		return idleStatusInterval
	}
}

func statusHasChanged(prev, cur DaemonStatus) bool {
	if prev.State != cur.State ||
		prev.JobsPending != cur.JobsPending ||
		prev.JobsProcessing != cur.JobsProcessing ||
		prev.HandlersActive != cur.HandlersActive ||
		prev.HandlersMax != cur.HandlersMax ||
		prev.Subscribers != cur.Subscribers {
		return true
	}
	return absDiff(prev.MemoryPercent, cur.MemoryPercent) > memoryPercentTolerance
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
