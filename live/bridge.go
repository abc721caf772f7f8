package live

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hirewire/hirewire/queue"
)

// jobUpdate is the payload carried by job_update messages.
type jobUpdate struct {
	Event     queue.EventType `json:"event"`
	JobID     string          `json:"job_id"`
	JobType   string          `json:"job_type"`
	Status    queue.Status    `json:"status"`
	Priority  int             `json:"priority"`
	Attempts  int             `json:"attempts"`
	Source    string          `json:"source,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// JobEventBridge relays queue lifecycle events to hub subscribers.
type JobEventBridge struct {
	manager *queue.Manager
	hub     *Hub
	logger  *zap.SugaredLogger
}

func NewJobEventBridge(manager *queue.Manager, hub *Hub, logger *zap.SugaredLogger) *JobEventBridge {
	return &JobEventBridge{
		manager: manager,
		hub:     hub,
		logger:  logger.Named("live"),
	}
}

// Start subscribes to the manager and relays events until ctx is
// cancelled. The subscription is live when Start returns.
func (b *JobEventBridge) Start(ctx context.Context) {
	events := b.manager.Subscribe()
	b.logger.Infow("Job event bridge started")
	go b.run(ctx, events)
}

func (b *JobEventBridge) run(ctx context.Context, events chan queue.Event) {
	// Unsubscribe first so the manager stops writing, then close.
	defer func() {
		b.manager.Unsubscribe(events)
		close(events)
	}()

	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("Job event bridge stopped")
			return
		case event := <-events:
			b.relay(event)
		}
	}
}

func (b *JobEventBridge) relay(event queue.Event) {
	if event.Job == nil {
		return
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := NewMessage(MessageJobUpdate, jobUpdate{
		Event:     event.Type,
		JobID:     event.Job.ID,
		JobType:   event.Job.Type,
		Status:    event.Job.Status,
		Priority:  event.Job.Priority,
		Attempts:  event.Job.Attempts,
		Source:    event.Job.Source,
		LastError: event.Job.Error,
		Result:    event.Job.Result,
	}, ts)
	b.hub.Broadcast(msg)
}
