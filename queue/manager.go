package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
)

// Manager schedules, cancels, retries, and queries job records. It is the
// only component permitted to mutate job record status; the processor goes
// through the claim/complete/fail operations defined here, never by direct
// field writes.
type Manager struct {
	store   Store
	logger  *zap.SugaredLogger
	timeNow func() time.Time

	mu          sync.RWMutex
	subscribers []chan Event
	wake        func() // optional immediate-execution nudge
}

// ScheduleOptions tunes a single Schedule call. The zero value enqueues at
// MEDIUM priority, eligible immediately, with the default retry ceiling.
type ScheduleOptions struct {
	Priority     Priority
	Delay        time.Duration
	ScheduledFor time.Time // overrides Delay when non-zero
	MaxAttempts  int
	Source       string // dedup/logging tag
}

// NewManager creates a queue manager on the given store.
func NewManager(store Store, logger *zap.SugaredLogger) *Manager {
	return NewManagerWithClock(store, logger, time.Now)
}

// NewManagerWithClock creates a manager with an injectable clock (for testing).
func NewManagerWithClock(store Store, logger *zap.SugaredLogger, timeNow func() time.Time) *Manager {
	return &Manager{
		store:   store,
		logger:  logger,
		timeNow: timeNow,
	}
}

// SetWake installs the immediate-execution nudge invoked when a record is
// scheduled with no delay. The processor registers itself here; claiming
// stays atomic either way, so a spurious wake is harmless (at-least-once).
func (m *Manager) SetWake(wake func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wake = wake
}

// Schedule validates parameters, inserts a pending job record, and returns
// its id. Unknown symbolic priority levels are rejected before any record
// is created.
func (m *Manager) Schedule(ctx context.Context, jobType string, payload json.RawMessage, opts ScheduleOptions) (string, error) {
	if jobType == "" {
		return "", errors.NewValidation("job type cannot be empty")
	}

	level := opts.Priority
	if level == "" {
		level = PriorityMedium
	}
	priority, err := level.Value()
	if err != nil {
		return "", err
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	now := m.timeNow()
	scheduledFor := now
	delayed := false
	switch {
	case !opts.ScheduledFor.IsZero():
		scheduledFor = opts.ScheduledFor
		delayed = scheduledFor.After(now)
	case opts.Delay > 0:
		scheduledFor = now.Add(opts.Delay)
		delayed = true
	}

	job := &JobRecord{
		ID:           uuid.NewString(),
		Type:         jobType,
		Payload:      payload,
		Source:       opts.Source,
		Priority:     priority,
		Status:       StatusPending,
		MaxAttempts:  maxAttempts,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.store.Create(ctx, job); err != nil {
		return "", errors.Wrap(err, "failed to schedule job")
	}

	m.publish(EventQueued, job)

	if !delayed {
		m.nudge()
	}

	m.logger.Debugw("Job scheduled",
		"job_id", job.ID,
		"type", jobType,
		"priority", level,
		"scheduled_for", scheduledFor,
	)

	return job.ID, nil
}

// GetJob retrieves a record by id.
func (m *Manager) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	return m.store.Get(ctx, id)
}

// ListPending returns pending records in claim order.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]*JobRecord, error) {
	return m.store.ListPending(ctx, limit)
}

// Cancel transitions a pending or processing record to cancelled. Returns
// false when the record is already terminal or missing; callers can treat
// "no-op" distinctly from "crashed". Cancellation of a processing record
// is advisory: in-flight work is not interrupted, but its completion write
// will lose to the cancelled status and be discarded.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.Cancel(ctx, id, m.timeNow())
	if err != nil {
		return false, errors.Wrapf(err, "failed to cancel job %s", id)
	}
	if ok {
		m.publishByID(ctx, EventCancelled, id)
	}
	return ok, nil
}

// Retry resets a failed record for re-execution: attempts back to zero,
// error cleared, eligible immediately. Only legal from failed.
func (m *Manager) Retry(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.ResetForRetry(ctx, id, m.timeNow())
	if err != nil {
		return false, errors.Wrapf(err, "failed to retry job %s", id)
	}
	if ok {
		m.publishByID(ctx, EventQueued, id)
		m.nudge()
	}
	return ok, nil
}

// UpdatePriority mutates priority on a non-terminal record.
func (m *Manager) UpdatePriority(ctx context.Context, id string, level Priority) (bool, error) {
	priority, err := level.Value()
	if err != nil {
		return false, err
	}
	ok, err := m.store.UpdatePriority(ctx, id, priority, m.timeNow())
	if err != nil {
		return false, errors.Wrapf(err, "failed to update priority for job %s", id)
	}
	return ok, nil
}

// Stats returns aggregate counts by status and type. Read-only; never
// blocks writers.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.store.Stats(ctx)
}

// CleanupOlderThan deletes terminal records whose updated_at predates the
// cutoff and returns how many were removed. Idempotent: a second call
// deletes nothing new.
func (m *Manager) CleanupOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, errors.NewValidation("cleanup horizon must be positive, got %d days", days)
	}
	cutoff := m.timeNow().AddDate(0, 0, -days)
	n, err := m.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}
	if n > 0 {
		m.logger.Infow("Cleaned up old job records", "deleted", n, "older_than_days", days)
	}
	return n, nil
}

// FindActiveBySource exposes duplicate suppression for the scrape
// scheduler: an active record for the same (type, source) means a new
// enqueue would be redundant.
func (m *Manager) FindActiveBySource(ctx context.Context, jobType, source string) (*JobRecord, error) {
	return m.store.FindActiveBySource(ctx, jobType, source)
}

// --- claim/complete/fail surface used by the processor ---

// ClaimDue atomically claims up to limit due records. Each claim publishes
// a started event.
func (m *Manager) ClaimDue(ctx context.Context, limit int) ([]*JobRecord, error) {
	claimed, err := m.store.ClaimDue(ctx, m.timeNow(), limit)
	if err != nil {
		return claimed, err
	}
	for _, job := range claimed {
		m.publish(EventStarted, job)
	}
	return claimed, nil
}

// Complete records a successful handler outcome. Returns false when the
// record was no longer processing — typically cancelled mid-flight, in
// which case the result is discarded (last-writer-wins favors cancelled).
func (m *Manager) Complete(ctx context.Context, id string, result string) (bool, error) {
	ok, err := m.store.MarkCompleted(ctx, id, result, m.timeNow())
	if err != nil {
		return false, errors.Wrapf(err, "failed to complete job %s", id)
	}
	if ok {
		m.publishByID(ctx, EventCompleted, id)
	}
	return ok, nil
}

// Fail records a terminal handler failure.
func (m *Manager) Fail(ctx context.Context, id string, errMsg string) (bool, error) {
	ok, err := m.store.MarkFailed(ctx, id, errMsg, m.timeNow())
	if err != nil {
		return false, errors.Wrapf(err, "failed to mark job %s failed", id)
	}
	if ok {
		m.publishByID(ctx, EventFailed, id)
	}
	return ok, nil
}

// RescheduleRetry returns a processing record to pending after a handler
// error, deferring eligibility by delay and recording the error for
// observability.
func (m *Manager) RescheduleRetry(ctx context.Context, id string, errMsg string, delay time.Duration) (bool, error) {
	now := m.timeNow()
	ok, err := m.store.Reschedule(ctx, id, errMsg, now.Add(delay), now)
	if err != nil {
		return false, errors.Wrapf(err, "failed to reschedule job %s", id)
	}
	if ok {
		m.publishByID(ctx, EventRetrying, id)
	}
	return ok, nil
}

// ListStaleProcessing surfaces records presumed orphaned by a crash.
func (m *Manager) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	return m.store.ListStaleProcessing(ctx, cutoff, limit)
}

// --- event feed ---

// Subscribe returns a channel that receives job lifecycle events.
// The caller is responsible for calling Unsubscribe when done. The channel
// is buffered; slow consumers drop events rather than stalling publishers.
func (m *Manager) Subscribe() chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed here;
// callers close it themselves after unsubscribing to avoid double-close.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			return
		}
	}
}

func (m *Manager) publish(eventType EventType, job *JobRecord) {
	event := Event{Type: eventType, Job: job, Timestamp: m.timeNow()}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			// subscriber full, skip (non-blocking)
		}
	}
}

// publishByID re-reads the record so subscribers see post-transition state.
// A read failure only costs the event, never the transition.
func (m *Manager) publishByID(ctx context.Context, eventType EventType, id string) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		m.logger.Debugw("Skipping event for unreadable job", "job_id", id, "event", eventType, "error", err)
		return
	}
	m.publish(eventType, job)
}

func (m *Manager) nudge() {
	m.mu.RLock()
	wake := m.wake
	m.mu.RUnlock()
	if wake != nil {
		wake()
	}
}
