package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hirewire/hirewire/queue"
)

// MaxOrphanRecovery limits how many orphaned records are recovered on
// startup to avoid overwhelming the system after a crash.
const MaxOrphanRecovery = 1000

// Config contains processor tuning.
type Config struct {
	PollInterval    time.Duration `json:"poll_interval"`    // How often to check for due work
	ClaimBatch      int           `json:"claim_batch"`      // Max records claimed per cycle
	MaxConcurrent   int64         `json:"max_concurrent"`   // Handler concurrency ceiling
	StaleThreshold  time.Duration `json:"stale_threshold"`  // Age at which a processing record is presumed orphaned
	RetentionDays   int           `json:"retention_days"`   // Terminal record retention; 0 disables the cleanup sweep
	CleanupInterval time.Duration `json:"cleanup_interval"` // How often the cleanup sweep runs
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		ClaimBatch:      10,
		MaxConcurrent:   5,
		StaleThreshold:  10 * time.Minute,
		RetentionDays:   30,
		CleanupInterval: time.Hour,
	}
}

// Processor drives job execution: it polls for due records, claims them
// atomically through the queue manager, and dispatches them to registered
// handlers under a concurrency ceiling. A reaper sweep runs each cycle to
// recover records orphaned by a crashed run.
type Processor struct {
	manager  *queue.Manager
	registry *Registry
	cfg      Config
	logger   *zap.SugaredLogger

	sem            *semaphore.Weighted
	wake           chan struct{}
	activeHandlers atomic.Int64
	timeNow        func() time.Time // Injectable for testing

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewProcessor creates a processor. Callers must register handlers on
// Registry() before calling Start.
func NewProcessor(ctx context.Context, manager *queue.Manager, cfg Config, logger *zap.SugaredLogger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	procCtx, cancel := context.WithCancel(ctx)

	return &Processor{
		manager:   manager,
		registry:  NewRegistry(),
		cfg:       cfg,
		logger:    logger.Named("worker"),
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
		wake:      make(chan struct{}, 1),
		timeNow:   time.Now,
		parentCtx: ctx,
		ctx:       procCtx,
		cancel:    cancel,
	}
}

// Registry returns the handler registry for registering job handlers.
func (p *Processor) Registry() *Registry {
	return p.registry
}

// Start recovers orphaned records, hooks the manager's wake nudge, and
// begins the poll loop. Safe to call again after Stop.
func (p *Processor) Start() {
	select {
	case <-p.ctx.Done():
		// Restart after a previous Stop.
		p.ctx, p.cancel = context.WithCancel(p.parentCtx)
	default:
	}

	if err := p.recoverOrphans(); err != nil {
		p.logger.Warnw("Failed to recover orphaned jobs", "error", err)
		// Keep starting; orphans will be reaped by the stale sweep.
	}

	p.manager.SetWake(p.Wake)

	p.wg.Add(1)
	go p.run()

	if p.cfg.RetentionDays > 0 {
		p.wg.Add(1)
		go p.cleanupLoop()
	}

	p.logger.Infow("Processor started",
		"poll_interval", p.cfg.PollInterval,
		"claim_batch", p.cfg.ClaimBatch,
		"max_concurrent", p.cfg.MaxConcurrent,
		"registered_types", p.registry.Types(),
	)
}

// Stop cancels the loops and waits for in-flight handlers to return,
// bounded by a 30 second timeout so shutdown never hangs on a stuck
// handler.
func (p *Processor) Stop() {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		p.logger.Infow("Processor stopped cleanly")
	case <-time.After(timeout):
		p.logger.Warnw("Processor stop timed out with handlers still running",
			"timeout", timeout,
			"active_handlers", p.activeHandlers.Load())
	}
}

// Wake nudges the processor to run a claim cycle immediately instead of
// waiting for the next tick. Non-blocking; a pending nudge is enough.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// recoverOrphans handles records left in processing by an ungraceful
// shutdown. Since only one processor runs per deployment, every processing
// record found at startup is orphaned: each counts as a failed attempt and
// is either re-queued or failed terminally when attempts are exhausted.
func (p *Processor) recoverOrphans() error {
	orphans, err := p.manager.ListStaleProcessing(p.ctx, p.timeNow().Add(time.Second), MaxOrphanRecovery)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	p.logger.Infow("Recovering jobs orphaned by previous shutdown", "count", len(orphans))
	for _, job := range orphans {
		p.retireAttempt(p.ctx, job, "orphaned by process shutdown")
	}
	return nil
}

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// Error backoff state for consecutive failing cycles.
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	// Immediate first cycle so startup does not wait a full poll interval.
	cycle := func() {
		if err := p.processCycle(); err != nil {
			select {
			case <-p.ctx.Done():
				return
			default:
			}
			errorCount++
			p.logger.Errorw("Processing cycle failed",
				"error", err,
				"consecutive_errors", errorCount)
			if errorCount >= maxConsecutiveErrors {
				p.logger.Warnw("Backing off after consecutive cycle errors",
					"backoff", backoff,
					"consecutive_errors", errorCount)
				select {
				case <-p.ctx.Done():
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, maxBackoff)
			}
		} else {
			if errorCount > 0 {
				p.logger.Infow("Recovered from cycle errors", "previous_error_count", errorCount)
			}
			errorCount = 0
			backoff = time.Second
		}
	}

	cycle()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			cycle()
		case <-p.wake:
			cycle()
		}
	}
}

// processCycle reaps stale records, then claims and dispatches due work.
func (p *Processor) processCycle() error {
	if err := p.reapStale(); err != nil {
		return err
	}

	claimed, err := p.manager.ClaimDue(p.ctx, p.cfg.ClaimBatch)
	if err != nil {
		return err
	}

	for _, job := range claimed {
		handler := p.registry.Get(job.Type)
		if handler == nil {
			// Not retriable: attempts would never succeed.
			if _, failErr := p.manager.Fail(p.ctx, job.ID, "unknown job type: "+job.Type); failErr != nil {
				p.logger.Errorw("Failed to fail job with unknown type",
					"job_id", job.ID, "type", job.Type, "error", failErr)
			}
			p.logger.Warnw("Claimed job has no registered handler",
				"job_id", job.ID, "type", job.Type)
			continue
		}

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			// Shutdown while waiting for a slot; the claim stays in
			// processing and startup recovery re-queues it.
			return nil
		}

		p.wg.Add(1)
		go p.execute(handler, job)
	}

	return nil
}

// execute runs one handler invocation and records its outcome.
func (p *Processor) execute(handler Handler, job *queue.JobRecord) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	p.activeHandlers.Add(1)
	defer p.activeHandlers.Add(-1)

	start := time.Now()
	result, err := handler.Execute(p.ctx, job)
	elapsed := time.Since(start)

	if err != nil {
		select {
		case <-p.ctx.Done():
			// Shutdown interrupted the handler. Re-queue immediately
			// without consuming the attempt's backoff.
			if _, reqErr := p.manager.RescheduleRetry(context.Background(), job.ID, "interrupted by shutdown", 0); reqErr != nil {
				p.logger.Errorw("Failed to re-queue interrupted job", "job_id", job.ID, "error", reqErr)
			}
			return
		default:
		}

		p.retireAttempt(p.ctx, job, err.Error())
		return
	}

	ok, err := p.manager.Complete(p.ctx, job.ID, result)
	if err != nil {
		p.logger.Errorw("Failed to record job completion", "job_id", job.ID, "error", err)
		return
	}
	if !ok {
		// Cancelled while running; result discarded.
		p.logger.Infow("Discarded result for job cancelled mid-flight",
			"job_id", job.ID, "type", job.Type)
		return
	}

	p.logger.Infow("Job completed",
		"job_id", job.ID,
		"type", job.Type,
		"attempts", job.Attempts,
		"duration", elapsed,
	)
}

// retireAttempt settles a failed attempt on a processing record: re-queue
// with exponential backoff while attempts remain, fail terminally once the
// ceiling is reached.
func (p *Processor) retireAttempt(ctx context.Context, job *queue.JobRecord, errMsg string) {
	if job.Attempts >= job.MaxAttempts {
		if _, err := p.manager.Fail(ctx, job.ID, errMsg); err != nil {
			p.logger.Errorw("Failed to mark job failed", "job_id", job.ID, "error", err)
			return
		}
		p.logger.Warnw("Job failed terminally",
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"error", errMsg,
		)
		return
	}

	delay := RetryBackoff(job.Attempts)
	if _, err := p.manager.RescheduleRetry(ctx, job.ID, errMsg, delay); err != nil {
		p.logger.Errorw("Failed to re-queue job for retry", "job_id", job.ID, "error", err)
		return
	}
	p.logger.Warnw("Job attempt failed, retrying",
		"job_id", job.ID,
		"type", job.Type,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
		"retry_in", delay,
		"error", errMsg,
	)
}

// reapStale recovers records stuck in processing past the stale threshold.
// A handler that genuinely died cannot transition its record, so the sweep
// treats the stall as a failed attempt.
func (p *Processor) reapStale() error {
	cutoff := p.timeNow().Add(-p.cfg.StaleThreshold)
	stale, err := p.manager.ListStaleProcessing(p.ctx, cutoff, p.cfg.ClaimBatch)
	if err != nil {
		return err
	}

	for _, job := range stale {
		p.logger.Warnw("Reaping stale processing record",
			"job_id", job.ID,
			"type", job.Type,
			"stale_for", time.Since(job.UpdatedAt),
		)
		p.retireAttempt(p.ctx, job, "processing stalled past threshold; presumed crashed")
	}
	return nil
}

// cleanupLoop periodically prunes terminal records past retention.
func (p *Processor) cleanupLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.manager.CleanupOlderThan(p.ctx, p.cfg.RetentionDays); err != nil {
				p.logger.Warnw("Cleanup sweep failed", "error", err)
			}
		}
	}
}
