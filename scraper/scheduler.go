package scraper

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hirewire/hirewire/errors"
	"github.com/hirewire/hirewire/queue"
	"github.com/hirewire/hirewire/ratelimit"
)

// minScrapeInterval floors the per-source tick interval so a very high
// rate limit cannot hammer a source sub-5-second.
const minScrapeInterval = 5 * time.Second

// ScrapeInterval derives the timer interval from a per-minute rate limit.
func ScrapeInterval(rateLimit int) time.Duration {
	if rateLimit <= 0 {
		return minScrapeInterval
	}
	interval := time.Minute / time.Duration(rateLimit)
	if interval < minScrapeInterval {
		return minScrapeInterval
	}
	return interval
}

// ScrapePayload is the payload of a scrape-source job record.
type ScrapePayload struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name"`
	URL        string `json:"url"`
}

// SchedulerConfig contains scheduler tuning.
type SchedulerConfig struct {
	ReconcileInterval time.Duration  `json:"reconcile_interval"` // Activation/deactivation sweep cadence
	MaxTargetsPerTick int            `json:"max_targets_per_tick"`
	Priority          queue.Priority `json:"priority"`        // Priority of enqueued scrape jobs
	GlobalRate        rate.Limit     `json:"global_rate"`     // Enqueue pacer across all sources, per second
	GlobalBurst       int            `json:"global_burst"`
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ReconcileInterval: 5 * time.Minute,
		MaxTargetsPerTick: 10,
		Priority:          queue.PriorityMedium,
		GlobalRate:        rate.Limit(5), // 5 enqueues/sec across all sources
		GlobalBurst:       10,
	}
}

// sourceTimer is the running state for one active source.
type sourceTimer struct {
	cancel   context.CancelFunc
	limiter  *ratelimit.Limiter
	interval time.Duration
}

// Scheduler maintains one recurring timer per active scrape source. Each
// tick passes a sliding-window rate check, derives targets, and enqueues
// scrape-source job records. A reconciliation sweep picks up sources
// activated or deactivated outside this process.
type Scheduler struct {
	sources *SourceStore
	manager *queue.Manager
	cfg     SchedulerConfig
	logger  *zap.SugaredLogger
	pacer   *rate.Limiter
	timeNow func() time.Time // Injectable for testing

	mu     sync.Mutex
	timers map[string]*sourceTimer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Call Start to begin driving timers.
func NewScheduler(ctx context.Context, sources *SourceStore, manager *queue.Manager, cfg SchedulerConfig, logger *zap.SugaredLogger) *Scheduler {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.MaxTargetsPerTick <= 0 {
		cfg.MaxTargetsPerTick = 10
	}
	if cfg.Priority == "" {
		cfg.Priority = queue.PriorityMedium
	}
	if cfg.GlobalRate <= 0 {
		cfg.GlobalRate = rate.Limit(5)
	}
	if cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = 10
	}

	schedCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		sources: sources,
		manager: manager,
		cfg:     cfg,
		logger:  logger.Named("scraper"),
		pacer:   rate.NewLimiter(cfg.GlobalRate, cfg.GlobalBurst),
		timeNow: time.Now,
		timers:  make(map[string]*sourceTimer),
		ctx:     schedCtx,
		cancel:  cancel,
	}
}

// Start reconciles immediately and then keeps reconciling periodically.
func (s *Scheduler) Start() {
	if err := s.Reconcile(); err != nil {
		s.logger.Warnw("Initial source reconciliation failed", "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if err := s.Reconcile(); err != nil {
					s.logger.Warnw("Source reconciliation failed", "error", err)
				}
			}
		}
	}()

	s.logger.Infow("Scrape scheduler started", "reconcile_interval", s.cfg.ReconcileInterval)
}

// Stop cancels all timers and waits for them to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.timers = make(map[string]*sourceTimer)
	s.mu.Unlock()

	s.logger.Infow("Scrape scheduler stopped")
}

// Reconcile aligns running timers with the set of active sources: starts
// timers for newly-active sources, stops timers for deactivated or deleted
// ones, and restarts timers whose rate limit changed.
func (s *Scheduler) Reconcile() error {
	active, err := s.sources.List(s.ctx, true)
	if err != nil {
		return errors.Wrap(err, "failed to list active sources")
	}

	wanted := make(map[string]*ScrapeSource, len(active))
	for _, source := range active {
		wanted[source.ID] = source
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		source, stillWanted := wanted[id]
		if stillWanted && timer.interval == ScrapeInterval(source.RateLimit) {
			delete(wanted, id) // already running correctly
			continue
		}
		timer.cancel()
		delete(s.timers, id)
		if !stillWanted {
			s.logger.Infow("Stopped timer for inactive source", "source_id", id)
		}
	}

	for _, source := range wanted {
		s.startTimerLocked(source)
	}
	return nil
}

// startTimerLocked starts the per-source tick loop. Caller holds s.mu.
func (s *Scheduler) startTimerLocked(source *ScrapeSource) {
	interval := ScrapeInterval(source.RateLimit)
	timerCtx, cancel := context.WithCancel(s.ctx)

	timer := &sourceTimer{
		cancel:   cancel,
		limiter:  ratelimit.NewLimiterWithClock(source.RateLimit, s.timeNow),
		interval: interval,
	}
	s.timers[source.ID] = timer

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-timerCtx.Done():
				return
			case <-ticker.C:
				if err := s.tick(timerCtx, source.ID, timer.limiter); err != nil {
					s.logger.Warnw("Scrape tick failed",
						"source_id", source.ID, "error", err)
				}
			}
		}
	}()

	s.logger.Infow("Started timer for source",
		"source_id", source.ID,
		"source", source.Name,
		"interval", interval,
		"rate_limit", source.RateLimit,
	)
}

// tick runs one scheduled scrape pass for a source: the rolling-window
// check, target generation, enqueue, and bookkeeping.
func (s *Scheduler) tick(ctx context.Context, sourceID string, limiter *ratelimit.Limiter) error {
	// Re-read so config/rate changes apply without a timer restart.
	source, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if !source.IsActive {
		return nil // deactivated since the timer started; reconcile will stop it
	}

	if err := limiter.Allow(); err != nil {
		// Window quota exhausted; skip this tick silently.
		s.logger.Debugw("Scrape tick skipped by rate window", "source_id", sourceID)
		return nil
	}

	produced, err := s.enqueueTargets(ctx, source)
	if err != nil {
		return err
	}

	if err := s.sources.RecordScrape(ctx, sourceID, produced, s.timeNow()); err != nil {
		return err
	}

	if produced > 0 {
		s.logger.Infow("Enqueued scrape jobs",
			"source_id", sourceID,
			"source", source.Name,
			"jobs", produced,
		)
	}
	return nil
}

// enqueueTargets schedules one scrape-source record per target, skipping
// targets that already have an active record (time-based dedup).
func (s *Scheduler) enqueueTargets(ctx context.Context, source *ScrapeSource) (int, error) {
	produced := 0
	for _, target := range source.Targets(s.cfg.MaxTargetsPerTick) {
		existing, err := s.manager.FindActiveBySource(ctx, JobTypeScrapeSource, target)
		if err != nil {
			return produced, err
		}
		if existing != nil {
			s.logger.Debugw("Skipping target with active scrape job",
				"source_id", source.ID, "url", target, "job_id", existing.ID)
			continue
		}

		if err := s.pacer.Wait(ctx); err != nil {
			return produced, err
		}

		payload, err := json.Marshal(ScrapePayload{
			SourceID:   source.ID,
			SourceName: source.Name,
			URL:        target,
		})
		if err != nil {
			return produced, errors.Wrap(err, "failed to marshal scrape payload")
		}

		if _, err := s.manager.Schedule(ctx, JobTypeScrapeSource, payload, queue.ScheduleOptions{
			Priority: s.cfg.Priority,
			Source:   target,
		}); err != nil {
			return produced, err
		}
		produced++
	}
	return produced, nil
}

// ForceScrape runs an immediate pass for one source, bypassing its timer
// but still consuming the rolling rate window.
func (s *Scheduler) ForceScrape(ctx context.Context, sourceID string) error {
	source, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	timer := s.timers[sourceID]
	s.mu.Unlock()

	limiter := ratelimit.NewLimiterWithClock(source.RateLimit, s.timeNow)
	if timer != nil {
		limiter = timer.limiter
	}

	if err := limiter.Allow(); err != nil {
		return errors.Wrapf(err, "force scrape rejected for source %s", sourceID)
	}

	produced, err := s.enqueueTargets(ctx, source)
	if err != nil {
		return err
	}
	if err := s.sources.RecordScrape(ctx, sourceID, produced, s.timeNow()); err != nil {
		return err
	}

	s.logger.Infow("Forced scrape", "source_id", sourceID, "jobs", produced)
	return nil
}

// AddSource validates and persists a new source; an active source gets a
// timer immediately.
func (s *Scheduler) AddSource(ctx context.Context, name, baseURL string, rateLimit int, isActive bool, config string) (*ScrapeSource, error) {
	if name == "" {
		return nil, errors.NewValidation("source name cannot be empty")
	}
	if baseURL == "" {
		return nil, errors.NewValidation("source base URL cannot be empty")
	}
	if rateLimit <= 0 {
		return nil, errors.NewValidation("rate limit must be positive, got %d", rateLimit)
	}

	now := s.timeNow()
	source := &ScrapeSource{
		ID:        uuid.NewString(),
		Name:      name,
		BaseURL:   baseURL,
		IsActive:  isActive,
		RateLimit: rateLimit,
		Config:    config,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sources.Create(ctx, source); err != nil {
		return nil, err
	}

	if isActive {
		s.mu.Lock()
		s.startTimerLocked(source)
		s.mu.Unlock()
	}
	return source, nil
}

// SourceUpdate holds optional field updates; nil means keep current.
type SourceUpdate struct {
	Name      *string
	BaseURL   *string
	IsActive  *bool
	RateLimit *int
	Config    *string
}

// UpdateSource applies field updates. Toggling isActive (or changing the
// rate limit) starts, stops, or restarts the source's timer.
func (s *Scheduler) UpdateSource(ctx context.Context, id string, update SourceUpdate) (*ScrapeSource, error) {
	source, err := s.sources.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		source.Name = *update.Name
	}
	if update.BaseURL != nil {
		source.BaseURL = *update.BaseURL
	}
	if update.IsActive != nil {
		source.IsActive = *update.IsActive
	}
	if update.RateLimit != nil {
		if *update.RateLimit <= 0 {
			return nil, errors.NewValidation("rate limit must be positive, got %d", *update.RateLimit)
		}
		source.RateLimit = *update.RateLimit
	}
	if update.Config != nil {
		source.Config = *update.Config
	}
	source.UpdatedAt = s.timeNow()

	if err := s.sources.Update(ctx, source); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if timer, running := s.timers[id]; running {
		timer.cancel()
		delete(s.timers, id)
	}
	if source.IsActive {
		s.startTimerLocked(source)
	}
	s.mu.Unlock()

	return source, nil
}

// SourceStats is the read-only per-source view exposed by GetStats.
type SourceStats struct {
	Source          *ScrapeSource `json:"source"`
	TimerRunning    bool          `json:"timer_running"`
	WindowUsed      int           `json:"window_used"`
	WindowRemaining int           `json:"window_remaining"`
}

// GetStats returns the current view of every source and its rate window.
func (s *Scheduler) GetStats(ctx context.Context) ([]SourceStats, error) {
	sources, err := s.sources.List(ctx, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make([]SourceStats, 0, len(sources))
	for _, source := range sources {
		entry := SourceStats{Source: source}
		if timer, running := s.timers[source.ID]; running {
			entry.TimerRunning = true
			entry.WindowUsed, entry.WindowRemaining = timer.limiter.Stats()
		}
		stats = append(stats, entry)
	}
	return stats, nil
}
