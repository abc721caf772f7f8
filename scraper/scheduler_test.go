package scraper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
	hwtest "github.com/hirewire/hirewire/internal/testing"
	"github.com/hirewire/hirewire/queue"
	"github.com/hirewire/hirewire/ratelimit"
)

// mockClock allows controlling time in tests
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock(now time.Time) *mockClock {
	return &mockClock{now: now}
}

func (m *mockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func TestScrapeInterval(t *testing.T) {
	cases := []struct {
		rateLimit int
		want      time.Duration
	}{
		{6, 10 * time.Second},  // 60s / 6
		{12, 5 * time.Second},  // exactly the floor
		{60, 5 * time.Second},  // 1s derived, floored to 5s
		{600, 5 * time.Second}, // floored
		{1, time.Minute},
		{0, 5 * time.Second}, // degenerate input gets the floor
	}
	for _, tc := range cases {
		if got := ScrapeInterval(tc.rateLimit); got != tc.want {
			t.Errorf("ScrapeInterval(%d) = %s, want %s", tc.rateLimit, got, tc.want)
		}
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *queue.Manager, *SourceStore, *mockClock) {
	t.Helper()

	clock := newMockClock(time.Now().UTC())
	db := hwtest.CreateTestDB(t)
	sources := NewSourceStore(db)
	manager := queue.NewManagerWithClock(queue.NewMemoryStore(), zap.NewNop().Sugar(), clock.Now)

	s := NewScheduler(context.Background(), sources, manager, DefaultSchedulerConfig(), zap.NewNop().Sugar())
	s.timeNow = clock.Now
	t.Cleanup(s.Stop)
	return s, manager, sources, clock
}

func TestSchedulerTickEnqueuesScrapeJob(t *testing.T) {
	s, manager, sources, clock := newTestScheduler(t)
	ctx := context.Background()

	source := newTestSource("src-1", "Acme Jobs")
	require.NoError(t, sources.Create(ctx, source))
	limiter := ratelimit.NewLimiterWithClock(source.RateLimit, clock.Now)

	require.NoError(t, s.tick(ctx, "src-1", limiter))

	pending, err := manager.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, JobTypeScrapeSource, pending[0].Type)
	assert.Equal(t, "https://example.com", pending[0].Source)
	assert.Equal(t, 5, pending[0].Priority) // medium

	got, err := sources.Get(ctx, "src-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastScraped)
	assert.Equal(t, 1, got.TotalJobsProduced)
}

// An active record for the same target suppresses re-enqueue until it
// settles.
func TestSchedulerTickSkipsTargetWithActiveJob(t *testing.T) {
	s, manager, sources, clock := newTestScheduler(t)
	ctx := context.Background()

	source := newTestSource("src-1", "Acme Jobs")
	require.NoError(t, sources.Create(ctx, source))
	limiter := ratelimit.NewLimiterWithClock(source.RateLimit, clock.Now)

	require.NoError(t, s.tick(ctx, "src-1", limiter))
	require.NoError(t, s.tick(ctx, "src-1", limiter))

	pending, err := manager.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "second tick must not duplicate the active target")

	// Once the job settles, the target is eligible again.
	claimed, err := manager.ClaimDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = manager.Complete(ctx, claimed[0].ID, "done")
	require.NoError(t, err)

	require.NoError(t, s.tick(ctx, "src-1", limiter))
	pending, err = manager.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// Given: a source with rateLimit=3 per rolling 60s window
// When: ticks arrive every 5 seconds and each enqueued job settles promptly
// Then: at most 3 jobs are enqueued within the window; capacity returns
// once the window slides past the early requests
func TestSchedulerRespectsRateWindow(t *testing.T) {
	s, manager, sources, clock := newTestScheduler(t)
	ctx := context.Background()

	source := newTestSource("src-1", "Acme Jobs")
	source.RateLimit = 3
	require.NoError(t, sources.Create(ctx, source))
	limiter := ratelimit.NewLimiterWithClock(source.RateLimit, clock.Now)

	settle := func() {
		claimed, err := manager.ClaimDue(ctx, 10)
		require.NoError(t, err)
		for _, job := range claimed {
			_, err := manager.Complete(ctx, job.ID, "done")
			require.NoError(t, err)
		}
	}

	enqueued := 0
	for i := 0; i < 8; i++ {
		require.NoError(t, s.tick(ctx, "src-1", limiter))
		pending, err := manager.ListPending(ctx, 10)
		require.NoError(t, err)
		enqueued += len(pending)
		settle()
		clock.Advance(5 * time.Second)
	}

	// 8 ticks over 35s but only 3 window slots.
	assert.Equal(t, 3, enqueued, "window quota must cap enqueues")

	// 65s after the first tick the window has slid clear.
	clock.Advance(30 * time.Second)
	require.NoError(t, s.tick(ctx, "src-1", limiter))
	pending, err := manager.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "capacity returns after the window slides")
}

func TestSchedulerForceScrapeRespectsRateWindow(t *testing.T) {
	s, manager, sources, clock := newTestScheduler(t)
	ctx := context.Background()

	source := newTestSource("src-1", "Acme Jobs")
	source.RateLimit = 1
	require.NoError(t, sources.Create(ctx, source))

	// Start the timer so ForceScrape shares its window.
	require.NoError(t, s.Reconcile())

	require.NoError(t, s.ForceScrape(ctx, "src-1"))

	claimed, err := manager.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	_, err = manager.Complete(ctx, claimed[0].ID, "done")
	require.NoError(t, err)

	// Window exhausted: a second force within 60s is rejected.
	err = s.ForceScrape(ctx, "src-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))

	clock.Advance(61 * time.Second)
	require.NoError(t, s.ForceScrape(ctx, "src-1"))
}

func TestSchedulerReconcileTracksActivation(t *testing.T) {
	s, _, sources, _ := newTestScheduler(t)
	ctx := context.Background()

	source := newTestSource("src-1", "Acme Jobs")
	source.IsActive = false
	require.NoError(t, sources.Create(ctx, source))

	require.NoError(t, s.Reconcile())
	s.mu.Lock()
	_, running := s.timers["src-1"]
	s.mu.Unlock()
	assert.False(t, running, "inactive source must not get a timer")

	source.IsActive = true
	source.UpdatedAt = time.Now().UTC()
	require.NoError(t, sources.Update(ctx, source))

	require.NoError(t, s.Reconcile())
	s.mu.Lock()
	_, running = s.timers["src-1"]
	s.mu.Unlock()
	assert.True(t, running, "reconcile must start timers for newly-active sources")

	source.IsActive = false
	require.NoError(t, sources.Update(ctx, source))
	require.NoError(t, s.Reconcile())
	s.mu.Lock()
	_, running = s.timers["src-1"]
	s.mu.Unlock()
	assert.False(t, running, "reconcile must stop timers for deactivated sources")
}

func TestSchedulerAddSourceValidation(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.AddSource(ctx, "", "https://example.com", 60, false, "")
	assert.True(t, errors.IsValidation(err))

	_, err = s.AddSource(ctx, "Acme", "", 60, false, "")
	assert.True(t, errors.IsValidation(err))

	_, err = s.AddSource(ctx, "Acme", "https://example.com", 0, false, "")
	assert.True(t, errors.IsValidation(err))

	source, err := s.AddSource(ctx, "Acme", "https://example.com", 60, true, "")
	require.NoError(t, err)
	assert.NotEmpty(t, source.ID)

	s.mu.Lock()
	_, running := s.timers[source.ID]
	s.mu.Unlock()
	assert.True(t, running, "active source gets a timer on creation")
}

func TestSchedulerUpdateSourceTogglesTimer(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	source, err := s.AddSource(ctx, "Acme", "https://example.com", 60, true, "")
	require.NoError(t, err)

	inactive := false
	updated, err := s.UpdateSource(ctx, source.ID, SourceUpdate{IsActive: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	s.mu.Lock()
	_, running := s.timers[source.ID]
	s.mu.Unlock()
	assert.False(t, running, "deactivation stops the timer")

	active := true
	newLimit := 12
	updated, err = s.UpdateSource(ctx, source.ID, SourceUpdate{IsActive: &active, RateLimit: &newLimit})
	require.NoError(t, err)
	assert.Equal(t, 12, updated.RateLimit)

	s.mu.Lock()
	timer, running := s.timers[source.ID]
	s.mu.Unlock()
	require.True(t, running)
	assert.Equal(t, 5*time.Second, timer.interval)
}

func TestSchedulerGetStats(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.AddSource(ctx, "Acme", "https://example.com", 60, true, "")
	require.NoError(t, err)
	_, err = s.AddSource(ctx, "Dormant", "https://dormant.example.com", 60, false, "")
	require.NoError(t, err)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byName := make(map[string]SourceStats)
	for _, entry := range stats {
		byName[entry.Source.Name] = entry
	}
	assert.True(t, byName["Acme"].TimerRunning)
	assert.False(t, byName["Dormant"].TimerRunning)
	assert.Equal(t, 60, byName["Acme"].WindowRemaining)
}
