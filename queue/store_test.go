package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	hwtest "github.com/hirewire/hirewire/internal/testing"
)

// forEachStore runs the same suite against both Store implementations so
// their transition semantics cannot drift apart.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, NewSQLStore(hwtest.CreateTestDB(t)))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
}

func newTestJob(id string, priority int, createdAt time.Time) *JobRecord {
	return &JobRecord{
		ID:           id,
		Type:         "scrape-source",
		Payload:      []byte(`{"url":"https://example.com/jobs"}`),
		Priority:     priority,
		Status:       StatusPending,
		MaxAttempts:  DefaultMaxAttempts,
		ScheduledFor: createdAt,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)

		job := newTestJob("job-roundtrip", 5, now)
		job.Source = "https://example.com/jobs"
		if err := store.Create(ctx, job); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := store.Get(ctx, "job-roundtrip")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Type != "scrape-source" {
			t.Errorf("Type = %q, want scrape-source", got.Type)
		}
		if string(got.Payload) != `{"url":"https://example.com/jobs"}` {
			t.Errorf("Payload mismatch: %s", got.Payload)
		}
		if got.Source != "https://example.com/jobs" {
			t.Errorf("Source = %q", got.Source)
		}
		if got.Status != StatusPending || got.Attempts != 0 {
			t.Errorf("Fresh record should be pending with 0 attempts, got %s/%d", got.Status, got.Attempts)
		}
		if got.CompletedAt != nil {
			t.Error("Fresh record should have nil CompletedAt")
		}
	})
}

func TestStoreGetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Get(context.Background(), "no-such-job")
		if err == nil {
			t.Fatal("Expected not-found error for missing record")
		}
	})
}

// Given: three pending jobs at low, urgent, and medium priority
// When: claiming due work
// Then: claim order is urgent, medium, low regardless of insertion order
func TestStoreClaimOrderByPriority(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Minute)

		if err := store.Create(ctx, newTestJob("job-low", 1, base)); err != nil {
			t.Fatal(err)
		}
		if err := store.Create(ctx, newTestJob("job-urgent", 10, base.Add(time.Second))); err != nil {
			t.Fatal(err)
		}
		if err := store.Create(ctx, newTestJob("job-medium", 5, base.Add(2*time.Second))); err != nil {
			t.Fatal(err)
		}

		claimed, err := store.ClaimDue(ctx, time.Now().UTC(), 10)
		if err != nil {
			t.Fatalf("ClaimDue failed: %v", err)
		}
		if len(claimed) != 3 {
			t.Fatalf("Expected 3 claimed jobs, got %d", len(claimed))
		}

		want := []string{"job-urgent", "job-medium", "job-low"}
		for i, id := range want {
			if claimed[i].ID != id {
				t.Errorf("Claim position %d = %s, want %s", i, claimed[i].ID, id)
			}
		}
		for _, job := range claimed {
			if job.Status != StatusProcessing {
				t.Errorf("Claimed job %s status = %s, want processing", job.ID, job.Status)
			}
			if job.Attempts != 1 {
				t.Errorf("Claimed job %s attempts = %d, want 1", job.ID, job.Attempts)
			}
		}
	})
}

// Equal priorities are claimed oldest first.
func TestStoreClaimOrderFIFOWithinPriority(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Minute)

		for i := 0; i < 3; i++ {
			job := newTestJob(fmt.Sprintf("job-%d", i), 5, base.Add(time.Duration(i)*time.Second))
			if err := store.Create(ctx, job); err != nil {
				t.Fatal(err)
			}
		}

		claimed, err := store.ClaimDue(ctx, time.Now().UTC(), 10)
		if err != nil {
			t.Fatalf("ClaimDue failed: %v", err)
		}
		for i, job := range claimed {
			if want := fmt.Sprintf("job-%d", i); job.ID != want {
				t.Errorf("Claim position %d = %s, want %s", i, job.ID, want)
			}
		}
	})
}

func TestStoreClaimSkipsFutureScheduled(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		future := newTestJob("job-future", 10, now)
		future.ScheduledFor = now.Add(time.Hour)
		if err := store.Create(ctx, future); err != nil {
			t.Fatal(err)
		}

		claimed, err := store.ClaimDue(ctx, now, 10)
		if err != nil {
			t.Fatalf("ClaimDue failed: %v", err)
		}
		if len(claimed) != 0 {
			t.Errorf("Future-scheduled job should not be claimable, got %d claims", len(claimed))
		}
	})
}

// Given: one pending job and many concurrent claimants
// When: all claim at once
// Then: exactly one claimant wins and attempts is incremented exactly once
func TestStoreConcurrentClaimSingleWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.Create(ctx, newTestJob("job-contested", 5, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}

		const claimants = 8
		var wg sync.WaitGroup
		wins := make(chan int, claimants)

		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := store.ClaimDue(ctx, now, 1)
				if err != nil {
					t.Errorf("ClaimDue failed: %v", err)
					return
				}
				wins <- len(claimed)
			}()
		}
		wg.Wait()
		close(wins)

		total := 0
		for n := range wins {
			total += n
		}
		if total != 1 {
			t.Errorf("Expected exactly 1 successful claim, got %d", total)
		}

		job, err := store.Get(ctx, "job-contested")
		if err != nil {
			t.Fatal(err)
		}
		if job.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1 (claim must increment exactly once)", job.Attempts)
		}
	})
}

func TestStoreCompletionTransitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.Create(ctx, newTestJob("job-done", 5, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}

		ok, err := store.MarkCompleted(ctx, "job-done", `{"postings":12}`, now)
		if err != nil {
			t.Fatalf("MarkCompleted failed: %v", err)
		}
		if !ok {
			t.Fatal("MarkCompleted on processing record should succeed")
		}

		job, err := store.Get(ctx, "job-done")
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != StatusCompleted {
			t.Errorf("Status = %s, want completed", job.Status)
		}
		if job.Result != `{"postings":12}` {
			t.Errorf("Result = %q", job.Result)
		}
		if job.Error != "" {
			t.Errorf("Completed record should have empty error, got %q", job.Error)
		}
		if job.CompletedAt == nil {
			t.Error("Completed record should have CompletedAt set")
		}

		// Completing again is a no-op (record no longer processing).
		ok, err = store.MarkCompleted(ctx, "job-done", "again", now)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("MarkCompleted on completed record should report false")
		}
	})
}

// Cancellation of an in-flight record wins over its late completion write.
func TestStoreCancelBeatsLateCompletion(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.Create(ctx, newTestJob("job-raced", 5, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}

		ok, err := store.Cancel(ctx, "job-raced", now)
		if err != nil || !ok {
			t.Fatalf("Cancel on processing record: ok=%v err=%v", ok, err)
		}

		// Handler finishes late; its result must be discarded.
		ok, err = store.MarkCompleted(ctx, "job-raced", "late result", now)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("Completion after cancellation should report false")
		}

		job, err := store.Get(ctx, "job-raced")
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != StatusCancelled {
			t.Errorf("Status = %s, want cancelled", job.Status)
		}
		if job.Result != "" {
			t.Errorf("Cancelled record should have no result, got %q", job.Result)
		}
	})
}

func TestStoreCancelTerminalIsNoOp(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.Create(ctx, newTestJob("job-final", 5, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := store.MarkCompleted(ctx, "job-final", "done", now); err != nil {
			t.Fatal(err)
		}

		ok, err := store.Cancel(ctx, "job-final", now)
		if err != nil {
			t.Fatalf("Cancel returned error: %v", err)
		}
		if ok {
			t.Error("Cancel on completed record should report false")
		}

		job, _ := store.Get(ctx, "job-final")
		if job.Status != StatusCompleted {
			t.Errorf("Completed record mutated by cancel: %s", job.Status)
		}
	})
}

func TestStoreResetForRetryOnlyFromFailed(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.Create(ctx, newTestJob("job-retryable", 5, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}

		// Pending record: retry is rejected.
		ok, err := store.ResetForRetry(ctx, "job-retryable", now)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("ResetForRetry on pending record should report false")
		}

		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := store.MarkFailed(ctx, "job-retryable", "boom", now); err != nil {
			t.Fatal(err)
		}

		ok, err = store.ResetForRetry(ctx, "job-retryable", now)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("ResetForRetry on failed record should succeed")
		}

		job, err := store.Get(ctx, "job-retryable")
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != StatusPending {
			t.Errorf("Status = %s, want pending", job.Status)
		}
		if job.Attempts != 0 {
			t.Errorf("Attempts = %d, want 0 after manual retry", job.Attempts)
		}
		if job.Error != "" {
			t.Errorf("Error should be cleared, got %q", job.Error)
		}
		if job.CompletedAt != nil {
			t.Error("CompletedAt should be cleared on retry")
		}
	})
}

func TestStoreRescheduleRetainsError(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		if err := store.Create(ctx, newTestJob("job-flaky", 5, now.Add(-time.Minute))); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}

		runAt := now.Add(30 * time.Second)
		ok, err := store.Reschedule(ctx, "job-flaky", "connection refused", runAt, now)
		if err != nil || !ok {
			t.Fatalf("Reschedule: ok=%v err=%v", ok, err)
		}

		job, err := store.Get(ctx, "job-flaky")
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != StatusPending {
			t.Errorf("Status = %s, want pending", job.Status)
		}
		if job.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1 (retained across reschedule)", job.Attempts)
		}
		if job.Error != "connection refused" {
			t.Errorf("Error = %q, want retained for observability", job.Error)
		}

		// Not claimable until runAt.
		claimed, err := store.ClaimDue(ctx, now, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(claimed) != 0 {
			t.Errorf("Rescheduled job claimable before backoff elapsed")
		}
		claimed, err = store.ClaimDue(ctx, runAt.Add(time.Second), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(claimed) != 1 {
			t.Errorf("Rescheduled job should be claimable after backoff, got %d", len(claimed))
		}
	})
}

func TestStoreFindActiveBySource(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		found, err := store.FindActiveBySource(ctx, "scrape-source", "https://example.com")
		if err != nil {
			t.Fatal(err)
		}
		if found != nil {
			t.Error("Expected nil for source with no active jobs")
		}

		job := newTestJob("job-src", 5, now.Add(-time.Minute))
		job.Source = "https://example.com"
		if err := store.Create(ctx, job); err != nil {
			t.Fatal(err)
		}

		found, err = store.FindActiveBySource(ctx, "scrape-source", "https://example.com")
		if err != nil {
			t.Fatal(err)
		}
		if found == nil || found.ID != "job-src" {
			t.Fatalf("Expected job-src, got %+v", found)
		}

		// Terminal records do not count as active.
		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := store.MarkCompleted(ctx, "job-src", "ok", now); err != nil {
			t.Fatal(err)
		}
		found, err = store.FindActiveBySource(ctx, "scrape-source", "https://example.com")
		if err != nil {
			t.Fatal(err)
		}
		if found != nil {
			t.Error("Completed job should not be reported as active")
		}
	})
}

func TestStoreStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		for i := 0; i < 3; i++ {
			if err := store.Create(ctx, newTestJob(fmt.Sprintf("job-p%d", i), 5, now.Add(-time.Minute))); err != nil {
				t.Fatal(err)
			}
		}
		other := newTestJob("job-other", 5, now.Add(-time.Minute))
		other.Type = "cleanup"
		if err := store.Create(ctx, other); err != nil {
			t.Fatal(err)
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.Total != 4 {
			t.Errorf("Total = %d, want 4", stats.Total)
		}
		if stats.ByStatus[StatusPending] != 4 {
			t.Errorf("Pending count = %d, want 4", stats.ByStatus[StatusPending])
		}
		if stats.ByType["scrape-source"] != 3 || stats.ByType["cleanup"] != 1 {
			t.Errorf("ByType = %v", stats.ByType)
		}
	})
}

func TestStoreDeleteTerminalBefore(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		old := now.Add(-48 * time.Hour)

		// Old terminal record: eligible.
		done := newTestJob("job-old-done", 5, old)
		if err := store.Create(ctx, done); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, old, 1); err != nil {
			t.Fatal(err)
		}
		if _, err := store.MarkCompleted(ctx, "job-old-done", "ok", old); err != nil {
			t.Fatal(err)
		}

		// Old pending record: never deleted.
		if err := store.Create(ctx, newTestJob("job-old-pending", 5, old)); err != nil {
			t.Fatal(err)
		}

		deleted, err := store.DeleteTerminalBefore(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("DeleteTerminalBefore failed: %v", err)
		}
		if deleted != 1 {
			t.Errorf("Deleted = %d, want 1", deleted)
		}

		if _, err := store.Get(ctx, "job-old-pending"); err != nil {
			t.Error("Pending record must survive cleanup")
		}

		// Idempotent: a second sweep deletes nothing.
		deleted, err = store.DeleteTerminalBefore(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 0 {
			t.Errorf("Second sweep deleted %d, want 0", deleted)
		}
	})
}

func TestStoreListStaleProcessing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		stale := now.Add(-20 * time.Minute)

		if err := store.Create(ctx, newTestJob("job-stuck", 5, stale)); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, stale, 1); err != nil {
			t.Fatal(err)
		}

		fresh := newTestJob("job-live", 5, now.Add(-time.Minute))
		if err := store.Create(ctx, fresh); err != nil {
			t.Fatal(err)
		}
		if _, err := store.ClaimDue(ctx, now, 1); err != nil {
			t.Fatal(err)
		}

		listed, err := store.ListStaleProcessing(ctx, now.Add(-10*time.Minute), 10)
		if err != nil {
			t.Fatalf("ListStaleProcessing failed: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != "job-stuck" {
			t.Errorf("Expected only job-stuck, got %v", listed)
		}
	})
}
