package queue

import (
	"context"
	"time"
)

// Stats holds aggregate queue counts. Reads never block writers.
type Stats struct {
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
	Total    int            `json:"total"`
}

// Store abstracts job record persistence. Two implementations exist: the
// durable SQLite store for production and an in-memory store for tests,
// selected by configuration.
//
// All status transitions are conditional updates: the boolean result
// reports whether the expected prior state held. This is what makes the
// claim operation safe under concurrent claimants — the loser of a race
// observes false and moves on.
type Store interface {
	// Create inserts a new record. The record must be in StatusPending.
	Create(ctx context.Context, job *JobRecord) error

	// Get retrieves a record by id, or errors.ErrNotFound.
	Get(ctx context.Context, id string) (*JobRecord, error)

	// ClaimDue atomically claims up to limit pending records with
	// scheduled_for <= now, ordered by priority desc then created_at asc.
	// Claiming sets status=processing and increments attempts in a single
	// conditional step per record; records lost to a concurrent claimant
	// are silently skipped.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*JobRecord, error)

	// MarkCompleted transitions processing -> completed, recording the
	// result and completion time. Returns false if the record was no
	// longer processing (e.g. cancelled mid-flight — cancellation wins
	// and the result is discarded).
	MarkCompleted(ctx context.Context, id string, result string, now time.Time) (bool, error)

	// MarkFailed transitions processing -> failed terminally, retaining
	// the error. Returns false if the record was no longer processing.
	MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) (bool, error)

	// Reschedule transitions processing -> pending for a retry, recording
	// the error for observability and deferring eligibility until runAt.
	// Returns false if the record was no longer processing.
	Reschedule(ctx context.Context, id string, errMsg string, runAt, now time.Time) (bool, error)

	// Cancel transitions pending or processing -> cancelled. Returns
	// false if the record is already terminal.
	Cancel(ctx context.Context, id string, now time.Time) (bool, error)

	// ResetForRetry transitions failed -> pending with attempts=0,
	// cleared error, and immediate eligibility. Returns false unless the
	// record was failed.
	ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error)

	// UpdatePriority mutates priority on a non-terminal record. Returns
	// false if the record is terminal or missing.
	UpdatePriority(ctx context.Context, id string, priority int, now time.Time) (bool, error)

	// ListPending returns pending records ordered by priority desc,
	// created_at asc.
	ListPending(ctx context.Context, limit int) ([]*JobRecord, error)

	// ListStaleProcessing returns records stuck in processing whose
	// updated_at predates the cutoff, presumed orphaned by a crash.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error)

	// FindActiveBySource returns an active (pending or processing) record
	// with the given type and source tag, or nil when none exists. Used
	// for time-based duplicate suppression by the scrape scheduler.
	FindActiveBySource(ctx context.Context, jobType, source string) (*JobRecord, error)

	// Stats returns aggregate counts grouped by status and by type.
	Stats(ctx context.Context) (*Stats, error)

	// DeleteTerminalBefore deletes completed/failed/cancelled records
	// whose updated_at predates the cutoff. Pending and processing
	// records are never deleted. Returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}
