package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/hirewire/hirewire/errors"
)

const jobSelectColumns = `id, type, payload, source, priority, status, attempts, max_attempts,
	scheduled_for, result, error, created_at, updated_at, completed_at`

// SQLStore is the durable Store implementation backed by SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a job record store on the given database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, job *JobRecord) error {
	query := `
		INSERT INTO job_records (
			id, type, payload, source, priority, status,
			attempts, max_attempts, scheduled_for,
			result, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		payload,
		job.Source,
		job.Priority,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.ScheduledFor,
		job.Result,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to create job record")
		err = errors.WithDetailf(err, "Job ID: %s", job.ID)
		err = errors.WithDetailf(err, "Type: %s", job.Type)
		return err
	}

	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*JobRecord, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM job_records WHERE id = ?`

	job, err := scanJobRow(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("job record %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job record")
	}
	return job, nil
}

// ClaimDue selects due candidates and then claims each with a conditional
// update (status must still be pending). A concurrent claimant that wins a
// record first makes our update affect zero rows; that record is skipped.
func (s *SQLStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*JobRecord, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM job_records
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due job records")
	}
	candidates, err := scanJobRows(rows)
	if err != nil {
		return nil, err
	}

	claim := `
		UPDATE job_records
		SET status = 'processing', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	claimed := make([]*JobRecord, 0, len(candidates))
	for _, job := range candidates {
		res, err := s.db.ExecContext(ctx, claim, now, job.ID)
		if err != nil {
			err = errors.Wrap(err, "failed to claim job record")
			err = errors.WithDetailf(err, "Job ID: %s", job.ID)
			return claimed, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return claimed, errors.Wrap(err, "failed to get rows affected")
		}
		if n == 0 {
			continue // lost the race to another claimant
		}
		job.Status = StatusProcessing
		job.Attempts++
		job.UpdatedAt = now
		claimed = append(claimed, job)
	}

	return claimed, nil
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, result string, now time.Time) (bool, error) {
	query := `
		UPDATE job_records
		SET status = 'completed', result = ?, error = '',
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return s.conditionalUpdate(ctx, query, result, now, now, id)
}

func (s *SQLStore) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) (bool, error) {
	query := `
		UPDATE job_records
		SET status = 'failed', error = ?, result = '',
		    completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return s.conditionalUpdate(ctx, query, errMsg, now, now, id)
}

func (s *SQLStore) Reschedule(ctx context.Context, id string, errMsg string, runAt, now time.Time) (bool, error) {
	query := `
		UPDATE job_records
		SET status = 'pending', error = ?, scheduled_for = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`
	return s.conditionalUpdate(ctx, query, errMsg, runAt, now, id)
}

func (s *SQLStore) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE job_records
		SET status = 'cancelled', completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
	`
	return s.conditionalUpdate(ctx, query, now, now, id)
}

func (s *SQLStore) ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE job_records
		SET status = 'pending', attempts = 0, error = '',
		    completed_at = NULL, scheduled_for = ?, updated_at = ?
		WHERE id = ? AND status = 'failed'
	`
	return s.conditionalUpdate(ctx, query, now, now, id)
}

func (s *SQLStore) UpdatePriority(ctx context.Context, id string, priority int, now time.Time) (bool, error) {
	query := `
		UPDATE job_records
		SET priority = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
	`
	return s.conditionalUpdate(ctx, query, priority, now, id)
}

func (s *SQLStore) ListPending(ctx context.Context, limit int) ([]*JobRecord, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM job_records
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pending job records")
	}
	return scanJobRows(rows)
}

func (s *SQLStore) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM job_records
		WHERE status = 'processing' AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list stale processing records")
	}
	return scanJobRows(rows)
}

func (s *SQLStore) FindActiveBySource(ctx context.Context, jobType, source string) (*JobRecord, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM job_records
		WHERE type = ? AND source = ? AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1`

	job, err := scanJobRow(s.db.QueryRowContext(ctx, query, jobType, source))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // no active job for this source - not an error
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find active job by source")
	}
	return job, nil
}

func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM job_records GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}

	typeRows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM job_records GROUP BY type`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by type")
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var jobType string
		var count int
		if err := typeRows.Scan(&jobType, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan type count")
		}
		stats.ByType[jobType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating type counts")
	}

	return stats, nil
}

func (s *SQLStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM job_records
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND updated_at < ?
	`
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old job records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// conditionalUpdate runs an UPDATE whose WHERE clause encodes the expected
// prior state and reports whether it matched.
func (s *SQLStore) conditionalUpdate(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, errors.Wrap(err, "failed to update job record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*JobRecord, error) {
	var job JobRecord
	var payload, result, errMsg sql.NullString
	var completedAt sql.NullTime

	err := r.Scan(
		&job.ID,
		&job.Type,
		&payload,
		&job.Source,
		&job.Priority,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledFor,
		&result,
		&errMsg,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	job.Result = result.String
	job.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}

	return &job, nil
}

func scanJobRow(row *sql.Row) (*JobRecord, error) {
	return scanJob(row)
}

func scanJobRows(rows *sql.Rows) ([]*JobRecord, error) {
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job record")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job records")
	}
	return jobs, nil
}
