// Package queue provides the durable job queue: record model, storage, and
// the manager that owns all status transitions.
package queue

import (
	"encoding/json"
	"time"
)

// Status represents the current state of a job record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted,
		StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// DefaultMaxAttempts is the retry ceiling applied when none is specified.
const DefaultMaxAttempts = 3

// JobRecord is the persisted unit of schedulable work.
//
// Invariants:
//   - attempts never exceeds max_attempts
//   - a processing record is owned by exactly one claimant
//   - completed_at is set iff status is terminal
//   - result and error are mutually exclusive at any time
type JobRecord struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Source       string          `json:"source,omitempty"` // dedup + logging tag, e.g. a target URL
	Priority     int             `json:"priority"`
	Status       Status          `json:"status"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledFor time.Time       `json:"scheduled_for"`
	Result       string          `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Due reports whether the record is eligible for claiming at the given time.
func (j *JobRecord) Due(now time.Time) bool {
	return j.Status == StatusPending && !j.ScheduledFor.After(now)
}
