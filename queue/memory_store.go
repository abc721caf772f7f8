package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirewire/hirewire/errors"
)

// MemoryStore is an in-memory Store implementation with the same transition
// semantics as SQLStore. Used in tests and selected by configuration for
// ephemeral deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

// NewMemoryStore creates an empty in-memory job record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*JobRecord)}
}

func (s *MemoryStore) Create(ctx context.Context, job *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return errors.Newf("job record already exists: %s", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NewNotFound("job record %s", id)
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*JobRecord
	for _, job := range s.jobs {
		if job.Due(now) {
			due = append(due, job)
		}
	}
	sortByClaimOrder(due)

	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*JobRecord, 0, len(due))
	for _, job := range due {
		job.Status = StatusProcessing
		job.Attempts++
		job.UpdatedAt = now
		cp := *job
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string, result string, now time.Time) (bool, error) {
	return s.transition(id, StatusProcessing, func(job *JobRecord) {
		job.Status = StatusCompleted
		job.Result = result
		job.Error = ""
		job.CompletedAt = &now
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) (bool, error) {
	return s.transition(id, StatusProcessing, func(job *JobRecord) {
		job.Status = StatusFailed
		job.Error = errMsg
		job.Result = ""
		job.CompletedAt = &now
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Reschedule(ctx context.Context, id string, errMsg string, runAt, now time.Time) (bool, error) {
	return s.transition(id, StatusProcessing, func(job *JobRecord) {
		job.Status = StatusPending
		job.Error = errMsg
		job.ScheduledFor = runAt
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) Cancel(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = StatusCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, StatusFailed, func(job *JobRecord) {
		job.Status = StatusPending
		job.Attempts = 0
		job.Error = ""
		job.CompletedAt = nil
		job.ScheduledFor = now
		job.UpdatedAt = now
	})
}

func (s *MemoryStore) UpdatePriority(ctx context.Context, id string, priority int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Priority = priority
	job.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) ListPending(ctx context.Context, limit int) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*JobRecord
	for _, job := range s.jobs {
		if job.Status == StatusPending {
			cp := *job
			pending = append(pending, &cp)
		}
	}
	sortByClaimOrder(pending)

	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStore) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*JobRecord
	for _, job := range s.jobs {
		if job.Status == StatusProcessing && job.UpdatedAt.Before(cutoff) {
			cp := *job
			stale = append(stale, &cp)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})

	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *MemoryStore) FindActiveBySource(ctx context.Context, jobType, source string) (*JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *JobRecord
	for _, job := range s.jobs {
		if job.Type != jobType || job.Source != source {
			continue
		}
		if job.Status != StatusPending && job.Status != StatusProcessing {
			continue
		}
		if newest == nil || job.CreatedAt.After(newest.CreatedAt) {
			newest = job
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[string]int),
	}
	for _, job := range s.jobs {
		stats.ByStatus[job.Status]++
		stats.ByType[job.Type]++
		stats.Total++
	}
	return stats, nil
}

func (s *MemoryStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

// transition applies mutate if the record exists and is in the expected
// status, mirroring the conditional UPDATE of the SQL store.
func (s *MemoryStore) transition(id string, expect Status, mutate func(*JobRecord)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != expect {
		return false, nil
	}
	mutate(job)
	return true, nil
}

func sortByClaimOrder(jobs []*JobRecord) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
