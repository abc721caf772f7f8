// Package worker provides the background job processor: the handler
// registry, the claim/execute loop, retry backoff, and the stale-record
// reaper.
package worker

import (
	"context"
	"sync"

	"github.com/hirewire/hirewire/errors"
	"github.com/hirewire/hirewire/queue"
)

// Handler executes a specific job type.
// Domain packages implement this interface so the processor stays decoupled
// from domain logic: handlers identify themselves by job type and decode
// their own payloads.
//
// Context cancellation: handlers MUST check ctx.Done() periodically and
// return promptly when cancelled.
type Handler interface {
	// Execute runs the job and returns a result summary on success.
	// A returned error marks the attempt failed; whether the record is
	// retried or failed terminally is the processor's decision.
	Execute(ctx context.Context, job *queue.JobRecord) (result string, err error)

	// Type returns the job type this handler serves, e.g. "scrape-source".
	Type() string
}

// Registry manages handlers by job type.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its job type.
// Registering the same type twice is a programming error.
func (r *Registry) Register(handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobType := handler.Type()
	if _, exists := r.handlers[jobType]; exists {
		return errors.Newf("handler already registered for job type: %s", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// Get retrieves the handler for a job type, or nil.
func (r *Registry) Get(jobType string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[jobType]
}

// Has checks whether a handler is registered for the type.
func (r *Registry) Has(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[jobType]
	return exists
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
