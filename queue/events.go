package queue

import "time"

// EventType tags a job lifecycle announcement.
type EventType string

const (
	EventQueued    EventType = "queued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetrying  EventType = "retrying"
	EventCancelled EventType = "cancelled"
)

// Event is published on every job status transition. The live status
// channel consumes these and fans them out to connected observers.
type Event struct {
	Type      EventType  `json:"type"`
	Job       *JobRecord `json:"job"`
	Timestamp time.Time  `json:"timestamp"`
}

// subscriberBufferSize is the per-subscriber channel buffer. Sends are
// non-blocking: a full subscriber drops events rather than stalling the
// publisher.
const subscriberBufferSize = 100
