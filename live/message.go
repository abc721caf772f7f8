// Package live provides the websocket status channel: a hub that fans job
// lifecycle and daemon status events out to connected subscribers without
// ever blocking on a slow one.
package live

import (
	"encoding/json"
	"time"
)

// Message is the wire envelope pushed to subscribers.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Message types pushed over the channel.
const (
	MessageSnapshot     = "snapshot"      // initial state on connect
	MessageJobUpdate    = "job_update"    // job lifecycle transition
	MessageDaemonStatus = "daemon_status" // periodic processor/queue status
)

// encode marshals the envelope once so a broadcast serializes a single
// time regardless of subscriber count.
func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

// NewMessage builds an envelope stamped with the given time.
func NewMessage(msgType string, data interface{}, at time.Time) Message {
	return Message{Type: msgType, Data: data, Timestamp: at.Unix()}
}
