package live

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
)

// attach registers a pumpless client so tests can observe its send
// channel directly.
func attach(t *testing.T, hub *Hub, id string) *Client {
	t.Helper()
	c := newClient(hub, nil, id, "127.0.0.1:0")
	require.NoError(t, hub.register(c))
	return c
}

func readMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for message")
		return Message{}
	}
}

// Given: a hub capped at 2 subscribers
// When: a third connection is attempted
// Then: it is rejected with a capacity error, and disconnecting an
// existing subscriber frees the slot
func TestHubEnforcesSubscriberCap(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	require.NoError(t, hub.SetMaxSubscribers(2))

	first := attach(t, hub, "conn-1")
	attach(t, hub, "conn-2")

	third := newClient(hub, nil, "conn-3", "127.0.0.1:0")
	err := hub.register(third)
	require.Error(t, err)
	assert.True(t, errors.IsCapacity(err))
	assert.Equal(t, 2, hub.ClientCount())

	hub.unregister(first)
	assert.Equal(t, 1, hub.ClientCount())
	require.NoError(t, hub.register(third))
	assert.Equal(t, 2, hub.ClientCount())
}

func TestHubSetMaxSubscribersBounds(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	assert.True(t, errors.IsValidation(hub.SetMaxSubscribers(0)))
	assert.True(t, errors.IsValidation(hub.SetMaxSubscribers(-5)))
	assert.True(t, errors.IsValidation(hub.SetMaxSubscribers(1001)))

	require.NoError(t, hub.SetMaxSubscribers(1))
	require.NoError(t, hub.SetMaxSubscribers(1000))
	assert.Equal(t, 1000, hub.MaxSubscribers())
}

// Lowering the cap below the current count keeps existing connections
// but gates new ones.
func TestHubLoweredCapKeepsExistingConnections(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	attach(t, hub, "conn-1")
	attach(t, hub, "conn-2")
	require.NoError(t, hub.SetMaxSubscribers(1))

	assert.Equal(t, 2, hub.ClientCount())
	err := hub.register(newClient(hub, nil, "conn-3", "127.0.0.1:0"))
	assert.True(t, errors.IsCapacity(err))
}

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	a := attach(t, hub, "conn-a")
	b := attach(t, hub, "conn-b")

	sent := hub.Broadcast(NewMessage(MessageDaemonStatus, map[string]string{"state": "idle"}, time.Now()))
	assert.Equal(t, 2, sent)

	for _, c := range []*Client{a, b} {
		msg := readMessage(t, c)
		assert.Equal(t, MessageDaemonStatus, msg.Type)
		assert.NotZero(t, msg.Timestamp)
	}
}

// A subscriber with a full buffer misses the message; nobody else does.
func TestHubBroadcastNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	slow := attach(t, hub, "conn-slow")
	healthy := attach(t, hub, "conn-healthy")

	for i := 0; i < clientSendBuffer; i++ {
		slow.send <- []byte("{}")
	}

	done := make(chan int, 1)
	go func() {
		done <- hub.Broadcast(NewMessage(MessageJobUpdate, nil, time.Now()))
	}()

	select {
	case sent := <-done:
		assert.Equal(t, 1, sent, "only the healthy subscriber accepts")
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}

	msg := readMessage(t, healthy)
	assert.Equal(t, MessageJobUpdate, msg.Type)
}

func TestHubConnectionStats(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	a := attach(t, hub, "conn-a")
	attach(t, hub, "conn-b")

	hub.Broadcast(NewMessage(MessageDaemonStatus, nil, time.Now()))
	hub.Broadcast(NewMessage(MessageDaemonStatus, nil, time.Now()))

	stats := hub.GetConnectionStats()
	require.Len(t, stats, 2)
	for _, entry := range stats {
		assert.Equal(t, int64(2), entry.MessagesSent)
		assert.Positive(t, entry.BytesSent)
		assert.False(t, entry.ConnectedAt.IsZero())
		assert.False(t, entry.LastHeartbeat.IsZero())
		assert.Equal(t, "127.0.0.1:0", entry.RemoteAddress)
	}

	hub.ResetStats()
	stats = hub.GetConnectionStats()
	for _, entry := range stats {
		assert.Zero(t, entry.MessagesSent)
		assert.Zero(t, entry.BytesSent)
	}

	// Counters resume from zero after a reset.
	hub.Broadcast(NewMessage(MessageDaemonStatus, nil, time.Now()))
	found := false
	for _, entry := range hub.GetConnectionStats() {
		if entry.ID == a.id {
			found = true
			assert.Equal(t, int64(1), entry.MessagesSent)
		}
	}
	assert.True(t, found)
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	c := attach(t, hub, "conn-1")
	hub.unregister(c)
	hub.unregister(c)
	assert.Zero(t, hub.ClientCount())

	_, ok := <-c.send
	assert.False(t, ok, "send channel closed on unregister")
}

func TestHubBroadcastWithNoSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	assert.Zero(t, hub.Broadcast(NewMessage(MessageDaemonStatus, nil, time.Now())))
}

func TestHubConcurrentRegistrationRespectsCap(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	require.NoError(t, hub.SetMaxSubscribers(5))

	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(n int) {
			results <- hub.register(newClient(hub, nil, fmt.Sprintf("conn-%d", n), "127.0.0.1:0"))
		}(i)
	}

	admitted := 0
	for i := 0; i < 20; i++ {
		if err := <-results; err == nil {
			admitted++
		} else {
			assert.True(t, errors.IsCapacity(err))
		}
	}
	assert.Equal(t, 5, admitted)
	assert.Equal(t, 5, hub.ClientCount())
}
