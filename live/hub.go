package live

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
)

const (
	// DefaultMaxSubscribers is the connection cap applied until an
	// operator overrides it.
	DefaultMaxSubscribers = 100

	// Subscriber cap bounds. Values outside this range are rejected.
	minSubscriberCap = 1
	maxSubscriberCap = 1000

	// clientSendBuffer is the per-connection outbound queue. A full
	// buffer drops the message for that connection rather than stalling
	// the broadcast.
	clientSendBuffer = 64
)

// ConnectionStats describes one live connection for operator diagnostics.
type ConnectionStats struct {
	ID            string    `json:"id"`
	RemoteAddress string    `json:"remote_address"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	MessagesSent  int64     `json:"messages_sent"`
	BytesSent     int64     `json:"bytes_sent"`
}

// Hub tracks connected status subscribers and fans messages out to them.
// Broadcasts never block: a subscriber that cannot keep up misses
// messages instead of slowing everyone else down.
type Hub struct {
	logger  *zap.SugaredLogger
	timeNow func() time.Time

	mu             sync.RWMutex
	clients        map[string]*Client
	maxSubscribers int
}

// NewHub creates an empty hub with the default subscriber cap.
func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:         logger.Named("live"),
		timeNow:        time.Now,
		clients:        make(map[string]*Client),
		maxSubscribers: DefaultMaxSubscribers,
	}
}

// SetMaxSubscribers adjusts the connection cap. Existing connections are
// never evicted by a lower cap; it only gates new registrations.
func (h *Hub) SetMaxSubscribers(n int) error {
	if n < minSubscriberCap || n > maxSubscriberCap {
		return errors.NewValidation("max subscribers must be between %d and %d, got %d", minSubscriberCap, maxSubscriberCap, n)
	}
	h.mu.Lock()
	h.maxSubscribers = n
	h.mu.Unlock()
	return nil
}

// MaxSubscribers returns the current connection cap.
func (h *Hub) MaxSubscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxSubscribers
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// register admits a client, enforcing the subscriber cap atomically with
// the insert so concurrent connects cannot overshoot it.
func (h *Hub) register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxSubscribers {
		return errors.Wrapf(errors.ErrCapacity,
			"subscriber limit reached (%d/%d)", len(h.clients), h.maxSubscribers)
	}
	h.clients[c.id] = c
	h.logger.Infow("Subscriber connected",
		"connection_id", c.id,
		"remote_addr", c.remoteAddr,
		"subscribers", len(h.clients))
	return nil
}

// unregister removes a client and closes its send channel. Safe to call
// more than once for the same client.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	remaining := len(h.clients)
	// Close under the write lock so it cannot interleave with the
	// non-blocking sends Broadcast performs under the read lock.
	c.closeSend()
	h.mu.Unlock()

	if present {
		h.logger.Infow("Subscriber disconnected",
			"connection_id", c.id,
			"subscribers", remaining)
	}
}

// Broadcast encodes the message once and offers it to every subscriber.
// Returns the number of subscribers that accepted it.
func (h *Hub) Broadcast(msg Message) int {
	data, err := msg.encode()
	if err != nil {
		h.logger.Errorw("Failed to encode broadcast message", "type", msg.Type, "error", err)
		return 0
	}

	// Sends are non-blocking, so holding the read lock across the whole
	// fan-out is cheap and keeps sends ordered against unregister's close.
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, c := range h.clients {
		select {
		case c.send <- data:
			c.recordSend(len(data))
			sent++
		default:
			h.logger.Warnw("Dropping message for slow subscriber",
				"connection_id", c.id, "type", msg.Type)
		}
	}
	return sent
}

// GetConnectionStats reports per-connection counters, ordered by connect
// time.
func (h *Hub) GetConnectionStats() []ConnectionStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make([]ConnectionStats, 0, len(h.clients))
	for _, c := range h.clients {
		stats = append(stats, c.stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ConnectedAt.Before(stats[j].ConnectedAt)
	})
	return stats
}

// ResetStats zeroes the message and byte counters on every connection.
// Connection identity and heartbeat timestamps are untouched.
func (h *Hub) ResetStats() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.resetCounters()
	}
}
