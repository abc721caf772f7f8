package live

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pingPeriod is how often the server pings each subscriber.
	pingPeriod = 30 * time.Second

	// pongWait is the read deadline. It spans two ping periods plus
	// slack, so a subscriber that misses two consecutive heartbeats is
	// evicted by the deadline expiring.
	pongWait = 2*pingPeriod + 5*time.Second

	// maxMessageSize bounds inbound frames. Subscribers are listeners;
	// anything beyond a pong or a tiny control payload is suspect.
	maxMessageSize = 512
)

// Client is one websocket subscriber attached to the hub.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string

	connectedAt time.Time

	mu            sync.Mutex
	lastHeartbeat time.Time
	messagesSent  int64
	bytesSent     int64

	sendOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, id, remoteAddr string) *Client {
	now := hub.timeNow()
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, clientSendBuffer),
		remoteAddr:    remoteAddr,
		connectedAt:   now,
		lastHeartbeat: now,
	}
}

// closeSend closes the outbound channel exactly once, which in turn makes
// writePump send a close frame and tear down the connection.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() { close(c.send) })
}

func (c *Client) recordSend(bytes int) {
	c.mu.Lock()
	c.messagesSent++
	c.bytesSent += int64(bytes)
	c.mu.Unlock()
}

func (c *Client) resetCounters() {
	c.mu.Lock()
	c.messagesSent = 0
	c.bytesSent = 0
	c.mu.Unlock()
}

func (c *Client) markHeartbeat(at time.Time) {
	c.mu.Lock()
	c.lastHeartbeat = at
	c.mu.Unlock()
}

func (c *Client) stats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnectionStats{
		ID:            c.id,
		RemoteAddress: c.remoteAddr,
		ConnectedAt:   c.connectedAt,
		LastHeartbeat: c.lastHeartbeat,
		MessagesSent:  c.messagesSent,
		BytesSent:     c.bytesSent,
	}
}

// readPump drains inbound frames and enforces the heartbeat deadline.
// Pongs refresh the deadline; a peer silent past pongWait fails the read
// and the connection is unregistered.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(c.hub.timeNow().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		now := c.hub.timeNow()
		c.markHeartbeat(now)
		c.conn.SetReadDeadline(now.Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived) {
				c.hub.logger.Warnw("Subscriber read error",
					"connection_id", c.id, "error", err)
			}
			return
		}
		// Inbound data frames are ignored; this is a one-way channel.
	}
}

// writePump pushes queued messages and periodic pings to the peer. It
// exits when the send channel closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(c.hub.timeNow().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(c.hub.timeNow().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
