package live

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hirewire/hirewire/errors"
)

// SnapshotFunc produces the initial state pushed to a subscriber right
// after it connects, so it does not have to wait for the next broadcast.
type SnapshotFunc func(ctx context.Context) (interface{}, error)

// StreamHandler upgrades HTTP requests to websocket subscriptions on the
// hub.
type StreamHandler struct {
	hub      *Hub
	snapshot SnapshotFunc
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

// NewStreamHandler builds the /ws endpoint handler. snapshot may be nil,
// in which case no initial state is pushed.
func NewStreamHandler(hub *Hub, snapshot SnapshotFunc, logger *zap.SugaredLogger) *StreamHandler {
	return &StreamHandler{
		hub:      hub,
		snapshot: snapshot,
		logger:   logger.Named("live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Cheap pre-upgrade rejection. The authoritative check happens in
	// register, under the hub lock.
	if h.hub.ClientCount() >= h.hub.MaxSubscribers() {
		http.Error(w, "subscriber limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := newClient(h.hub, conn, uuid.NewString(), r.RemoteAddr)
	if err := h.hub.register(client); err != nil {
		if errors.IsCapacity(err) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber limit reached"),
				h.hub.timeNow().Add(writeWait))
		}
		conn.Close()
		return
	}

	if h.snapshot != nil {
		if data, err := h.snapshot(r.Context()); err == nil {
			msg := NewMessage(MessageSnapshot, data, h.hub.timeNow())
			if encoded, err := msg.encode(); err == nil {
				select {
				case client.send <- encoded:
					client.recordSend(len(encoded))
				default:
				}
			}
		} else {
			h.logger.Warnw("Failed to build connect snapshot", "connection_id", client.id, "error", err)
		}
	}

	go client.writePump()
	go client.readPump()
}
