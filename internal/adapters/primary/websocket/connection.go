package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/code-craka/visa-manager-app-sub001/internal/core/domain"
	apperrors "github.com/code-craka/visa-manager-app-sub001/internal/core/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer. Clients only ever send small
	// ping/pong control frames.
	maxMessageSize = 1024
)

// Transport is the subset of *websocket.Conn the subsystem needs. Tests
// substitute in-memory fakes.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one live, verified WebSocket connection. It is owned by the
// Registry; its socket is closed exactly once regardless of which actor
// (read pump, supervisor, shutdown) tears it down first.
type Connection struct {
	// ID is the opaque connection id, used only as a registry key.
	ID string

	// UserID is the verified token subject; immutable.
	UserID string

	// Role is agency or partner; immutable.
	Role domain.Role

	// TenantID is the agency scope this connection receives events for.
	TenantID string

	transport Transport
	registry  *Registry
	logger    *slog.Logger

	// send carries pre-serialized frames to the write pump.
	send chan []byte

	// done is closed exactly once when the connection is torn down.
	done chan struct{}

	lastLiveness atomic.Int64 // unix nanos
	closeOnce    sync.Once
}

func newConnection(id string, identity domain.Identity, transport Transport, registry *Registry, sendBuffer int, logger *slog.Logger) *Connection {
	c := &Connection{
		ID:        id,
		UserID:    identity.Subject,
		Role:      identity.Role,
		TenantID:  identity.TenantID(),
		transport: transport,
		registry:  registry,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		logger:    logger.With("connection_id", id, "user_id", identity.Subject),
	}
	c.touch(time.Now())
	return c
}

// touch records evidence that the peer is responsive.
func (c *Connection) touch(now time.Time) {
	c.lastLiveness.Store(now.UnixNano())
}

// LastLiveness returns the time of the last inbound ping, pong, or message.
func (c *Connection) LastLiveness() time.Time {
	return time.Unix(0, c.lastLiveness.Load())
}

// enqueue hands a serialized frame to the write pump without blocking. It
// fails when the connection is already closed or its buffer is full; the
// caller decides whether that is fatal for the connection.
func (c *Connection) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return apperrors.ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return apperrors.ErrConnectionClosed
	default:
		return apperrors.ErrSendBufferFull
	}
}

// Close tears down the connection: a best-effort close frame with the given
// code, then the underlying socket. Safe to call from multiple actors; only
// the first call does anything.
func (c *Connection) Close(code int, reason string) {
	c.close(code, reason, true)
}

// forceClose skips the close frame, for peers that are past caring.
func (c *Connection) forceClose() {
	c.close(0, "", false)
}

func (c *Connection) close(code int, reason string, sendFrame bool) {
	c.closeOnce.Do(func() {
		close(c.done)
		if sendFrame {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		_ = c.transport.Close()
	})
}

// WritePump pumps frames from the send channel to the socket.
// This method runs in its own goroutine.
func (c *Connection) WritePump() {
	for {
		select {
		case payload := <-c.send:
			if err := c.transport.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				c.registry.Unregister(c.ID)
				return
			}
			if err := c.transport.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("failed to write frame, dropping connection", "error", err)
				c.registry.Unregister(c.ID)
				return
			}

		case <-c.done:
			return
		}
	}
}

// ReadPump pumps inbound frames until the peer closes or the socket breaks.
// This method runs in its own goroutine.
func (c *Connection) ReadPump() {
	defer c.registry.Unregister(c.ID)

	c.transport.SetReadLimit(maxMessageSize)
	c.transport.SetPongHandler(func(string) error {
		c.touch(time.Now())
		return nil
	})

	for {
		_, message, err := c.transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		c.handleInbound(message)
	}
}

// handleInbound processes one application frame. Only ping and pong are acted
// on; everything else is logged and ignored so newer clients keep working.
// Any inbound frame counts as liveness evidence.
func (c *Connection) handleInbound(message []byte) {
	c.touch(time.Now())

	var msg domain.InboundMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("failed to unmarshal inbound frame", "error", err)
		return
	}

	switch msg.Type {
	case domain.EventPing:
		c.sendPong()

	case domain.EventPong:
		// Liveness already refreshed above.

	default:
		c.logger.Debug("ignoring unknown inbound frame type", "type", msg.Type)
	}
}

func (c *Connection) sendPong() {
	payload, err := json.Marshal(domain.NewEvent(domain.EventPong, nil))
	if err != nil {
		c.logger.Error("failed to marshal pong", "error", err)
		return
	}
	if err := c.enqueue(payload); err != nil {
		c.logger.Debug("failed to queue pong", "error", err)
	}
}
