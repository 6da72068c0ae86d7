package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hivechat/internal/observability"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 4096
)

// SessionHandler receives the frames and lifecycle events of one
// connection. Implemented by the session gateway.
type SessionHandler interface {
	HandleFrame(ctx context.Context, conn Conn, frame []byte)
	HandleDisconnect(ctx context.Context, conn Conn)
}

// Conn is the gateway's view of a connection: a stable session ID and
// a way to emit events to this connection only.
type Conn interface {
	SessionID() string
	Emit(data []byte) bool
}

// Client wraps one websocket connection. Inbound frames are handed to
// the session handler; outbound events are buffered on the send
// channel and written by WritePump.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	handler SessionHandler

	roomMu sync.RWMutex
	room   string

	writeMu sync.Mutex
	closed  atomic.Bool

	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewClient creates a client for an upgraded connection. The client
// context carries the session ID so downstream logging can tag every
// line with it.
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, sessionID string, handler SessionHandler) *Client {
	clientCtx, cancel := context.WithCancel(observability.WithSessionID(ctx, sessionID))

	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		id:        sessionID,
		handler:   handler,
		ctx:       clientCtx,
		ctxCancel: cancel,
	}
}

// SessionID returns the connection's stable session ID.
func (c *Client) SessionID() string {
	return c.id
}

// Room returns the room the hub currently delivers to this client.
func (c *Client) Room() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.room
}

func (c *Client) setRoom(room string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	c.room = room
}

// Emit queues data for this connection only.
func (c *Client) Emit(data []byte) bool {
	return c.trySend(data)
}

func (c *Client) trySend(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// ReadPump reads frames until the connection drops, handing each to
// the session handler. Disconnect cleanup runs after the in-flight
// frame completes, never concurrently with it.
func (c *Client) ReadPump() {
	defer func() {
		// The client context is about to be canceled; cleanup gets a
		// fresh one that still carries the session ID.
		c.handler.HandleDisconnect(observability.WithSessionID(context.Background(), c.id), c)
		c.hub.Unregister(c)
		c.ctxCancel()
		c.closeConnection()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("session_id", c.id))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("session_id", c.id))
			}
			break
		}
		c.handler.HandleFrame(c.ctx, c, frame)
	}
}

// WritePump pumps queued events to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.writeMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes to the connection in a thread-safe manner.
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() && messageType != websocket.CloseMessage {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// closeSend stops further queuing and signals WritePump to exit. The
// send channel is never closed so concurrent Emit calls stay safe.
func (c *Client) closeSend() {
	if c.closed.CompareAndSwap(false, true) {
		c.ctxCancel()
	}
}

// closeConnection safely closes the underlying connection.
func (c *Client) closeConnection() {
	c.closed.Store(true)
	c.writeMu.Lock()
	_ = c.conn.Close()
	c.writeMu.Unlock()
}
