package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// frame is the outbound wire shape for one event.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Connection wraps one websocket session. All writes go through a
// single writer goroutine so concurrent emitters never race on the
// underlying socket.
type Connection struct {
	id     string
	userID string

	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection creates a connection wrapper for an authenticated user
// and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, userID string, sendBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		userID:       userID,
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	go c.writeLoop()
	return c
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() string { return c.id }

// UserID returns the identity bound at upgrade time.
func (c *Connection) UserID() string { return c.userID }

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool { return c.ctx.Err() != nil }

// writeLoop drains the queue until the connection context is
// cancelled. The channel is never closed: Send may race Close, and an
// unclosed buffered channel is simply garbage collected.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues one event envelope for delivery on this connection.
func (c *Connection) Send(event string, data any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	payload, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- payload:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the connection. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
