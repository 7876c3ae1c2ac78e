// Package hub owns the connection lifecycle. It serializes register,
// unregister, and inbound-frame processing through one run loop, so
// presence transitions and disconnect cascades happen in a single
// goroutine and need no cross-coordinator locking. Handlers that wait
// on the store leave this goroutine before doing so, keeping the loop
// responsive while the database is slow.
package hub

import (
	"context"
	"log/slog"
	"time"

	"chatline/internal/call"
	"chatline/internal/presence"
	"chatline/internal/room"
	"chatline/internal/router"
	"chatline/internal/typing"
	"chatline/internal/ws"
	"chatline/pkg/types"
)

type inboundFrame struct {
	conn *ws.Connection
	data []byte
}

// Hub wires the transport to the coordinators. It implements
// ws.EventSink.
type Hub struct {
	registry *ws.Registry
	presence *presence.Publisher
	typing   *typing.Coordinator
	calls    *call.Coordinator
	rooms    *room.Manager
	router   *router.Router

	register   chan *ws.Connection
	unregister chan *ws.Connection
	frames     chan inboundFrame

	startedAt time.Time
}

func New(registry *ws.Registry, pres *presence.Publisher, t *typing.Coordinator, c *call.Coordinator, rooms *room.Manager, r *router.Router) *Hub {
	return &Hub{
		registry:   registry,
		presence:   pres,
		typing:     t,
		calls:      c,
		rooms:      rooms,
		router:     r,
		register:   make(chan *ws.Connection, 64),
		unregister: make(chan *ws.Connection, 64),
		frames:     make(chan inboundFrame, 256),
		startedAt:  time.Now(),
	}
}

// Run processes lifecycle events and frames until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("hub started")
	for {
		select {
		case conn := <-h.register:
			h.handleRegister(conn)
		case conn := <-h.unregister:
			h.handleUnregister(conn)
		case f := <-h.frames:
			h.router.Dispatch(f.conn, f.data)
		case <-ctx.Done():
			slog.Info("hub stopped")
			return
		}
	}
}

// ConnectionOpened implements ws.EventSink.
func (h *Hub) ConnectionOpened(conn *ws.Connection) {
	h.register <- conn
}

// Frame implements ws.EventSink.
func (h *Hub) Frame(conn *ws.Connection, data []byte) {
	h.frames <- inboundFrame{conn: conn, data: data}
}

// ConnectionClosed implements ws.EventSink.
func (h *Hub) ConnectionClosed(conn *ws.Connection) {
	h.unregister <- conn
}

func (h *Hub) handleRegister(conn *ws.Connection) {
	wasOffline := h.registry.Add(conn)
	slog.Info("connection registered", "userId", conn.UserID(), "connId", conn.ID(), "firstConnection", wasOffline)

	if err := conn.Send(types.EventConnectionAck, map[string]any{
		"connectionId": conn.ID(),
		"userId":       conn.UserID(),
	}); err != nil {
		slog.Warn("connection ack failed", "connId", conn.ID(), "error", err)
	}

	// Presence changes only on the offline->online edge; a second tab
	// announces nothing.
	if wasOffline {
		h.presence.PublishOnline(conn.UserID())
	}
}

func (h *Hub) handleUnregister(conn *ws.Connection) {
	h.rooms.RemoveConnection(conn)
	wentOffline := h.registry.Remove(conn)
	slog.Info("connection removed", "userId", conn.UserID(), "connId", conn.ID(), "lastConnection", wentOffline)

	// Indicators and calls survive a single tab closing; only the last
	// connection tears them down.
	if wentOffline {
		h.typing.CleanupUser(conn.UserID())
		h.calls.CleanupUser(conn.UserID())
		h.presence.PublishOffline(conn.UserID())
	}
}

// Stats reports the live counters exposed over the REST surface.
func (h *Hub) Stats() map[string]any {
	reg := h.registry.Stats()
	return map[string]any{
		"onlineUsers":   reg["online_users"],
		"connections":   reg["total_connections"],
		"activeCalls":   h.calls.Len(),
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
	}
}
