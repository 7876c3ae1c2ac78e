package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chatline/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is deferred to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventSink receives connection lifecycle notifications and inbound
// frames. The hub implements it; the indirection keeps this package
// free of business logic.
type EventSink interface {
	ConnectionOpened(conn *Connection)
	Frame(conn *Connection, data []byte)
	ConnectionClosed(conn *Connection)
}

// Options carries the transport tunables the handler needs.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// Handler upgrades HTTP requests to websocket connections and runs the
// per-connection read pump. Identity arrives as a query parameter at
// upgrade time; presence is derived from the upgrade itself, never from
// a client-sent status value.
type Handler struct {
	sink EventSink
	opts Options
}

// NewHandler creates a websocket handler feeding the given sink.
func NewHandler(sink EventSink, opts Options) *Handler {
	return &Handler{sink: sink, opts: opts}
}

// HandleWebSocket serves GET /ws?user_id=...
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		http.Error(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := NewConnection(wsConn, userID, h.opts.SendBuffer, h.opts.WriteTimeout)
	h.sink.ConnectionOpened(conn)

	go h.readPump(conn)
}

// readPump reads frames until the socket dies, keeping the heartbeat
// alive in a side goroutine. Cleanup runs exactly once on exit; the
// connection is closed before the sink hears about it, so Closed()
// is already true by the time the disconnect cascade runs.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		_ = conn.Close()
		h.sink.ConnectionClosed(conn)
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		slog.Warn("failed to set read deadline", "connId", conn.ID(), "error", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.opts.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "userId", conn.UserID(), "connId", conn.ID(), "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			h.sink.Frame(conn, data)
		}
	}
}
