package interfaces

// Conn is one live transport session from one client device or tab.
// internal/ws.Connection is the production implementation; tests use
// recording fakes.
type Conn interface {
	// ID is the server-assigned connection id, unique per socket.
	ID() string
	// UserID is the authenticated user identity, fixed at upgrade time.
	UserID() string
	// Send writes one event envelope to this connection.
	Send(event string, data any) error
	// Closed reports whether the connection has been torn down. Handlers
	// running off the dispatch goroutine check it before registering the
	// connection anywhere, so a disconnect cannot race them into stale
	// bookkeeping.
	Closed() bool
}

// Directory resolves user identities to live connections. It is the
// read/emit surface of the connection registry that the coordinators
// depend on, so they stay testable without a live transport.
type Directory interface {
	// IsOnline reports whether the user has at least one live connection.
	IsOnline(userID string) bool
	// ConnectionCount returns the number of live connections for a user.
	ConnectionCount(userID string) int
	// EmitToUser sends an event to every live connection of the user and
	// reports whether at least one delivery was attempted.
	EmitToUser(userID, event string, data any) bool
	// Broadcast sends an event to every live connection of every user.
	Broadcast(event string, data any)
}
