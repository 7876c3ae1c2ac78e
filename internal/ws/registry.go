package ws

import (
	"log/slog"
	"sync"
)

// Registry maps a user identity to the set of currently live
// connections. A user key exists iff its set is non-empty; a user with
// several open tabs or devices has one entry per socket.
//
// Registry only tracks and emits; presence persistence and broadcast
// decisions belong to the callers reacting to the returned transition
// flags.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]*Connection // userID -> connID -> Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]*Connection),
	}
}

// Add registers a connection under its user. Idempotent for the same
// connection id. Returns wasOffline=true when this is the user's first
// live connection, so callers can publish the presence transition.
func (r *Registry) Add(conn *Connection) (wasOffline bool) {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.users[conn.UserID()]
	if !exists {
		set = make(map[string]*Connection)
		r.users[conn.UserID()] = set
	}
	set[conn.ID()] = conn
	return !exists
}

// Remove deletes a connection from its user's set. Removing an unknown
// connection is a no-op. Returns wentOffline=true when the user's set
// became empty and the key was deleted.
func (r *Registry) Remove(conn *Connection) (wentOffline bool) {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, exists := r.users[conn.UserID()]
	if !exists {
		return false
	}
	if _, ok := set[conn.ID()]; !ok {
		return false
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.users, conn.UserID())
		return true
	}
	return false
}

// Connections returns the live connections for a user, empty if unknown.
func (r *Registry) Connections(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]*Connection, 0, len(set))
	for _, conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}

// EmitToUser sends an event to every live connection of the user.
// Reports whether the user had any connection to deliver to; individual
// write failures are logged and do not stop fan-out to other devices.
func (r *Registry) EmitToUser(userID, event string, data any) bool {
	conns := r.Connections(userID)
	if len(conns) == 0 {
		return false
	}
	for _, conn := range conns {
		if err := conn.Send(event, data); err != nil {
			slog.Warn("emit failed", "event", event, "userId", userID, "connId", conn.ID(), "error", err)
		}
	}
	return true
}

// Broadcast sends an event to every live connection of every user.
func (r *Registry) Broadcast(event string, data any) {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.users))
	for _, set := range r.users {
		for _, conn := range set {
			conns = append(conns, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.Send(event, data); err != nil {
			slog.Warn("broadcast send failed", "event", event, "connId", conn.ID(), "error", err)
		}
	}
}

// Stats returns registry counters for the stats endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.users {
		total += len(set)
	}
	return map[string]int{
		"online_users":      len(r.users),
		"total_connections": total,
	}
}
