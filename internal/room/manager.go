// Package room maps persisted channel membership onto transport-level
// broadcast rooms and handles channel events.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

const (
	membershipCacheSize = 256
	membershipCacheTTL  = 30 * time.Second
)

// Manager tracks which connections are in which channel rooms. Room
// membership is per connection, not per user: each tab joins on its
// own. Broadcasting a channel event always targets the room, so
// membership changes adjust future audiences without extra bookkeeping.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]map[string]interfaces.Conn // channelID -> connID -> Conn

	store        interfaces.Store
	channels     *lru.LRU[string, *types.Channel]
	storeTimeout time.Duration
}

// NewManager creates a room manager backed by the persisted channel
// collection. Channel documents are cached briefly to keep the join
// path off the database for busy channels.
func NewManager(store interfaces.Store, storeTimeout time.Duration) *Manager {
	return &Manager{
		rooms:        make(map[string]map[string]interfaces.Conn),
		store:        store,
		channels:     lru.NewLRU[string, *types.Channel](membershipCacheSize, nil, membershipCacheTTL),
		storeTimeout: storeTimeout,
	}
}

// getChannel loads a channel through the expiring cache.
func (m *Manager) getChannel(channelID string) (*types.Channel, error) {
	if ch, ok := m.channels.Get(channelID); ok {
		return ch, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()
	ch, err := m.store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	m.channels.Add(channelID, ch)
	return ch, nil
}

// Join adds the requesting connection to the channel's room after
// validating persisted membership. Failures produce a scoped
// channel_error on the requesting connection only. Join may run off
// the dispatch goroutine, so the room insert re-checks that the
// connection is still alive under the same lock RemoveConnection
// takes; a disconnect racing a slow channel lookup cannot leave a
// stale room entry behind.
func (m *Manager) Join(conn interfaces.Conn, channelID string) {
	ch, err := m.getChannel(channelID)
	if err == nil && !ch.HasMember(conn.UserID()) {
		err = interfaces.ErrNotMember
	}
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrNotFound):
			m.sendError(conn, types.EventChannelError, "Channel not found")
		case errors.Is(err, interfaces.ErrNotMember):
			m.sendError(conn, types.EventChannelError, "You are not a member of this channel")
		default:
			slog.Warn("channel lookup failed", "channelId", channelID, "error", err)
			m.sendError(conn, types.EventChannelError, "Failed to join channel")
		}
		return
	}

	m.mu.Lock()
	if conn.Closed() {
		m.mu.Unlock()
		return
	}
	conns, ok := m.rooms[channelID]
	if !ok {
		conns = make(map[string]interfaces.Conn)
		m.rooms[channelID] = conns
	}
	conns[conn.ID()] = conn
	m.mu.Unlock()

	m.send(conn, types.EventChannelJoined, map[string]any{
		"channelId":   channelID,
		"channelName": ch.Name,
	})
}

// Leave removes the connection from the channel's room. Leaving a room
// the connection never joined is a no-op.
func (m *Manager) Leave(conn interfaces.Conn, channelID string) {
	m.mu.Lock()
	if conns, ok := m.rooms[channelID]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(m.rooms, channelID)
		}
	}
	m.mu.Unlock()

	m.send(conn, types.EventChannelLeft, map[string]any{
		"channelId": channelID,
	})
}

// RemoveConnection drops the connection from every room. Called on
// disconnect; emits nothing.
func (m *Manager) RemoveConnection(conn interfaces.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channelID, conns := range m.rooms {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(m.rooms, channelID)
		}
	}
}

// Broadcast sends an event to every connection in the channel's room.
func (m *Manager) Broadcast(channelID, event string, data any) {
	for _, conn := range m.members(channelID) {
		if err := conn.Send(event, data); err != nil {
			slog.Warn("room broadcast failed", "channelId", channelID, "event", event, "error", err)
		}
	}
}

// BroadcastExcept sends an event to the room, skipping every connection
// of one user. Satisfies the typing coordinator's audience contract.
func (m *Manager) BroadcastExcept(channelID, exceptUserID, event string, data any) {
	for _, conn := range m.members(channelID) {
		if conn.UserID() == exceptUserID {
			continue
		}
		if err := conn.Send(event, data); err != nil {
			slog.Warn("room broadcast failed", "channelId", channelID, "event", event, "error", err)
		}
	}
}

// InRoom reports whether the connection is currently in the channel's
// room.
func (m *Manager) InRoom(conn interfaces.Conn, channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns, ok := m.rooms[channelID]
	if !ok {
		return false
	}
	_, ok = conns[conn.ID()]
	return ok
}

func (m *Manager) members(channelID string) []interfaces.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := make([]interfaces.Conn, 0, len(m.rooms[channelID]))
	for _, conn := range m.rooms[channelID] {
		conns = append(conns, conn)
	}
	return conns
}

func (m *Manager) send(conn interfaces.Conn, event string, data any) {
	if err := conn.Send(event, data); err != nil {
		slog.Warn("scoped channel event send failed", "event", event, "connId", conn.ID(), "error", err)
	}
}

func (m *Manager) sendError(conn interfaces.Conn, event, msg string) {
	m.send(conn, event, map[string]any{"error": msg})
}
