// Package presence persists and broadcasts online/offline transitions.
package presence

import (
	"context"
	"log/slog"
	"time"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// StatusUpdate is the user_status broadcast payload.
type StatusUpdate struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Publisher reacts to registry transitions. Presence is derived state:
// only the first connection and the last disconnection of a user
// produce a persist + broadcast; intermediate transitions are silent,
// which keeps a tab refresh from flapping the indicator.
type Publisher struct {
	dir          interfaces.Directory
	store        interfaces.Store
	writeTimeout time.Duration
}

// NewPublisher creates a presence publisher.
func NewPublisher(dir interfaces.Directory, store interfaces.Store, writeTimeout time.Duration) *Publisher {
	return &Publisher{dir: dir, store: store, writeTimeout: writeTimeout}
}

// PublishOnline handles a wasOffline transition for userID.
func (p *Publisher) PublishOnline(userID string) {
	p.publish(userID, true)
}

// PublishOffline handles a wentOffline transition for userID.
func (p *Publisher) PublishOffline(userID string) {
	p.publish(userID, false)
}

// StatusReply answers a get_user_status query on the asking connection.
type StatusReply struct {
	UserID            string     `json:"userId"`
	IsOnline          bool       `json:"isOnline"`
	LastSeen          *time.Time `json:"lastSeen,omitempty"`
	ActiveConnections int        `json:"activeConnections"`
}

// Query answers a get_user_status request directly on the requesting
// connection. Live state only; the store is never consulted.
func (p *Publisher) Query(conn interfaces.Conn, userID string) {
	reply := StatusReply{
		UserID:            userID,
		IsOnline:          p.dir.IsOnline(userID),
		ActiveConnections: p.dir.ConnectionCount(userID),
	}
	if reply.IsOnline {
		now := time.Now()
		reply.LastSeen = &now
	}
	if err := conn.Send(types.EventUserStatus, reply); err != nil {
		slog.Warn("status reply send failed", "connId", conn.ID(), "error", err)
	}
}

// publish runs the persist step fire-and-forget and the broadcast step
// unconditionally. A store failure is logged and never blocks the
// realtime path.
func (p *Publisher) publish(userID string, online bool) {
	now := time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
		defer cancel()
		if err := p.store.UpdatePresence(ctx, userID, online, now); err != nil {
			slog.Warn("presence persist failed", "userId", userID, "isOnline", online, "error", err)
		}
	}()

	p.dir.Broadcast(types.EventUserStatus, StatusUpdate{
		UserID:   userID,
		IsOnline: online,
		LastSeen: now,
	})
}
