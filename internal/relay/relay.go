// Package relay forwards persisted 1:1 chat messages, read receipts,
// and reactions between users' live connections. Messages are created
// over REST before they reach the socket, so the relay never writes
// message bodies; it only forwards them and adjusts delivery state.
package relay

import (
	"context"
	"log/slog"
	"time"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// Relay fans 1:1 events out through the connection directory.
type Relay struct {
	dir          interfaces.Directory
	store        interfaces.Store
	storeTimeout time.Duration
}

func New(dir interfaces.Directory, store interfaces.Store, storeTimeout time.Duration) *Relay {
	return &Relay{dir: dir, store: store, storeTimeout: storeTimeout}
}

// Deliver forwards a freshly sent message to every connection of the
// receiver, byte-compatible with what the sender's client produced, and
// acks the sender with the resulting delivery status. When the receiver
// is reachable the persisted status moves to delivered in the
// background; relaying never waits on the database.
func (r *Relay) Deliver(conn interfaces.Conn, p *types.SendMessagePayload) {
	var forwarded any = p.Raw
	if len(p.Raw) == 0 {
		forwarded = p
	}

	status := types.MessageStatusSent
	if r.dir.EmitToUser(p.Receiver.ID, types.EventReceiveMessage, forwarded) {
		status = types.MessageStatusDelivered
		if p.ID != "" {
			go r.updateStatus([]string{p.ID}, types.MessageStatusDelivered)
		}
	}

	if err := conn.Send(types.EventMessageSent, map[string]any{
		"messageId": p.ID,
		"status":    status,
	}); err != nil {
		slog.Warn("message ack send failed", "connId", conn.ID(), "error", err)
	}
}

// MarkRead notifies the original sender's connections, one event per
// message id, and persists the receipts in the background. The
// notification never waits on the database; when the write fails the
// store catches up on the next read sync.
func (r *Relay) MarkRead(conn interfaces.Conn, p *types.MessageReadPayload) {
	now := time.Now().UTC()
	go r.updateStatus(p.MessageIDs, types.MessageStatusRead)

	for _, id := range p.MessageIDs {
		r.dir.EmitToUser(p.SenderID, types.EventMessageRead, map[string]any{
			"messageId": id,
			"readBy":    conn.UserID(),
			"readAt":    now,
		})
	}
}

// React toggles the acting user's reaction on a message and pushes the
// message's full reaction list to both participants so all their
// devices converge on the same state.
func (r *Relay) React(conn interfaces.Conn, p *types.ReactionPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	msg, err := r.store.ToggleReaction(ctx, p.MessageID, conn.UserID(), p.Emoji)
	if err != nil {
		slog.Warn("reaction toggle failed", "messageId", p.MessageID, "error", err)
		if sendErr := conn.Send(types.EventReactionError, map[string]any{
			"messageId": p.MessageID,
			"error":     "Failed to update reaction",
		}); sendErr != nil {
			slog.Warn("reaction error send failed", "connId", conn.ID(), "error", sendErr)
		}
		return
	}

	update := map[string]any{
		"messageId": msg.ID,
		"reactions": msg.Reactions,
	}
	r.dir.EmitToUser(msg.SenderID, types.EventReactionUpdate, update)
	if msg.ReceiverID != msg.SenderID {
		r.dir.EmitToUser(msg.ReceiverID, types.EventReactionUpdate, update)
	}
}

func (r *Relay) updateStatus(ids []string, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.storeTimeout)
	defer cancel()
	if err := r.store.UpdateMessageStatus(ctx, ids, status, time.Now().UTC()); err != nil {
		slog.Warn("delivery status update failed", "count", len(ids), "error", err)
	}
}
