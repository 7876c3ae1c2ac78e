package room

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// SendMessage fans a channel message out to the room and persists it in
// the background. The sender must be in the room, which in turn means
// membership was already checked at join time. The message id is minted
// here, so the fan-out never waits on the database; a failed save is
// reported back to the sender after the fact.
func (m *Manager) SendMessage(conn interfaces.Conn, p *types.ChannelSendPayload) {
	if !m.InRoom(conn, p.ChannelID) {
		m.sendError(conn, types.EventChannelMessageError, "Join the channel before sending")
		return
	}

	contentType := p.ContentType
	if contentType == "" {
		contentType = "text"
	}
	msg := &types.ChannelMessage{
		ID:          ulid.MustNew(ulid.Now(), rand.Reader).String(),
		ChannelID:   p.ChannelID,
		SenderID:    conn.UserID(),
		Content:     p.Content,
		ContentType: contentType,
		Status:      types.MessageStatusSent,
		Reactions:   []types.Reaction{},
		CreatedAt:   time.Now().UTC(),
	}

	m.BroadcastExcept(p.ChannelID, conn.UserID(), types.EventChannelReceiveMessage, msg)
	m.send(conn, types.EventChannelMessageSent, map[string]any{
		"messageId": msg.ID,
		"channelId": msg.ChannelID,
		"createdAt": msg.CreatedAt,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		defer cancel()
		if err := m.store.SaveChannelMessage(ctx, msg); err != nil {
			slog.Error("channel message save failed", "channelId", p.ChannelID, "messageId", msg.ID, "error", err)
			m.sendError(conn, types.EventChannelMessageError, "Failed to save message")
		}
	}()
}

// MarkRead records read receipts for channel messages and tells the
// rest of the room who read what.
func (m *Manager) MarkRead(conn interfaces.Conn, p *types.ChannelReadPayload) {
	if !m.InRoom(conn, p.ChannelID) {
		m.sendError(conn, types.EventChannelError, "Join the channel first")
		return
	}

	now := time.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		defer cancel()
		// Read receipts are best effort; the room is notified either way
		// so online members converge.
		if err := m.store.UpdateChannelMessageStatus(ctx, p.ChannelID, p.MessageIDs, types.MessageStatusRead, now); err != nil {
			slog.Warn("channel read receipt update failed", "channelId", p.ChannelID, "error", err)
		}
	}()

	m.BroadcastExcept(p.ChannelID, conn.UserID(), types.EventChannelRead, map[string]any{
		"channelId":  p.ChannelID,
		"messageIds": p.MessageIDs,
		"readerId":   conn.UserID(),
		"readAt":     now,
	})
}

// React toggles the sender's reaction on a channel message and
// broadcasts the message's full reaction list to the room, sender
// included, so every client renders the same state.
func (m *Manager) React(conn interfaces.Conn, p *types.ChannelReactionPayload) {
	if !m.InRoom(conn, p.ChannelID) {
		m.sendError(conn, types.EventChannelReactionError, "Join the channel first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()
	msg, err := m.store.ToggleChannelReaction(ctx, p.MessageID, conn.UserID(), p.Emoji)
	if err != nil {
		slog.Warn("channel reaction toggle failed", "messageId", p.MessageID, "error", err)
		m.sendError(conn, types.EventChannelReactionError, "Failed to update reaction")
		return
	}

	m.Broadcast(p.ChannelID, types.EventChannelReactionUpdate, map[string]any{
		"channelId": p.ChannelID,
		"messageId": p.MessageID,
		"reactions": msg.Reactions,
	})
}
