package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"chatline/pkg/interfaces"
	"chatline/pkg/types"
)

// UpdatePresence persists the online flag and lastSeen timestamp on the
// user document. The document is created by the REST side at signup;
// an unknown user id is a silent no-op here.
func (m *Manager) UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error {
	_, err := m.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"isOnline": online, "lastSeen": lastSeen}},
	)
	if err != nil {
		return fmt.Errorf("failed to update presence for %s: %w", userID, err)
	}
	return nil
}

// UpdateMessageStatus moves messages forward through sent -> delivered
// -> read. Messages already marked read are never touched, so a late
// delivered write cannot regress a read receipt.
func (m *Manager) UpdateMessageStatus(ctx context.Context, messageIDs []string, status string, at time.Time) error {
	set := bson.M{"messageStatus": status}
	if status == types.MessageStatusRead {
		set["readAt"] = at
	}
	_, err := m.messages.UpdateMany(ctx,
		bson.M{
			"_id":           bson.M{"$in": messageIDs},
			"messageStatus": bson.M{"$ne": types.MessageStatusRead},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return nil
}

// ToggleReaction applies toggle-or-replace semantics: same emoji from
// the same user removes the reaction, a different emoji replaces it,
// and otherwise a new reaction is appended. Returns the updated
// document so callers can broadcast the full reaction list.
func (m *Manager) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*types.Message, error) {
	var msg types.Message
	if err := m.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load message %s: %w", messageID, err)
	}

	msg.Reactions = toggleReaction(msg.Reactions, userID, emoji)

	_, err := m.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"reactions": msg.Reactions}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update reactions on %s: %w", messageID, err)
	}
	return &msg, nil
}

// DeleteMessage removes a 1:1 message. Only the sender may delete;
// the deleted document is returned so the caller can notify the
// receiver's live connections.
func (m *Manager) DeleteMessage(ctx context.Context, messageID, userID string) (*types.Message, error) {
	var msg types.Message
	if err := m.messages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load message %s: %w", messageID, err)
	}
	if msg.SenderID != userID {
		return nil, interfaces.ErrNotOwner
	}
	if _, err := m.messages.DeleteOne(ctx, bson.M{"_id": messageID}); err != nil {
		return nil, fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return &msg, nil
}

// toggleReaction mutates a reaction list for one user's action.
func toggleReaction(reactions []types.Reaction, userID, emoji string) []types.Reaction {
	for i, r := range reactions {
		if r.UserID != userID {
			continue
		}
		if r.Emoji == emoji {
			return append(reactions[:i], reactions[i+1:]...)
		}
		reactions[i].Emoji = emoji
		reactions[i].CreatedAt = time.Now().UTC()
		return reactions
	}
	return append(reactions, types.Reaction{
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	})
}
