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

// GetChannel loads a channel by id.
func (m *Manager) GetChannel(ctx context.Context, channelID string) (*types.Channel, error) {
	var ch types.Channel
	if err := m.channels.FindOne(ctx, bson.M{"_id": channelID}).Decode(&ch); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load channel %s: %w", channelID, err)
	}
	return &ch, nil
}

// CreateChannel persists a new channel document.
func (m *Manager) CreateChannel(ctx context.Context, ch *types.Channel) error {
	if _, err := m.channels.InsertOne(ctx, ch); err != nil {
		return fmt.Errorf("failed to create channel %s: %w", ch.Name, err)
	}
	return nil
}

// ListChannels returns public channels plus private ones the user
// belongs to.
func (m *Manager) ListChannels(ctx context.Context, userID string) ([]*types.Channel, error) {
	cursor, err := m.channels.Find(ctx, bson.M{
		"$or": bson.A{
			bson.M{"isPrivate": false},
			bson.M{"members": userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer cursor.Close(ctx)

	var channels []*types.Channel
	if err := cursor.All(ctx, &channels); err != nil {
		return nil, fmt.Errorf("failed to decode channels: %w", err)
	}
	return channels, nil
}

// SaveChannelMessage inserts the message and stamps it as the
// channel's latest activity.
func (m *Manager) SaveChannelMessage(ctx context.Context, msg *types.ChannelMessage) error {
	if _, err := m.channelMessages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to save channel message: %w", err)
	}
	_, err := m.channels.UpdateOne(ctx,
		bson.M{"_id": msg.ChannelID},
		bson.M{"$set": bson.M{"lastMessage": msg.ID, "lastActivityAt": msg.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to update channel activity: %w", err)
	}
	return nil
}

// UpdateChannelMessageStatus moves channel messages to the given
// status, scoped to one channel so a forged id list cannot touch
// another channel's messages.
func (m *Manager) UpdateChannelMessageStatus(ctx context.Context, channelID string, messageIDs []string, status string, at time.Time) error {
	set := bson.M{"messageStatus": status}
	if status == types.MessageStatusRead {
		set["readAt"] = at
	}
	_, err := m.channelMessages.UpdateMany(ctx,
		bson.M{
			"_id":           bson.M{"$in": messageIDs},
			"channel":       channelID,
			"messageStatus": bson.M{"$ne": types.MessageStatusRead},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return fmt.Errorf("failed to update channel message status: %w", err)
	}
	return nil
}

// ToggleChannelReaction mirrors ToggleReaction for channel messages.
func (m *Manager) ToggleChannelReaction(ctx context.Context, messageID, userID, emoji string) (*types.ChannelMessage, error) {
	var msg types.ChannelMessage
	if err := m.channelMessages.FindOne(ctx, bson.M{"_id": messageID}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load channel message %s: %w", messageID, err)
	}

	msg.Reactions = toggleReaction(msg.Reactions, userID, emoji)

	_, err := m.channelMessages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"reactions": msg.Reactions}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update reactions on %s: %w", messageID, err)
	}
	return &msg, nil
}
