package interfaces

import (
	"context"
	"time"

	"chatline/pkg/types"
)

// Store is the persistence collaborator. The realtime layer touches
// only the fields the coordinators read or write; schema ownership
// stays with the REST side of the system.
type Store interface {
	// UpdatePresence persists the online flag and lastSeen for a user.
	// Called fire-and-forget on registry transitions.
	UpdatePresence(ctx context.Context, userID string, online bool, lastSeen time.Time) error

	// UpdateMessageStatus moves 1:1 messages to the given status,
	// skipping messages already marked read.
	UpdateMessageStatus(ctx context.Context, messageIDs []string, status string, at time.Time) error

	// ToggleReaction applies toggle-or-replace semantics for one user's
	// reaction on a 1:1 message and returns the updated document.
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (*types.Message, error)

	// DeleteMessage removes a 1:1 message on behalf of its sender and
	// returns the deleted document. Returns ErrNotFound when the message
	// does not exist and ErrNotOwner when userID is not its sender.
	DeleteMessage(ctx context.Context, messageID, userID string) (*types.Message, error)

	// GetChannel loads a channel by id. Returns ErrNotFound when absent.
	GetChannel(ctx context.Context, channelID string) (*types.Channel, error)

	// CreateChannel persists a new channel document.
	CreateChannel(ctx context.Context, ch *types.Channel) error

	// ListChannels returns channels visible to a user: public ones plus
	// private ones the user is a member of.
	ListChannels(ctx context.Context, userID string) ([]*types.Channel, error)

	// SaveChannelMessage persists a channel message and records it as
	// the channel's last message.
	SaveChannelMessage(ctx context.Context, msg *types.ChannelMessage) error

	// UpdateChannelMessageStatus moves channel messages to the given
	// status, scoped to one channel.
	UpdateChannelMessageStatus(ctx context.Context, channelID string, messageIDs []string, status string, at time.Time) error

	// ToggleChannelReaction mirrors ToggleReaction for channel messages.
	ToggleChannelReaction(ctx context.Context, messageID, userID, emoji string) (*types.ChannelMessage, error)

	// HealthCheck verifies connectivity to the backing database.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying client.
	Close(ctx context.Context) error
}
