// Package store implements persistence on MongoDB. The realtime layer
// shares collections with the REST backend, so writes here are partial
// updates scoped to the fields this service owns: presence flags,
// delivery status, and reactions.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatline/internal/config"
)

const (
	usersCollection           = "users"
	messagesCollection        = "messages"
	channelsCollection        = "channels"
	channelMessagesCollection = "channelmessages"
)

// Manager owns the mongo client and the collection handles the
// realtime operations touch.
type Manager struct {
	client *mongo.Client
	db     *mongo.Database

	users           *mongo.Collection
	messages        *mongo.Collection
	channels        *mongo.Collection
	channelMessages *mongo.Collection

	timeout time.Duration
}

// Connect dials MongoDB, verifies the connection with a ping, and
// ensures the indexes the realtime queries rely on.
func Connect(ctx context.Context, cfg *config.MongoConfig) (*Manager, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName("chatline").
		SetConnectTimeout(cfg.Timeout).
		SetServerSelectionTimeout(cfg.Timeout)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Manager{
		client:          client,
		db:              db,
		users:           db.Collection(usersCollection),
		messages:        db.Collection(messagesCollection),
		channels:        db.Collection(channelsCollection),
		channelMessages: db.Collection(channelMessagesCollection),
		timeout:         cfg.Timeout,
	}

	if err := m.ensureIndexes(ctx); err != nil {
		slog.Warn("index creation failed", "error", err)
	}

	slog.Info("connected to mongodb", "database", cfg.Database)
	return m, nil
}

func (m *Manager) ensureIndexes(ctx context.Context) error {
	_, err := m.channelMessages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel", Value: 1}, {Key: "createdAt", Value: -1}},
		Options: options.Index().SetName("channel_messages_channel_created"),
	})
	if err != nil {
		return err
	}
	_, err = m.channels.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "members", Value: 1}},
		Options: options.Index().SetName("channels_members"),
	})
	return err
}

// HealthCheck pings the server.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *Manager) Close(ctx context.Context) error {
	slog.Info("closing mongodb connection")
	return m.client.Disconnect(ctx)
}
