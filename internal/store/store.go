// Package store encapsulates MongoDB client management and collection helpers.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"premium_gate_bot/internal/config"
)

// Collection names used across the bot.
const (
	CollectionSubscriptions = "subscriptions"
	CollectionChannels      = "channels"
)

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client, the configured database handle, and the retry
// policy applied to transient connectivity failures.
type Manager struct {
	client mongoClient
	db     *mongo.Database
	retry  RetryPolicy
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping, retrying transient failures.
func NewManager(ctx context.Context, cfg config.Config, logger *logrus.Entry) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	policy := NewRetryPolicy(cfg.StoreRetryAttempts, cfg.StoreRetryBackoff, logger)

	client, err := connectMongo(ctx, clientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
		retry:  policy,
	}, nil
}

func clientOptions(cfg config.Config) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.MongoMaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MongoMaxPoolSize))
	}
	return opts
}

// Database returns the configured database handle.
func (m *Manager) Database() *mongo.Database {
	return m.db
}

// Client returns the underlying mongo.Client when available. Tests using fakes
// may receive nil here.
func (m *Manager) Client() *mongo.Client {
	client, ok := m.client.(*mongo.Client)
	if !ok {
		return nil
	}
	return client
}

// Retry returns the transient retry policy configured for this manager.
func (m *Manager) Retry() RetryPolicy {
	return m.retry
}

// Collection returns a collection handle for the given name.
func (m *Manager) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Subscriptions returns the subscriptions collection handle.
func (m *Manager) Subscriptions() *mongo.Collection {
	return m.Collection(CollectionSubscriptions)
}

// Channels returns the premium channels collection handle.
func (m *Manager) Channels() *mongo.Collection {
	return m.Collection(CollectionChannels)
}

// Ping checks connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	return nil
}

// EnsureBaseIndexes creates the unique key indexes the gatekeeping invariants
// rely on, plus the expiry index used by the sweeper. Collections are created
// implicitly if they do not already exist.
func (m *Manager) EnsureBaseIndexes(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	subscriptionIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().
				SetName("user_id_unique").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expiry_date", Value: 1}},
			Options: options.Index().SetName("expiry_date_idx"),
		},
	}

	err := m.retry.Do(ctx, func(ctx context.Context) error {
		_, err := createIndexes(ctx, m.Subscriptions(), subscriptionIndexes)
		return err
	})
	if err != nil {
		return fmt.Errorf("create subscriptions indexes: %w", err)
	}

	channelIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "chat_id", Value: 1}},
			Options: options.Index().
				SetName("chat_id_unique").
				SetUnique(true),
		},
	}

	err = m.retry.Do(ctx, func(ctx context.Context) error {
		_, err := createIndexes(ctx, m.Channels(), channelIndexes)
		return err
	})
	if err != nil {
		return fmt.Errorf("create channels indexes: %w", err)
	}

	return nil
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}
