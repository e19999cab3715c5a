package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type subscriptionCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type channelCollection interface {
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
}

// Retrier re-runs read operations that fail with transient store errors.
type Retrier interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

type noRetry struct{}

func (noRetry) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func retrierOrDefault(r Retrier) Retrier {
	if r == nil {
		return noRetry{}
	}
	return r
}

// SubscriptionRepository reads and expires subscriptions in MongoDB.
type SubscriptionRepository struct {
	collection subscriptionCollection
	retry      Retrier
}

// NewSubscriptionRepository constructs a SubscriptionRepository. A nil retrier
// runs every read exactly once.
func NewSubscriptionRepository(collection subscriptionCollection, retry Retrier) *SubscriptionRepository {
	return &SubscriptionRepository{collection: collection, retry: retrierOrDefault(retry)}
}

// GetByUserID fetches the subscription of a Telegram user. ErrNotFound is
// returned when the user has no record.
func (r *SubscriptionRepository) GetByUserID(ctx context.Context, userID int64) (Subscription, error) {
	if r == nil || r.collection == nil {
		return Subscription{}, errors.New("subscription repository is not initialized")
	}
	if ctx == nil {
		return Subscription{}, errors.New("context is required")
	}
	if userID == 0 {
		return Subscription{}, errors.New("user_id is required")
	}

	var sub Subscription
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		result := r.collection.FindOne(ctx, bson.M{"user_id": userID})
		if result == nil {
			return errors.New("find subscription returned no result")
		}
		return result.Decode(&sub)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: find subscription: %w", ErrStore, err)
	}

	return sub, nil
}

// ListExpired returns a snapshot of subscriptions whose expiry_date is before now.
func (r *SubscriptionRepository) ListExpired(ctx context.Context, now time.Time) ([]Subscription, error) {
	return r.list(ctx, "list expired subscriptions", bson.M{
		"expiry_date": bson.M{"$lt": now},
	})
}

// ListExpiringBetween returns a snapshot of subscriptions with from <= expiry_date <= to,
// soonest first.
func (r *SubscriptionRepository) ListExpiringBetween(ctx context.Context, from, to time.Time) ([]Subscription, error) {
	return r.list(ctx, "list expiring subscriptions", bson.M{
		"expiry_date": bson.M{"$gte": from, "$lte": to},
	})
}

// DeleteExpired removes the user's subscription only if it is still expired at
// now, so a record renewed since the snapshot was taken survives.
func (r *SubscriptionRepository) DeleteExpired(ctx context.Context, userID int64, now time.Time) (bool, error) {
	if r == nil || r.collection == nil {
		return false, errors.New("subscription repository is not initialized")
	}
	if ctx == nil {
		return false, errors.New("context is required")
	}
	if userID == 0 {
		return false, errors.New("user_id is required")
	}

	result, err := r.collection.DeleteOne(ctx, bson.M{
		"user_id":     userID,
		"expiry_date": bson.M{"$lt": now},
	})
	if err != nil {
		return false, fmt.Errorf("%w: delete subscription: %w", ErrStore, err)
	}

	return result != nil && result.DeletedCount > 0, nil
}

func (r *SubscriptionRepository) list(ctx context.Context, op string, filter bson.M) ([]Subscription, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("subscription repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	var subs []Subscription
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, filter,
			options.Find().SetSort(bson.D{{Key: "expiry_date", Value: 1}}),
		)
		if err != nil {
			return err
		}
		subs = subs[:0]
		return cursor.All(ctx, &subs)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStore, op, err)
	}

	return subs, nil
}

// ChannelRepository persists and retrieves premium channels in MongoDB.
type ChannelRepository struct {
	collection channelCollection
	retry      Retrier
}

// NewChannelRepository constructs a ChannelRepository. A nil retrier runs every
// read exactly once.
func NewChannelRepository(collection channelCollection, retry Retrier) *ChannelRepository {
	return &ChannelRepository{collection: collection, retry: retrierOrDefault(retry)}
}

// InsertIfAbsent stores the channel unless a record with the same chat_id
// exists. It reports whether a new record was created; existing records are
// never modified.
func (r *ChannelRepository) InsertIfAbsent(ctx context.Context, channel Channel) (Channel, bool, error) {
	if r == nil || r.collection == nil {
		return Channel{}, false, errors.New("channel repository is not initialized")
	}
	if ctx == nil {
		return Channel{}, false, errors.New("context is required")
	}
	if channel.ChatID == 0 {
		return Channel{}, false, errors.New("chat_id is required")
	}

	if channel.AddedAt.IsZero() {
		channel.AddedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"chat_id": channel.ChatID},
		bson.M{"$setOnInsert": bson.M{
			"chat_id":  channel.ChatID,
			"title":    channel.Title,
			"added_by": channel.AddedBy,
			"added_at": channel.AddedAt,
		}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// A concurrent registration won the unique index race.
		return channel, false, nil
	}
	if err != nil {
		return Channel{}, false, fmt.Errorf("%w: insert channel: %w", ErrStore, err)
	}

	return channel, result != nil && result.UpsertedCount > 0, nil
}

// GetByChatID fetches a channel by chat_id.
func (r *ChannelRepository) GetByChatID(ctx context.Context, chatID int64) (Channel, error) {
	if r == nil || r.collection == nil {
		return Channel{}, errors.New("channel repository is not initialized")
	}
	if ctx == nil {
		return Channel{}, errors.New("context is required")
	}
	if chatID == 0 {
		return Channel{}, errors.New("chat_id is required")
	}

	var channel Channel
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		result := r.collection.FindOne(ctx, bson.M{"chat_id": chatID})
		if result == nil {
			return errors.New("find channel returned no result")
		}
		return result.Decode(&channel)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Channel{}, ErrNotFound
	}
	if err != nil {
		return Channel{}, fmt.Errorf("%w: find channel: %w", ErrStore, err)
	}

	return channel, nil
}

// List returns every registered channel in registration order.
func (r *ChannelRepository) List(ctx context.Context) ([]Channel, error) {
	if r == nil || r.collection == nil {
		return nil, errors.New("channel repository is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	var channels []Channel
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, bson.D{},
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
		)
		if err != nil {
			return err
		}
		channels = channels[:0]
		return cursor.All(ctx, &channels)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list channels: %w", ErrStore, err)
	}

	return channels, nil
}
