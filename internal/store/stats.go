package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type countCollection interface {
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// StatsProvider exposes helper methods to retrieve collection counts for
// diagnostics without leaking MongoDB internals to callers.
type StatsProvider struct {
	subscriptions countCollection
	channels      countCollection
	now           func() time.Time
}

// NewStatsProvider constructs a StatsProvider backed by the provided
// subscription and channel collections.
func NewStatsProvider(subscriptions, channels countCollection) *StatsProvider {
	return &StatsProvider{
		subscriptions: subscriptions,
		channels:      channels,
		now:           time.Now,
	}
}

// CountSubscriptions returns the number of stored subscriptions, expired or not.
func (p *StatsProvider) CountSubscriptions(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.subscriptions == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.subscriptions.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}

	return count, nil
}

// CountActiveSubscriptions returns the number of subscriptions expiring at or
// after the current time.
func (p *StatsProvider) CountActiveSubscriptions(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.subscriptions == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.subscriptions.CountDocuments(ctx, bson.M{
		"expiry_date": bson.M{"$gte": p.now().UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("count active subscriptions: %w", err)
	}

	return count, nil
}

// CountChannels returns the number of registered premium channels.
func (p *StatsProvider) CountChannels(ctx context.Context) (int64, error) {
	if ctx == nil {
		return 0, errors.New("context is required")
	}
	if p == nil || p.channels == nil {
		return 0, errors.New("stats provider is not initialized")
	}

	count, err := p.channels.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}

	return count, nil
}
