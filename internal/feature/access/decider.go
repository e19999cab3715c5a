// Package access decides whether a user may join a premium channel and
// resolves Telegram join requests accordingly.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"premium_gate_bot/internal/domain"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	// Decline rejects the join request.
	Decline Decision = iota
	// Approve admits the user into the channel.
	Approve
)

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	default:
		return "decline"
	}
}

type subscriptionReader interface {
	GetByUserID(ctx context.Context, userID int64) (domain.Subscription, error)
}

// Decider classifies users by the validity of their subscription.
type Decider struct {
	subscriptions subscriptionReader
	now           func() time.Time
}

// NewDecider constructs a Decider reading from the given subscription store.
func NewDecider(subscriptions subscriptionReader) *Decider {
	return &Decider{
		subscriptions: subscriptions,
		now:           time.Now,
	}
}

// CheckSubscription returns the user's active subscription. It fails with
// domain.ErrNotSubscribed when no record exists, domain.ErrExpired when the
// record is past its expiry date, and a domain.ErrStore error when the lookup
// itself failed.
func (d *Decider) CheckSubscription(ctx context.Context, userID int64) (domain.Subscription, error) {
	if d == nil || d.subscriptions == nil {
		return domain.Subscription{}, errors.New("decider is not initialized")
	}
	if ctx == nil {
		return domain.Subscription{}, errors.New("context is required")
	}

	sub, err := d.subscriptions.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Subscription{}, domain.ErrNotSubscribed
	}
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("check subscription: %w", err)
	}

	if !sub.ActiveAt(d.now().UTC()) {
		return sub, domain.ErrExpired
	}

	return sub, nil
}

// Decide returns Approve iff the user has a subscription expiring at or after
// now. The decision does not depend on which gated channel is targeted. Store
// failures are returned as errors rather than folded into Decline.
func (d *Decider) Decide(ctx context.Context, userID, chatID int64) (Decision, error) {
	_, err := d.CheckSubscription(ctx, userID)
	switch {
	case err == nil:
		return Approve, nil
	case errors.Is(err, domain.ErrNotSubscribed), errors.Is(err, domain.ErrExpired):
		return Decline, nil
	default:
		return Decline, fmt.Errorf("decide join for chat %d: %w", chatID, err)
	}
}
