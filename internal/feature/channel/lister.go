package channel

import (
	"context"
	"errors"
	"fmt"

	"premium_gate_bot/internal/domain"
)

// privateChatOffset is the prefix Telegram adds to supergroup and channel ids
// in the Bot API (-100xxxxxxxxxx); t.me/c links use the bare id.
const privateChatOffset = 1_000_000_000_000

// Link points a subscribed user at a channel's join-request flow.
type Link struct {
	ChatID int64
	Title  string
	URL    string
}

type subscriptionChecker interface {
	CheckSubscription(ctx context.Context, userID int64) (domain.Subscription, error)
}

type channelReader interface {
	List(ctx context.Context) ([]domain.Channel, error)
}

// Lister produces join links for the channels a subscribed user may request.
type Lister struct {
	subscriptions subscriptionChecker
	channels      channelReader
}

// NewLister constructs a Lister.
func NewLister(subscriptions subscriptionChecker, channels channelReader) *Lister {
	return &Lister{
		subscriptions: subscriptions,
		channels:      channels,
	}
}

// ListAccessibleChannels returns one link per registered channel, in
// registration order, when the user holds an active subscription. Denials are
// domain.ErrNotSubscribed or domain.ErrExpired. Links are built from the
// registry as it is at call time.
func (l *Lister) ListAccessibleChannels(ctx context.Context, userID int64) ([]Link, error) {
	if l == nil || l.subscriptions == nil || l.channels == nil {
		return nil, errors.New("channel lister is not initialized")
	}
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	if _, err := l.subscriptions.CheckSubscription(ctx, userID); err != nil {
		return nil, err
	}

	channels, err := l.channels.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels for user %d: %w", userID, err)
	}

	links := make([]Link, 0, len(channels))
	for _, ch := range channels {
		links = append(links, Link{
			ChatID: ch.ChatID,
			Title:  ch.Title,
			URL:    JoinRequestURL(ch.ChatID),
		})
	}

	return links, nil
}

// JoinRequestURL builds the join-request link for a channel.
func JoinRequestURL(chatID int64) string {
	id := chatID
	if id < -privateChatOffset {
		id = -id - privateChatOffset
	}

	return fmt.Sprintf("https://t.me/c/%d?joinrequest=1", id)
}
