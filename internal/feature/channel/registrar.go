// Package channel maintains the registry of premium channels and lists them to
// subscribed users.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/domain"
	"premium_gate_bot/internal/logging"
	"premium_gate_bot/internal/metrics"
)

const actionRegister = "register channel"

// ErrMissingChannelID is returned when the register command carries no argument.
var ErrMissingChannelID = fmt.Errorf("%w: channel id is required", domain.ErrValidation)

type authorizer interface {
	Authorize(requesterID int64, action string) error
}

type platform interface {
	ResolveChat(ctx context.Context, chatID int64) (domain.ChatInfo, error)
	BotMemberStatus(ctx context.Context, chatID int64) (string, error)
}

type channelWriter interface {
	InsertIfAbsent(ctx context.Context, channel domain.Channel) (domain.Channel, bool, error)
}

// Registrar adds channels to the premium registry after checking that the
// requester is the owner and the bot can moderate join requests there.
type Registrar struct {
	guard    authorizer
	platform platform
	channels channelWriter
	logger   *logrus.Entry

	// locks serialize registrations per chat id inside this process; the
	// unique chat_id index covers other processes. Entries are dropped once
	// no registration for the chat is pending.
	locksMu sync.Mutex
	locks   map[int64]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistrar constructs a Registrar.
func NewRegistrar(guard authorizer, platform platform, channels channelWriter, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		guard:    guard,
		platform: platform,
		channels: channels,
		logger:   logger,
	}
}

// RegisterChannel verifies preconditions in order (owner, chat resolution, bot
// capability) and inserts the channel if absent. An existing registration
// yields domain.ErrAlreadyRegistered alongside the channel as requested.
func (r *Registrar) RegisterChannel(ctx context.Context, requesterID, chatID int64) (domain.Channel, error) {
	if r == nil || r.guard == nil || r.platform == nil || r.channels == nil {
		return domain.Channel{}, errors.New("channel registrar is not initialized")
	}
	if ctx == nil {
		return domain.Channel{}, errors.New("context is required")
	}

	logger := logging.With(r.logger, logging.Context{
		UserID: requesterID,
		ChatID: chatID,
	})

	if err := r.authorize(requesterID); err != nil {
		return domain.Channel{}, err
	}
	if chatID == 0 {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return domain.Channel{}, fmt.Errorf("%w: channel id is required", domain.ErrValidation)
	}

	release := r.lock(chatID)
	defer release()

	chat, err := r.platform.ResolveChat(ctx, chatID)
	if err != nil {
		metrics.Registrations.WithLabelValues("not_found").Inc()
		logger.WithField("event", "channel_resolve_failed").WithError(err).Warn("failed to resolve channel")
		return domain.Channel{}, fmt.Errorf("resolve chat %d: %w: %w", chatID, domain.ErrChannelNotFound, err)
	}

	status, err := r.platform.BotMemberStatus(ctx, chat.ID)
	if err != nil {
		logger.WithField("event", "channel_capability_failed").WithError(err).Warn("failed to check bot status in channel")
		status = ""
	}
	if !domain.HasAdminCapability(status) {
		metrics.Registrations.WithLabelValues("insufficient_capability").Inc()
		return domain.Channel{}, fmt.Errorf("bot status %q in chat %d: %w", status, chat.ID, domain.ErrInsufficientCapability)
	}

	channel, created, err := r.channels.InsertIfAbsent(ctx, domain.Channel{
		ChatID:  chat.ID,
		Title:   strings.TrimSpace(chat.Title),
		AddedBy: requesterID,
	})
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		logger.WithField("event", "channel_insert_failed").WithError(err).Error("failed to store channel")
		return domain.Channel{}, err
	}
	if !created {
		metrics.Registrations.WithLabelValues("already_registered").Inc()
		return channel, fmt.Errorf("chat %d: %w", chat.ID, domain.ErrAlreadyRegistered)
	}

	metrics.Registrations.WithLabelValues("registered").Inc()
	logger.WithFields(logging.Fields{
		"event": "channel_registered",
		"title": channel.Title,
	}).Info("added premium channel")

	return channel, nil
}

// RegisterCommand handles the raw argument text of the register command. The
// owner check runs before the argument is parsed.
func (r *Registrar) RegisterCommand(ctx context.Context, requesterID int64, args string) (domain.Channel, error) {
	if r == nil || r.guard == nil {
		return domain.Channel{}, errors.New("channel registrar is not initialized")
	}
	if err := r.authorize(requesterID); err != nil {
		return domain.Channel{}, err
	}

	chatID, err := ParseChannelID(args)
	if err != nil {
		metrics.Registrations.WithLabelValues("invalid").Inc()
		return domain.Channel{}, err
	}

	return r.RegisterChannel(ctx, requesterID, chatID)
}

func (r *Registrar) authorize(requesterID int64) error {
	if err := r.guard.Authorize(requesterID, actionRegister); err != nil {
		metrics.Registrations.WithLabelValues("permission_denied").Inc()
		return err
	}
	return nil
}

// lock blocks until no other registration for chatID is running and returns
// the matching release func.
func (r *Registrar) lock(chatID int64) func() {
	r.locksMu.Lock()
	if r.locks == nil {
		r.locks = make(map[int64]*chatLock)
	}
	l, ok := r.locks[chatID]
	if !ok {
		l = &chatLock{}
		r.locks[chatID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, chatID)
		}
		r.locksMu.Unlock()
	}
}

// ParseChannelID parses the single numeric argument of the register command.
func ParseChannelID(args string) (int64, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return 0, ErrMissingChannelID
	}

	chatID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || chatID == 0 {
		return 0, fmt.Errorf("%w: invalid channel id %q", domain.ErrValidation, fields[0])
	}

	return chatID, nil
}
