package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-telegram/bot/models"

	"premium_gate_bot/internal/domain"
	"premium_gate_bot/internal/feature/access"
	"premium_gate_bot/internal/feature/channel"
	"premium_gate_bot/internal/logging"
)

const (
	commandAddChannel = "addchannel"
	commandChannels   = "channels"
)

// Replies to the register command.
const (
	replyAddUsage        = "Usage: /addchannel <channel_id>"
	replyAddInvalidID    = "Invalid channel ID. Please provide a valid numerical channel ID."
	replyAddDenied       = "You do not have permission to use this command."
	replyAddNotAdmin     = "The bot is not an admin in the channel with ID %d. Please make the bot an admin first."
	replyAddDuplicate    = "The channel with ID %d is already in the premium list."
	replyAddRegistered   = "The channel '%s' (ID: %d) has been added to the premium list."
	replyAddFailed       = "Failed to add the channel. Please ensure the channel ID is correct."
	replyChannelsHeader  = "Here are the channels you have access to. Request access through the links:"
	replyChannelsLink    = "%s: %s"
	replyChannelsNone    = "No premium channels are currently available."
	replyChannelsExpired = "Your premium access has expired."
	replyChannelsNoSub   = "You are not a premium user."
	replyChannelsFailed  = "Failed to load the premium channels. Please try again later."
)

// JoinHandler resolves pending join requests.
type JoinHandler interface {
	Handle(ctx context.Context, req access.JoinRequest) (access.Decision, error)
}

// ChannelRegistrar handles the owner's register command.
type ChannelRegistrar interface {
	RegisterCommand(ctx context.Context, requesterID int64, args string) (domain.Channel, error)
}

// ChannelLister lists join links for subscribed users.
type ChannelLister interface {
	ListAccessibleChannels(ctx context.Context, userID int64) ([]channel.Link, error)
}

// Routes are the feature handlers updates are dispatched to. Nil routes are
// skipped.
type Routes struct {
	Join     JoinHandler
	Register ChannelRegistrar
	Channels ChannelLister
}

func (c *Client) handleJoinRequest(ctx context.Context, req *models.ChatJoinRequest) {
	routes := c.currentRoutes()
	if routes.Join == nil {
		return
	}

	// Failures are logged and counted by the handler; the request is dropped.
	_, _ = routes.Join.Handle(ctx, access.JoinRequest{
		UserID:    req.From.ID,
		ChatID:    req.Chat.ID,
		ArrivedAt: time.Unix(int64(req.Date), 0).UTC(),
	})
}

func (c *Client) handleMessage(ctx context.Context, msg *models.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok || msg.From == nil {
		return
	}

	routes := c.currentRoutes()

	switch name {
	case commandAddChannel:
		if routes.Register != nil {
			c.handleAddChannel(ctx, routes.Register, msg, args)
		}
	case commandChannels:
		if routes.Channels != nil {
			c.handleChannels(ctx, routes.Channels, msg.From.ID)
		}
	}
}

func (c *Client) handleAddChannel(ctx context.Context, registrar ChannelRegistrar, msg *models.Message, args string) {
	requesterID := msg.From.ID
	registered, err := registrar.RegisterCommand(ctx, requesterID, args)

	requestedID, _ := channel.ParseChannelID(args)
	reply := addChannelReply(registered, requestedID, err)

	if err != nil && !isExpectedRegistrationError(err) {
		c.logger.WithFields(logging.Fields{
			"event":   "addchannel_failed",
			"user_id": requesterID,
			"chat_id": requestedID,
		}).WithError(err).Error("error in addchannel command")
	}

	c.reply(ctx, msg.Chat.ID, reply)
}

func addChannelReply(registered domain.Channel, requestedID int64, err error) string {
	switch {
	case err == nil:
		return fmt.Sprintf(replyAddRegistered, registered.Title, registered.ChatID)
	case errors.Is(err, domain.ErrPermissionDenied):
		return replyAddDenied
	case errors.Is(err, channel.ErrMissingChannelID):
		return replyAddUsage
	case errors.Is(err, domain.ErrValidation):
		return replyAddInvalidID
	case errors.Is(err, domain.ErrInsufficientCapability):
		return fmt.Sprintf(replyAddNotAdmin, requestedID)
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return fmt.Sprintf(replyAddDuplicate, requestedID)
	default:
		return replyAddFailed
	}
}

func isExpectedRegistrationError(err error) bool {
	return errors.Is(err, domain.ErrPermissionDenied) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInsufficientCapability) ||
		errors.Is(err, domain.ErrAlreadyRegistered)
}

func (c *Client) handleChannels(ctx context.Context, lister ChannelLister, userID int64) {
	links, err := lister.ListAccessibleChannels(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotSubscribed):
		c.reply(ctx, userID, replyChannelsNoSub)
		return
	case errors.Is(err, domain.ErrExpired):
		c.reply(ctx, userID, replyChannelsExpired)
		return
	case err != nil:
		c.logger.WithFields(logging.Fields{
			"event":   "channels_failed",
			"user_id": userID,
		}).WithError(err).Error("failed to list channels")
		c.reply(ctx, userID, replyChannelsFailed)
		return
	}

	if len(links) == 0 {
		c.reply(ctx, userID, replyChannelsNone)
		return
	}

	c.reply(ctx, userID, replyChannelsHeader)
	for _, link := range links {
		c.reply(ctx, userID, fmt.Sprintf(replyChannelsLink, link.Title, link.URL))
	}
}

func (c *Client) reply(ctx context.Context, chatID int64, text string) {
	if err := c.gateway.SendText(ctx, chatID, text); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_reply_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

// parseCommand splits "/name@bot args" into its lowercase name and argument text.
func parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, args := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		head, args = text[:i], strings.TrimSpace(text[i:])
	}

	name := strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", "", false
	}

	return strings.ToLower(name), args, true
}
