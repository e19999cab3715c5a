// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/config"
	"premium_gate_bot/internal/logging"
)

type botAPI interface {
	Start(ctx context.Context)
	GetMe(ctx context.Context) (*models.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	ApproveChatJoinRequest(ctx context.Context, params *bot.ApproveChatJoinRequestParams) (bool, error)
	DeclineChatJoinRequest(ctx context.Context, params *bot.DeclineChatJoinRequestParams) (bool, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"chat_join_request",
		"my_chat_member",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		b, err := bot.New(token, options...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
)

// Client wraps the Telegram bot instance, its gateway, and update routing.
type Client struct {
	bot     botAPI
	gateway *Gateway
	logger  *logrus.Entry

	mu     sync.RWMutex
	routes Routes
}

// NewClient initializes the Telegram bot with long polling and the update
// router. Routes must be attached with SetRoutes before Start.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{logger: logger}

	options := []bot.Option{
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	}
	if cfg.TelegramWorkers > 0 {
		options = append(options, bot.WithWorkers(cfg.TelegramWorkers))
	}

	tgBot, err := createBot(cfg.TelegramToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	client.bot = tgBot
	client.gateway = NewGateway(tgBot)

	return client, nil
}

// Gateway returns the Bot API gateway used for outbound calls.
func (c *Client) Gateway() *Gateway {
	return c.gateway
}

// SetRoutes attaches the feature handlers that updates are dispatched to.
func (c *Client) SetRoutes(routes Routes) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.routes = routes
}

func (c *Client) currentRoutes() Routes {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.routes
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	status     string
	updateType string
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)
	logUpdate(c.logger, meta)

	switch {
	case update.ChatJoinRequest != nil:
		c.handleJoinRequest(ctx, update.ChatJoinRequest)
	case update.Message != nil:
		c.handleMessage(ctx, update.Message)
	}
}

func logUpdate(logger *logrus.Entry, meta updateMeta) {
	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}

	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}
	if meta.status != "" {
		fields["status"] = meta.status
	}

	logger.WithFields(fields).Info("telegram update received")
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	case update.ChatJoinRequest != nil:
		return updateMeta{
			userID:     userID(&update.ChatJoinRequest.From),
			chatID:     chatID(&update.ChatJoinRequest.Chat),
			updateType: "chat_join_request",
		}
	case update.MyChatMember != nil:
		return updateMeta{
			userID:     userID(&update.MyChatMember.From),
			chatID:     chatID(&update.MyChatMember.Chat),
			status:     string(update.MyChatMember.NewChatMember.Type),
			updateType: "my_chat_member",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}
