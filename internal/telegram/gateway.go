package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"premium_gate_bot/internal/domain"
)

// Gateway exposes the Bot API calls the bot's features depend on. Every
// failure wraps domain.ErrTransport.
type Gateway struct {
	api botAPI

	mu     sync.Mutex
	selfID int64
}

// NewGateway wraps a Bot API client.
func NewGateway(api botAPI) *Gateway {
	return &Gateway{api: api}
}

// SendText sends a plain text message to a chat or user.
func (g *Gateway) SendText(ctx context.Context, chatID int64, text string) error {
	if g == nil || g.api == nil {
		return errors.New("telegram gateway is not initialized")
	}

	if _, err := g.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}); err != nil {
		return fmt.Errorf("%w: send message to %d: %w", domain.ErrTransport, chatID, err)
	}

	return nil
}

// ApproveJoinRequest admits the user into the chat.
func (g *Gateway) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	if g == nil || g.api == nil {
		return errors.New("telegram gateway is not initialized")
	}

	ok, err := g.api.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{
		ChatID: chatID,
		UserID: userID,
	})
	return joinResult("approve", chatID, userID, ok, err)
}

// DeclineJoinRequest rejects the user's pending request.
func (g *Gateway) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	if g == nil || g.api == nil {
		return errors.New("telegram gateway is not initialized")
	}

	ok, err := g.api.DeclineChatJoinRequest(ctx, &bot.DeclineChatJoinRequestParams{
		ChatID: chatID,
		UserID: userID,
	})
	return joinResult("decline", chatID, userID, ok, err)
}

func joinResult(action string, chatID, userID int64, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s join request of %d in %d: %w", domain.ErrTransport, action, userID, chatID, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s join request of %d in %d was not accepted", domain.ErrTransport, action, userID, chatID)
	}
	return nil
}

// ResolveChat looks up a chat's id and title.
func (g *Gateway) ResolveChat(ctx context.Context, chatID int64) (domain.ChatInfo, error) {
	if g == nil || g.api == nil {
		return domain.ChatInfo{}, errors.New("telegram gateway is not initialized")
	}

	chat, err := g.api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return domain.ChatInfo{}, fmt.Errorf("%w: get chat %d: %w", domain.ErrTransport, chatID, err)
	}
	if chat == nil {
		return domain.ChatInfo{}, fmt.Errorf("%w: get chat %d returned no chat", domain.ErrTransport, chatID)
	}

	return domain.ChatInfo{ID: chat.ID, Title: chat.Title}, nil
}

// BotMemberStatus reports the bot's own membership status in a chat, such as
// "administrator" or "creator".
func (g *Gateway) BotMemberStatus(ctx context.Context, chatID int64) (string, error) {
	if g == nil || g.api == nil {
		return "", errors.New("telegram gateway is not initialized")
	}

	selfID, err := g.self(ctx)
	if err != nil {
		return "", err
	}

	member, err := g.api.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: selfID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: get bot member in %d: %w", domain.ErrTransport, chatID, err)
	}
	if member == nil {
		return "", fmt.Errorf("%w: get bot member in %d returned no member", domain.ErrTransport, chatID)
	}

	return memberStatus(member), nil
}

// self resolves the bot's user id once and caches it.
func (g *Gateway) self(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.selfID != 0 {
		return g.selfID, nil
	}

	me, err := g.api.GetMe(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: get me: %w", domain.ErrTransport, err)
	}
	if me == nil || me.ID == 0 {
		return 0, fmt.Errorf("%w: get me returned no user", domain.ErrTransport)
	}

	g.selfID = me.ID
	return g.selfID, nil
}

func memberStatus(member *models.ChatMember) string {
	switch member.Type {
	case models.ChatMemberTypeOwner:
		return domain.StatusCreator
	case models.ChatMemberTypeAdministrator:
		return domain.StatusAdministrator
	default:
		return string(member.Type)
	}
}
