package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"premium_gate_bot/internal/domain"
	"premium_gate_bot/internal/feature/access"
	"premium_gate_bot/internal/feature/channel"
)

type fakeJoin struct {
	requests []access.JoinRequest
}

func (f *fakeJoin) Handle(_ context.Context, req access.JoinRequest) (access.Decision, error) {
	f.requests = append(f.requests, req)
	return access.Approve, nil
}

type fakeRegistrar struct {
	channel domain.Channel
	err     error
	args    string
	from    int64
}

func (f *fakeRegistrar) RegisterCommand(_ context.Context, requesterID int64, args string) (domain.Channel, error) {
	f.from = requesterID
	f.args = args
	return f.channel, f.err
}

type fakeLister struct {
	links []channel.Link
	err   error
}

func (f *fakeLister) ListAccessibleChannels(context.Context, int64) ([]channel.Link, error) {
	return f.links, f.err
}

func newRoutedClient(routes Routes) (*Client, *fakeBot, *logtest.Hook) {
	hookLogger, hook := logtest.NewNullLogger()
	fb := &fakeBot{}
	client := &Client{bot: fb, gateway: NewGateway(fb), logger: logrus.NewEntry(hookLogger)}
	client.SetRoutes(routes)
	return client, fb, hook
}

func commandUpdate(from, chat int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		From: &models.User{ID: from},
		Chat: models.Chat{ID: chat},
		Text: text,
	}}
}

func TestJoinRequestUpdateIsDispatched(t *testing.T) {
	join := &fakeJoin{}
	client, _, _ := newRoutedClient(Routes{Join: join})

	client.handleUpdate(context.Background(), nil, &models.Update{
		ChatJoinRequest: &models.ChatJoinRequest{
			From: models.User{ID: 42},
			Chat: models.Chat{ID: -1001234567890},
			Date: 1717243200,
		},
	})

	if len(join.requests) != 1 {
		t.Fatalf("expected one join request, got %d", len(join.requests))
	}
	req := join.requests[0]
	if req.UserID != 42 || req.ChatID != -1001234567890 {
		t.Fatalf("unexpected join request: %+v", req)
	}
	if !req.ArrivedAt.Equal(time.Unix(1717243200, 0)) {
		t.Fatalf("unexpected arrival time: %v", req.ArrivedAt)
	}
}

func TestAddChannelReplies(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		channel domain.Channel
		err     error
		want    string
	}{
		{
			name:    "registered",
			text:    "/addchannel -1001234567890",
			channel: domain.Channel{ChatID: -1001234567890, Title: "VIP Room"},
			want:    "The channel 'VIP Room' (ID: -1001234567890) has been added to the premium list.",
		},
		{
			name: "denied",
			text: "/addchannel 100",
			err:  domain.ErrPermissionDenied,
			want: "You do not have permission to use this command.",
		},
		{
			name: "usage",
			text: "/addchannel",
			err:  channel.ErrMissingChannelID,
			want: "Usage: /addchannel <channel_id>",
		},
		{
			name: "invalid",
			text: "/addchannel abc",
			err:  domain.ErrValidation,
			want: "Invalid channel ID. Please provide a valid numerical channel ID.",
		},
		{
			name: "not admin",
			text: "/addchannel 100",
			err:  domain.ErrInsufficientCapability,
			want: "The bot is not an admin in the channel with ID 100. Please make the bot an admin first.",
		},
		{
			name: "duplicate",
			text: "/addchannel@PremiumGateBot 100",
			err:  domain.ErrAlreadyRegistered,
			want: "The channel with ID 100 is already in the premium list.",
		},
		{
			name: "store failure",
			text: "/addchannel 100",
			err:  domain.ErrStore,
			want: "Failed to add the channel. Please ensure the channel ID is correct.",
		},
		{
			name: "unknown chat",
			text: "/addchannel 100",
			err:  domain.ErrChannelNotFound,
			want: "Failed to add the channel. Please ensure the channel ID is correct.",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			registrar := &fakeRegistrar{channel: tt.channel, err: tt.err}
			client, fb, _ := newRoutedClient(Routes{Register: registrar})

			client.handleUpdate(context.Background(), nil, commandUpdate(1, 10, tt.text))

			if registrar.from != 1 {
				t.Fatalf("expected requester 1, got %d", registrar.from)
			}
			if len(fb.sent) != 1 {
				t.Fatalf("expected one reply, got %d", len(fb.sent))
			}
			if fb.sent[0].chatID != 10 {
				t.Fatalf("expected reply in chat 10, got %d", fb.sent[0].chatID)
			}
			if fb.sent[0].text != tt.want {
				t.Fatalf("reply = %q, want %q", fb.sent[0].text, tt.want)
			}
		})
	}
}

func TestAddChannelLogsUnexpectedFailures(t *testing.T) {
	registrar := &fakeRegistrar{err: errors.Join(domain.ErrStore, errors.New("timeout"))}
	client, _, hook := newRoutedClient(Routes{Register: registrar})

	client.handleUpdate(context.Background(), nil, commandUpdate(1, 10, "/addchannel 100"))

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "addchannel_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected addchannel_failed log entry")
	}
}

func TestChannelsReplies(t *testing.T) {
	tests := []struct {
		name  string
		links []channel.Link
		err   error
		want  []string
	}{
		{
			name: "links",
			links: []channel.Link{
				{Title: "VIP Room", URL: "https://t.me/c/1234567890?joinrequest=1"},
				{Title: "Signals", URL: "https://t.me/c/9876543210?joinrequest=1"},
			},
			want: []string{
				"Here are the channels you have access to. Request access through the links:",
				"VIP Room: https://t.me/c/1234567890?joinrequest=1",
				"Signals: https://t.me/c/9876543210?joinrequest=1",
			},
		},
		{
			name: "empty registry",
			want: []string{"No premium channels are currently available."},
		},
		{
			name: "expired",
			err:  domain.ErrExpired,
			want: []string{"Your premium access has expired."},
		},
		{
			name: "not subscribed",
			err:  domain.ErrNotSubscribed,
			want: []string{"You are not a premium user."},
		},
		{
			name: "store failure",
			err:  domain.ErrStore,
			want: []string{"Failed to load the premium channels. Please try again later."},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			client, fb, _ := newRoutedClient(Routes{Channels: &fakeLister{links: tt.links, err: tt.err}})

			client.handleUpdate(context.Background(), nil, commandUpdate(42, 42, "/channels"))

			if len(fb.sent) != len(tt.want) {
				t.Fatalf("expected %d replies, got %d: %+v", len(tt.want), len(fb.sent), fb.sent)
			}
			for i, want := range tt.want {
				if fb.sent[i].chatID != 42 || fb.sent[i].text != want {
					t.Fatalf("reply %d = %+v, want %q to 42", i, fb.sent[i], want)
				}
			}
		})
	}
}

func TestUnknownCommandsAndMissingRoutesAreIgnored(t *testing.T) {
	client, fb, _ := newRoutedClient(Routes{})

	client.handleUpdate(context.Background(), nil, commandUpdate(1, 1, "/start"))
	client.handleUpdate(context.Background(), nil, commandUpdate(1, 1, "/channels"))
	client.handleUpdate(context.Background(), nil, &models.Update{
		ChatJoinRequest: &models.ChatJoinRequest{From: models.User{ID: 1}, Chat: models.Chat{ID: 2}},
	})

	if len(fb.sent) != 0 {
		t.Fatalf("expected no replies, got %+v", fb.sent)
	}
}

func TestReplyFailureIsLogged(t *testing.T) {
	client, fb, hook := newRoutedClient(Routes{Channels: &fakeLister{err: domain.ErrNotSubscribed}})
	fb.sendErr = errors.New("Forbidden: bot was blocked by the user")

	client.handleUpdate(context.Background(), nil, commandUpdate(42, 42, "/channels"))

	entry := hook.LastEntry()
	if entry == nil || entry.Data["event"] != "telegram_reply_failed" {
		t.Fatalf("expected telegram_reply_failed log entry, got %v", entry)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text     string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{text: "/addchannel 100", wantName: "addchannel", wantArgs: "100", wantOK: true},
		{text: "  /Channels@PremiumGateBot  ", wantName: "channels", wantOK: true},
		{text: "/addchannel\t-100 extra", wantName: "addchannel", wantArgs: "-100 extra", wantOK: true},
		{text: "hello", wantOK: false},
		{text: "/", wantOK: false},
		{text: "/@bot", wantOK: false},
	}

	for _, tt := range tests {
		name, args, ok := parseCommand(tt.text)
		if ok != tt.wantOK || name != tt.wantName || args != tt.wantArgs {
			t.Fatalf("parseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)", tt.text, name, args, ok, tt.wantName, tt.wantArgs, tt.wantOK)
		}
	}
}
