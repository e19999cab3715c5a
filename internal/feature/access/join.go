package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/logging"
	"premium_gate_bot/internal/metrics"
)

// User-facing notifications sent after a join request is resolved.
const (
	MessageApproved = "Your join request has been approved. Welcome to the channel!"
	MessageDeclined = "You do not have a valid premium subscription to join this channel."
	MessageFailed   = "Failed to process your join request. Please try again later."
)

// JoinRequest is a pending request from a user to enter a gated channel.
type JoinRequest struct {
	UserID    int64
	ChatID    int64
	ArrivedAt time.Time
}

type decider interface {
	Decide(ctx context.Context, userID, chatID int64) (Decision, error)
}

type joinActions interface {
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
	SendText(ctx context.Context, chatID int64, text string) error
}

// JoinHandler resolves join requests exactly once: it decides, applies the
// platform action, and notifies the user. Failed requests are dropped, never
// retried.
type JoinHandler struct {
	decider decider
	actions joinActions
	logger  *logrus.Entry
}

// NewJoinHandler constructs a JoinHandler.
func NewJoinHandler(decider decider, actions joinActions, logger *logrus.Entry) *JoinHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &JoinHandler{
		decider: decider,
		actions: actions,
		logger:  logger,
	}
}

// Handle resolves a single join request. It returns the decision that was
// applied, or an error when the request was dropped.
func (h *JoinHandler) Handle(ctx context.Context, req JoinRequest) (Decision, error) {
	if h == nil || h.decider == nil || h.actions == nil {
		return Decline, errors.New("join handler is not initialized")
	}
	if ctx == nil {
		return Decline, errors.New("context is required")
	}
	if req.UserID == 0 || req.ChatID == 0 {
		return Decline, errors.New("user id and chat id are required")
	}

	logger := logging.With(h.logger, logging.Context{
		UserID: req.UserID,
		ChatID: req.ChatID,
	})
	if !req.ArrivedAt.IsZero() {
		logger = logger.WithField("arrived_at", req.ArrivedAt.UTC())
	}

	decision, err := h.decider.Decide(ctx, req.UserID, req.ChatID)
	if err != nil {
		metrics.JoinFailures.WithLabelValues("decide").Inc()
		logger.WithField("event", "join_decide_failed").WithError(err).Error("failed to check subscription for join request")
		h.notifyFailure(ctx, logger, req.UserID)
		return Decline, err
	}

	if decision == Approve {
		err = h.actions.ApproveJoinRequest(ctx, req.ChatID, req.UserID)
	} else {
		err = h.actions.DeclineJoinRequest(ctx, req.ChatID, req.UserID)
	}
	if err != nil {
		metrics.JoinFailures.WithLabelValues(decision.String()).Inc()
		logger.WithFields(logging.Fields{
			"event":    "join_action_failed",
			"decision": decision.String(),
		}).WithError(err).Error("failed to resolve join request")
		h.notifyFailure(ctx, logger, req.UserID)
		return decision, fmt.Errorf("%s join request: %w", decision, err)
	}

	metrics.JoinDecisions.WithLabelValues(decision.String()).Inc()

	text := MessageDeclined
	event := "join_declined"
	if decision == Approve {
		text = MessageApproved
		event = "join_approved"
	}

	logger.WithField("event", event).Info("resolved join request")

	if err := h.actions.SendText(ctx, req.UserID, text); err != nil {
		logger.WithField("event", "join_notify_failed").WithError(err).Warn("failed to notify user about join request")
	}

	return decision, nil
}

func (h *JoinHandler) notifyFailure(ctx context.Context, logger *logrus.Entry, userID int64) {
	if err := h.actions.SendText(ctx, userID, MessageFailed); err != nil {
		logger.WithField("event", "join_notify_failed").WithError(err).Warn("failed to send join failure notice")
	}
}
