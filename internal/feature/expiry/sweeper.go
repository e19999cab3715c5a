// Package expiry runs the periodic sweep that removes lapsed subscriptions and
// reminds users whose subscriptions are about to end.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/domain"
	"premium_gate_bot/internal/logging"
	"premium_gate_bot/internal/metrics"
)

// reminderTemplate is filled with the expiry date in UTC.
const reminderTemplate = "Your premium subscription expires on %s. Renew it to keep access to the premium channels."

type subscriptionStore interface {
	ListExpired(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	ListExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Subscription, error)
	DeleteExpired(ctx context.Context, userID int64, now time.Time) (bool, error)
}

type notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// SweepReport summarizes one sweep cycle.
type SweepReport struct {
	SweepID       string
	StartedAt     time.Time
	Expired       int
	Reminded      int
	ReminderFails int
	ExpireErr     error
	ReminderErr   error
}

// Sweeper expires subscriptions and sends reminders on a fixed interval.
type Sweeper struct {
	subscriptions subscriptionStore
	notifier      notifier
	interval      time.Duration
	window        time.Duration
	logger        *logrus.Entry
	now           func() time.Time
	newID         func() string
}

// NewSweeper constructs a Sweeper. interval is the start-to-start period of
// Run; window is how far ahead of now a subscription must expire to be
// reminded, and zero disables reminders.
func NewSweeper(subscriptions subscriptionStore, notifier notifier, interval, window time.Duration, logger *logrus.Entry) (*Sweeper, error) {
	if subscriptions == nil {
		return nil, errors.New("subscription store is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	if window < 0 {
		return nil, fmt.Errorf("reminder window must not be negative, got %s", window)
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &Sweeper{
		subscriptions: subscriptions,
		notifier:      notifier,
		interval:      interval,
		window:        window,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.NewString() },
	}, nil
}

// Run executes one cycle immediately and then one per interval until ctx is
// cancelled. Cycles run on the calling goroutine and never overlap.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("sweeper is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	s.logger.WithFields(logging.Fields{
		"event":    "sweeper_started",
		"interval": s.interval.String(),
		"window":   s.window.String(),
	}).Info("expiry sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			s.logger.WithField("event", "sweeper_stopped").Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs the expire pass and then the reminder pass. A failure in one
// pass never skips the other; failures are reported, not returned.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	if s == nil || ctx == nil {
		err := errors.New("sweeper is not initialized or context is missing")
		return SweepReport{ExpireErr: err, ReminderErr: err}
	}

	report := SweepReport{
		SweepID:   s.newID(),
		StartedAt: s.now(),
	}
	logger := logging.With(s.logger, logging.Context{SweepID: report.SweepID})

	defer func(start time.Time) {
		metrics.SweepCycles.Inc()
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	if ctx.Err() != nil {
		return report
	}

	report.Expired, report.ExpireErr = s.expire(ctx, logger, report.StartedAt)
	if report.ExpireErr != nil {
		metrics.SweepPassFailures.WithLabelValues("expire").Inc()
		logger.WithField("event", "sweep_expire_failed").WithError(report.ExpireErr).Error("expire pass failed")
	}

	report.Reminded, report.ReminderFails, report.ReminderErr = s.remind(ctx, logger, report.StartedAt)
	if report.ReminderErr != nil {
		metrics.SweepPassFailures.WithLabelValues("reminder").Inc()
		logger.WithField("event", "sweep_reminder_failed").WithError(report.ReminderErr).Error("reminder pass failed")
	}

	logger.WithFields(logging.Fields{
		"event":          "sweep_completed",
		"expired":        report.Expired,
		"reminded":       report.Reminded,
		"reminder_fails": report.ReminderFails,
	}).Info("expiry sweep completed")

	return report
}

func (s *Sweeper) expire(ctx context.Context, logger *logrus.Entry, now time.Time) (int, error) {
	expired, err := s.subscriptions.ListExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	removed := 0
	for _, sub := range expired {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}

		deleted, err := s.subscriptions.DeleteExpired(ctx, sub.UserID, now)
		if err != nil {
			return removed, fmt.Errorf("delete subscription of user %d: %w", sub.UserID, err)
		}
		if !deleted {
			continue
		}

		removed++
		metrics.SubscriptionsExpired.Inc()
		logging.With(logger, logging.Context{
			UserID: sub.UserID,
			Event:  "subscription_expired",
		}).WithField("expiry_date", sub.ExpiryDate).Info("removed expired subscription")
	}

	return removed, nil
}

func (s *Sweeper) remind(ctx context.Context, logger *logrus.Entry, now time.Time) (int, int, error) {
	if s.window == 0 {
		return 0, 0, nil
	}

	expiring, err := s.subscriptions.ListExpiringBetween(ctx, now, now.Add(s.window))
	if err != nil {
		return 0, 0, fmt.Errorf("list expiring: %w", err)
	}

	sent, failed := 0, 0
	for _, sub := range expiring {
		if ctx.Err() != nil {
			return sent, failed, ctx.Err()
		}

		entry := logging.With(logger, logging.Context{UserID: sub.UserID})
		if err := s.notifier.SendText(ctx, sub.UserID, ReminderText(sub.ExpiryDate)); err != nil {
			failed++
			metrics.RemindersSent.WithLabelValues("failed").Inc()
			entry.WithField("event", "reminder_failed").WithError(err).Warn("failed to send expiry reminder")
			continue
		}

		sent++
		metrics.RemindersSent.WithLabelValues("sent").Inc()
		entry.WithField("event", "reminder_sent").Debug("sent expiry reminder")
	}

	return sent, failed, nil
}

// ReminderText renders the reminder for a subscription expiring at expiry.
func ReminderText(expiry time.Time) string {
	return fmt.Sprintf(reminderTemplate, expiry.UTC().Format("2006-01-02 15:04 UTC"))
}
