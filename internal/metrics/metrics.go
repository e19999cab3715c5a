// Package metrics defines the Prometheus collectors exported by the bot.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace    = "premium_gate"
	gaugeTimeout = 2 * time.Second
)

var (
	// JoinDecisions counts resolved join requests by outcome (approve, decline).
	JoinDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_decisions_total",
			Help:      "Join requests decided, by outcome.",
		},
		[]string{"outcome"},
	)
	// JoinFailures counts join requests dropped because of a store or platform failure.
	JoinFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_failures_total",
			Help:      "Join requests dropped after a failure, by stage.",
		},
		[]string{"stage"},
	)
	// Registrations counts channel registration attempts by result.
	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_registrations_total",
			Help:      "Channel registration attempts, by result.",
		},
		[]string{"result"},
	)
	// SweepCycles counts completed expiry sweep cycles.
	SweepCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_cycles_total",
			Help:      "Expiry sweep cycles executed.",
		},
	)
	// SweepPassFailures counts sweep passes abandoned because of a store failure.
	SweepPassFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_pass_failures_total",
			Help:      "Sweep passes abandoned for the cycle, by pass.",
		},
		[]string{"pass"},
	)
	// SweepDuration observes how long a full sweep cycle takes.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweep cycles in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	// SubscriptionsExpired counts subscriptions removed by the expire pass.
	SubscriptionsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_expired_total",
			Help:      "Subscriptions removed by the expire pass.",
		},
	)
	// RemindersSent counts reminder notifications by delivery result.
	RemindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Expiry reminders attempted, by result.",
		},
		[]string{"result"},
	)
)

// Register adds the bot collectors to reg.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		return errors.New("registerer is required")
	}

	collectors := []prometheus.Collector{
		JoinDecisions,
		JoinFailures,
		Registrations,
		SweepCycles,
		SweepPassFailures,
		SweepDuration,
		SubscriptionsExpired,
		RemindersSent,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}

	return nil
}

// StoreCounter reports collection counts for gauges.
type StoreCounter interface {
	CountSubscriptions(ctx context.Context) (int64, error)
	CountActiveSubscriptions(ctx context.Context) (int64, error)
	CountChannels(ctx context.Context) (int64, error)
}

// RegisterStoreGauges exposes subscription and channel counts, queried on each
// scrape. A failed count reports -1.
func RegisterStoreGauges(reg prometheus.Registerer, counter StoreCounter) error {
	if reg == nil {
		return errors.New("registerer is required")
	}
	if counter == nil {
		return errors.New("store counter is required")
	}

	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Stored subscriptions, including expired ones not yet swept.",
		}, countGauge(counter.CountSubscriptions)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Subscriptions expiring at or after now.",
		}, countGauge(counter.CountActiveSubscriptions)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels",
			Help:      "Registered premium channels.",
		}, countGauge(counter.CountChannels)),
	}

	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("register gauge: %w", err)
		}
	}

	return nil
}

func countGauge(count func(context.Context) (int64, error)) func() float64 {
	return func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()

		n, err := count(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	}
}
