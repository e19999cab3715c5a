package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"premium_gate_bot/internal/config"
	"premium_gate_bot/internal/domain"
	"premium_gate_bot/internal/feature/access"
	"premium_gate_bot/internal/feature/channel"
	"premium_gate_bot/internal/feature/expiry"
	"premium_gate_bot/internal/feature/owner"
	"premium_gate_bot/internal/health"
	"premium_gate_bot/internal/logging"
	"premium_gate_bot/internal/metrics"
	"premium_gate_bot/internal/store"
	"premium_gate_bot/internal/telegram"
)

const (
	mongoConnectTimeout    = 10 * time.Second
	mongoIndexTimeout      = 5 * time.Second
	mongoDisconnectTimeout = 5 * time.Second
	workerShutdownTimeout  = 10 * time.Second
	healthShutdownTimeout  = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":          "startup",
		"mongo_db":       cfg.MongoDB,
		"sweep_interval": cfg.SweepInterval.String(),
		"reminder_days":  cfg.ReminderDays,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo connection error")
		fmt.Fprintf(os.Stderr, "mongo connection error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_connect").Info("connected to mongo")

	indexCtx, cancelIndexes := context.WithTimeout(context.Background(), mongoIndexTimeout)
	if err := mongoManager.EnsureBaseIndexes(indexCtx); err != nil {
		cancelIndexes()
		logger.WithError(err).Error("mongo index setup error")
		fmt.Fprintf(os.Stderr, "mongo index setup error: %v\n", err)
		os.Exit(1)
	}
	cancelIndexes()

	logger.WithField("event", "mongo_indexes").Info("ensured base mongo indexes")

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		fail(logger, "metrics setup error", err)
	}
	statsProvider := store.NewStatsProvider(mongoManager.Subscriptions(), mongoManager.Channels())
	if err := metrics.RegisterStoreGauges(prometheus.DefaultRegisterer, statsProvider); err != nil {
		fail(logger, "metrics setup error", err)
	}

	subscriptions := domain.NewSubscriptionRepository(mongoManager.Subscriptions(), mongoManager.Retry())
	channels := domain.NewChannelRepository(mongoManager.Channels(), mongoManager.Retry())

	guard, err := owner.NewGuard(cfg.BotOwnerID, logger)
	if err != nil {
		fail(logger, "owner setup error", err)
	}

	tgClient, err := telegram.NewClient(cfg, logger)
	if err != nil {
		fail(logger, "telegram client setup error", err)
	}
	gateway := tgClient.Gateway()

	decider := access.NewDecider(subscriptions)
	tgClient.SetRoutes(telegram.Routes{
		Join:     access.NewJoinHandler(decider, gateway, logger),
		Register: channel.NewRegistrar(guard, gateway, channels, logger),
		Channels: channel.NewLister(decider, channels),
	})

	sweeper, err := expiry.NewSweeper(subscriptions, gateway, cfg.SweepInterval, cfg.ReminderWindow(), logger)
	if err != nil {
		fail(logger, "sweeper setup error", err)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	healthServer := health.NewServer(cfg.HTTPPort, mongoManager, prometheus.DefaultGatherer, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithField("event", "health_error").WithError(err).Error("health server failed")
		}
	}()

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	tgDone := make(chan struct{})
	sweepDone := make(chan struct{})

	go func() {
		tgClient.Start(workerCtx)
		close(tgDone)
	}()
	go func() {
		if err := sweeper.Run(workerCtx); err != nil {
			logger.WithField("event", "sweeper_error").WithError(err).Error("expiry sweeper failed")
		}
		close(sweepDone)
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping workers")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelWorkers()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), workerShutdownTimeout)
	waitFor(waitCtx, logger, "telegram", tgDone)
	waitFor(waitCtx, logger, "sweeper", sweepDone)
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}

func waitFor(ctx context.Context, logger *logrus.Entry, worker string, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
		logger.WithFields(logging.Fields{
			"event":  "worker_shutdown_timeout",
			"worker": worker,
		}).Warn("timed out waiting for worker to stop")
	}
}

func fail(logger *logrus.Entry, msg string, err error) {
	logger.WithError(err).Error(msg)
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
