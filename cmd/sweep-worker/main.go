package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyhaven/keyhaven-backend/internal/cron"
	"github.com/keyhaven/keyhaven-backend/internal/notifications"
	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/internal/payouts"
	"github.com/keyhaven/keyhaven-backend/internal/reviewqueue"
	"github.com/keyhaven/keyhaven-backend/internal/shops"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/gateway"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/metrics"
	"github.com/keyhaven/keyhaven-backend/pkg/migrate"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweep-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweep-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sweep-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paymentGateway, err := gateway.NewStripeGateway(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment gateway", err)
		os.Exit(1)
	}

	conn := dbClient.DB()
	ordersRepo := orders.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	reviewSvc, err := reviewqueue.NewService(reviewqueue.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire review queue", err)
		os.Exit(1)
	}
	shopDir, err := shops.NewDirectory(conn)
	if err != nil {
		logg.Error(context.Background(), "failed to wire shop directory", err)
		os.Exit(1)
	}
	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire notifications service", err)
		os.Exit(1)
	}
	dispatcher, err := notifications.NewDispatcher(notificationsSvc, shopDir, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire notification dispatcher", err)
		os.Exit(1)
	}
	payoutsSvc, err := payouts.NewService(payouts.NewRepository(conn), ordersRepo, dbClient, outboxSvc, paymentGateway, reviewSvc, shopDir, dispatcher, cfg.Gateway, cfg.Sweep, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire payouts service", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, outboxSvc, payoutsSvc, dispatcher, cfg.Escrow, cfg.Sweep, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire orders service", err)
		os.Exit(1)
	}
	jobMetrics := metrics.NewJobMetrics(prometheus.DefaultRegisterer)

	autoConfirmJob, err := cron.NewAutoConfirmJob(cron.AutoConfirmJobParams{
		Logger:   logg,
		Orders:   ordersSvc,
		Metrics:  jobMetrics,
		Interval: cfg.Sweep.AutoConfirmInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build auto-confirm job", err)
		os.Exit(1)
	}
	payoutSweepJob, err := cron.NewPayoutSweepJob(cron.PayoutSweepJobParams{
		Logger:   logg,
		Payouts:  payoutsSvc,
		Metrics:  jobMetrics,
		Interval: cfg.Sweep.PayoutInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build payout sweep job", err)
		os.Exit(1)
	}
	payoutReconcileJob, err := cron.NewPayoutReconcileJob(cron.PayoutReconcileJobParams{
		Logger:  logg,
		Payouts: payoutsSvc,
		Metrics: jobMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build payout reconcile job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outboxRepo,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("sweep"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to build sweep lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(autoConfirmJob, payoutSweepJob, payoutReconcileJob, retentionJob),
		Lock:     lock,
		Metrics:  jobMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "sweep-worker",
	})
	logg.Info(ctx, "starting sweep worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweep worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweep worker shutting down gracefully")
}
