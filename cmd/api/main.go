package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/keyhaven/keyhaven-backend/api/routes"
	"github.com/keyhaven/keyhaven-backend/internal/disputes"
	"github.com/keyhaven/keyhaven-backend/internal/notifications"
	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/internal/payments"
	"github.com/keyhaven/keyhaven-backend/internal/payouts"
	"github.com/keyhaven/keyhaven-backend/internal/reviewqueue"
	"github.com/keyhaven/keyhaven-backend/internal/shops"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/gateway"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/migrate"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	svcs, err := buildServices(cfg, dbClient, redisClient, paymentGateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, svcs),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildServices(cfg *config.Config, dbClient *db.Client, redisClient *redis.Client, paymentGateway gateway.Gateway, logg *logger.Logger) (routes.Services, error) {
	conn := dbClient.DB()

	ordersRepo := orders.NewRepository(conn)
	disputesRepo := disputes.NewRepository(conn)
	payoutsRepo := payouts.NewRepository(conn)
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)

	reviewSvc, err := reviewqueue.NewService(reviewqueue.NewRepository(conn), logg)
	if err != nil {
		return routes.Services{}, err
	}

	shopDir, err := shops.NewDirectory(conn)
	if err != nil {
		return routes.Services{}, err
	}

	notificationsSvc, err := notifications.NewService(notifications.NewRepository(conn), logg)
	if err != nil {
		return routes.Services{}, err
	}

	dispatcher, err := notifications.NewDispatcher(notificationsSvc, shopDir, logg)
	if err != nil {
		return routes.Services{}, err
	}

	payoutsSvc, err := payouts.NewService(payoutsRepo, ordersRepo, dbClient, outboxSvc, paymentGateway, reviewSvc, shopDir, dispatcher, cfg.Gateway, cfg.Sweep, logg)
	if err != nil {
		return routes.Services{}, err
	}

	ordersSvc, err := orders.NewService(ordersRepo, dbClient, outboxSvc, payoutsSvc, dispatcher, cfg.Escrow, cfg.Sweep, logg)
	if err != nil {
		return routes.Services{}, err
	}

	paymentsSvc, err := payments.NewService(ordersRepo, dbClient, outboxSvc, reviewSvc, dispatcher, cfg.Escrow, logg)
	if err != nil {
		return routes.Services{}, err
	}

	disputesSvc, err := disputes.NewService(disputesRepo, ordersRepo, dbClient, outboxSvc, paymentGateway, reviewSvc, payoutsSvc, dispatcher, cfg.Escrow, cfg.Gateway, logg)
	if err != nil {
		return routes.Services{}, err
	}

	webhookGuard, err := payments.NewWebhookGuard(redisClient)
	if err != nil {
		return routes.Services{}, err
	}

	return routes.Services{
		Orders:        ordersSvc,
		Payments:      paymentsSvc,
		Disputes:      disputesSvc,
		Payouts:       payoutsSvc,
		Notifications: notificationsSvc,
		ReviewQueue:   reviewSvc,
		WebhookGuard:  webhookGuard,
	}, nil
}
