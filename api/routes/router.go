package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keyhaven/keyhaven-backend/api/controllers"
	webhookcontrollers "github.com/keyhaven/keyhaven-backend/api/controllers/webhooks"
	"github.com/keyhaven/keyhaven-backend/api/middleware"
	"github.com/keyhaven/keyhaven-backend/internal/disputes"
	"github.com/keyhaven/keyhaven-backend/internal/notifications"
	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/internal/payments"
	"github.com/keyhaven/keyhaven-backend/internal/payouts"
	"github.com/keyhaven/keyhaven-backend/internal/reviewqueue"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/redis"
)

// Services bundles everything the HTTP surface depends on.
type Services struct {
	Orders        orders.Service
	Payments      payments.Service
	Disputes      disputes.Service
	Payouts       payouts.Service
	Notifications notifications.Service
	ReviewQueue   reviewqueue.Service
	WebhookGuard  *payments.WebhookGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	database *db.Client,
	redisClient *redis.Client,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, database, redisClient, logg))
	})

	// Webhooks authenticate by signature, not bearer token.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", webhookcontrollers.PaymentsWebhook(svcs.Payments, cfg.Gateway.WebhookSecret, svcs.WebhookGuard, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Use(middleware.RateLimit(redisClient, logg))

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(svcs.Orders, logg))
			r.Get("/", controllers.ListOrders(svcs.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", controllers.OrderDetail(svcs.Orders, logg))
				r.Post("/delivery", controllers.RecordDelivery(svcs.Orders, logg))
				r.Post("/confirm", controllers.ConfirmReceipt(svcs.Orders, logg))
				r.Post("/cancel", controllers.CancelOrder(svcs.Orders, logg))
				r.Get("/disputes", controllers.ListOrderDisputes(svcs.Disputes, logg))
			})
		})

		r.Route("/v1/disputes", func(r chi.Router) {
			r.Post("/", controllers.OpenDispute(svcs.Disputes, logg))
			r.Get("/{disputeId}", controllers.DisputeDetail(svcs.Disputes, logg))
			r.Post("/{disputeId}/respond", controllers.SellerRespond(svcs.Disputes, logg))
		})

		r.Route("/v1/shop", func(r chi.Router) {
			r.Get("/orders", controllers.ListShopOrders(svcs.Orders, logg))
			r.Get("/payouts", controllers.ListShopPayouts(svcs.Payouts, logg))
		})

		r.Get("/v1/payouts/{payoutId}", controllers.PayoutDetail(svcs.Payouts, logg))

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(svcs.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(svcs.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(svcs.Notifications, logg))
		})

		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(middleware.RequireRole(string(enums.MemberRoleAdmin), logg))

			r.Route("/disputes", func(r chi.Router) {
				r.Get("/escalated", controllers.ListEscalatedDisputes(svcs.Disputes, logg))
				r.Post("/{disputeId}/resolve", controllers.AdminResolveDispute(svcs.Disputes, logg))
			})

			r.Route("/payouts", func(r chi.Router) {
				r.Post("/{payoutId}/process", controllers.AdminProcessPayout(svcs.Payouts, logg))
			})

			r.Route("/review-tasks", func(r chi.Router) {
				r.Get("/", controllers.ListReviewTasks(svcs.ReviewQueue, logg))
				r.Post("/{taskId}/resolve", controllers.ResolveReviewTask(svcs.ReviewQueue, logg))
			})

			r.Route("/sweeps", func(r chi.Router) {
				r.Post("/auto-confirm", controllers.TriggerAutoConfirmSweep(svcs.Orders, logg))
				r.Post("/payouts", controllers.TriggerPayoutSweep(svcs.Payouts, logg))
				r.Post("/payouts/reconcile", controllers.TriggerPayoutReconcile(svcs.Payouts, logg))
			})
		})
	})

	return r
}
