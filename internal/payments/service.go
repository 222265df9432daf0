package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	dbpkg "github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ReviewRecorder routes invariant violations to the operator queue.
type ReviewRecorder interface {
	CreateTx(ctx context.Context, tx *gorm.DB, task models.ReviewTask) error
}

// ReconcileInput is one payment confirmation from the gateway, delivered
// at-least-once.
type ReconcileInput struct {
	ExternalRef        string
	CheckoutSessionKey string
	AmountCents        int64
}

// ReconcileResult reports which order absorbed the confirmation and whether
// this call performed the transition.
type ReconcileResult struct {
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Created bool
}

type notifier interface {
	NotifyBuyer(ctx context.Context, buyerID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID)
}

// Service maps external payment confirmations onto exactly one order.
type Service interface {
	Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error)
	MarkFailed(ctx context.Context, checkoutSessionKey string, reason string) error
}

type service struct {
	repo       orders.Repository
	tx         txRunner
	outbox     outboxPublisher
	review     ReviewRecorder
	notify     notifier
	retryLimit int
	logg       *logger.Logger
}

// NewService builds a payment reconciler with the required dependencies. The
// notifier may be nil; notification fan-out is then skipped.
func NewService(repo orders.Repository, tx txRunner, publisher outboxPublisher, review ReviewRecorder, notify notifier, cfg config.EscrowConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if review == nil {
		return nil, fmt.Errorf("review recorder required")
	}
	limit := cfg.ConflictRetryLimit
	if limit <= 0 {
		limit = 3
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     publisher,
		review:     review,
		notify:     notify,
		retryLimit: limit,
		logg:       logg,
	}, nil
}

// Reconcile is idempotent under at-least-once delivery: a reference that
// already landed on an order is acknowledged without a second transition, and
// version conflicts are retried with a fresh read up to the configured bound.
func (s *service) Reconcile(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	if input.ExternalRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external payment reference required")
	}
	if input.CheckoutSessionKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session key required")
	}

	// Point lookup first: the unique index on external_payment_ref makes the
	// replay path a single read.
	existing, err := s.repo.FindByExternalPaymentRef(ctx, input.ExternalRef)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment reference")
	}
	if existing != nil {
		return &ReconcileResult{OrderID: existing.ID, Created: false}, nil
	}

	var result *ReconcileResult
	backoff := retry.WithMaxRetries(uint64(s.retryLimit), retry.NewExponential(50*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, attemptErr := s.reconcileOnce(ctx, input)
		if attemptErr != nil {
			if pkgerrors.HasCode(attemptErr, pkgerrors.CodeConflict) {
				return retry.RetryableError(attemptErr)
			}
			return attemptErr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Created && s.notify != nil {
		s.notify.NotifyBuyer(ctx, result.BuyerID, enums.NotificationOrderPaid,
			"Payment received", "Your payment was received; the seller is preparing your delivery.", &result.OrderID)
	}
	return result, nil
}

func (s *service) reconcileOnce(ctx context.Context, input ReconcileInput) (*ReconcileResult, error) {
	var result *ReconcileResult
	var reviewTask *models.ReviewTask
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByCheckoutSessionKey(ctx, input.CheckoutSessionKey)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// A confirmation with no originating order is a hard
				// inconsistency. Never synthesize an order from it.
				reviewTask = &models.ReviewTask{
					Kind:        enums.ReviewTaskKindOrphanPayment,
					ExternalRef: &input.ExternalRef,
					Detail:      fmt.Sprintf("payment confirmation %s has no matching order for session %s", input.ExternalRef, input.CheckoutSessionKey),
				}
				return pkgerrors.New(pkgerrors.CodeInvariant, "payment confirmation does not match any order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup checkout session")
		}

		// Replay against an already-paid order is a no-op.
		if order.ExternalPaymentRef != nil && *order.ExternalPaymentRef == input.ExternalRef {
			result = &ReconcileResult{OrderID: order.ID, Created: false}
			return nil
		}
		if order.Status != enums.OrderStatusPaymentPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
		}

		if order.TotalCents != input.AmountCents {
			reviewTask = &models.ReviewTask{
				Kind:        enums.ReviewTaskKindAmountMismatch,
				OrderID:     &order.ID,
				ExternalRef: &input.ExternalRef,
				Detail:      fmt.Sprintf("confirmed amount %d does not match order total %d", input.AmountCents, order.TotalCents),
			}
			return pkgerrors.New(pkgerrors.CodeInvariant, "confirmed amount does not match order total")
		}

		ok, err := repo.GuardedUpdate(ctx, order.ID, orders.Guard{
			Version: order.Version,
			Status:  enums.OrderStatusPaymentPending,
		}, map[string]any{
			"status":               enums.OrderStatusAwaitingDelivery,
			"external_payment_ref": input.ExternalRef,
		})
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_orders_external_payment_ref") {
				// A concurrent reconcile won with the same reference.
				result = &ReconcileResult{OrderID: order.ID, Created: false}
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently")
		}

		result = &ReconcileResult{OrderID: order.ID, BuyerID: order.BuyerID, Created: true}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderPaidEvent{
				OrderID:            order.ID,
				BuyerID:            order.BuyerID,
				SellerShopID:       order.SellerShopID,
				ExternalPaymentRef: input.ExternalRef,
				AmountCents:        input.AmountCents,
			},
		})
	})
	if err != nil {
		// The reconcile transaction rolled back, so the review record gets
		// its own committed transaction or operators never see it.
		if reviewTask != nil {
			if reviewErr := s.openReviewTask(ctx, *reviewTask); reviewErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, reviewErr, "record payment inconsistency")
			}
		}
		return nil, err
	}
	return result, nil
}

func (s *service) openReviewTask(ctx context.Context, task models.ReviewTask) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.review.CreateTx(ctx, tx, task)
	})
}

// MarkFailed stamps an unpaid order after the gateway reports a definitive
// payment failure.
func (s *service) MarkFailed(ctx context.Context, checkoutSessionKey string, reason string) error {
	if checkoutSessionKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session key required")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByCheckoutSessionKey(ctx, checkoutSessionKey)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup checkout session")
		}
		if order.Status == enums.OrderStatusPaymentFailed {
			return nil
		}
		if order.Status != enums.OrderStatusPaymentPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
		}

		ok, err := repo.GuardedUpdate(ctx, order.ID, orders.Guard{
			Version: order.Version,
			Status:  enums.OrderStatusPaymentPending,
		}, map[string]any{
			"status": enums.OrderStatusPaymentFailed,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently")
		}
		if s.logg != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Warn(logCtx, fmt.Sprintf("payment failed: %s", reason))
		}
		return nil
	})
}
