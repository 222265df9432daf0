package disputes

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/gateway"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type reviewRecorder interface {
	CreateTx(ctx context.Context, tx *gorm.DB, task models.ReviewTask) error
}

type notifier interface {
	NotifyBuyer(ctx context.Context, buyerID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID)
	NotifyShop(ctx context.Context, shopID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID)
}

// Service defines the dispute workflow: buyer opens, seller responds, admin
// arbitrates escalations. Every resolution that moves the order does so
// through the guarded transition API.
type Service interface {
	Open(ctx context.Context, input OpenDisputeInput) (*models.Dispute, error)
	Get(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.Dispute, error)
	ListEscalated(ctx context.Context, actor Actor, limit int) ([]models.Dispute, error)
	SellerRespond(ctx context.Context, input RespondInput) (*models.Dispute, error)
	AdminResolve(ctx context.Context, input ResolveInput) (*models.Dispute, error)
}

type service struct {
	repo    Repository
	orders  orders.Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway gateway.Gateway
	reviews reviewRecorder
	payouts orders.PayoutEnqueuer
	notify  notifier
	escrow  config.EscrowConfig
	gw      config.GatewayConfig
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a dispute service with the required dependencies. The
// notifier may be nil; notification fan-out is then skipped.
func NewService(
	repo Repository,
	orderRepo orders.Repository,
	tx txRunner,
	publisher outboxPublisher,
	gw gateway.Gateway,
	reviews reviewRecorder,
	payouts orders.PayoutEnqueuer,
	notify notifier,
	escrow config.EscrowConfig,
	gwCfg config.GatewayConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("dispute repository required")
	}
	if orderRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if reviews == nil {
		return nil, fmt.Errorf("review recorder required")
	}
	if payouts == nil {
		return nil, fmt.Errorf("payout enqueuer required")
	}
	return &service{
		repo:    repo,
		orders:  orderRepo,
		tx:      tx,
		outbox:  publisher,
		gateway: gw,
		reviews: reviews,
		payouts: payouts,
		notify:  notify,
		escrow:  escrow,
		gw:      gwCfg,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (s *service) Open(ctx context.Context, input OpenDisputeInput) (*models.Dispute, error) {
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dispute category")
	}
	if input.Subject == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute subject required")
	}
	if input.Description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute description required")
	}

	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != input.Actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can dispute this order")
	}
	if order.Status != enums.OrderStatusAwaitingConfirmation {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting confirmation")
	}

	var dispute *models.Dispute
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		created, txErr := s.repo.WithTx(tx).Create(ctx, &models.Dispute{
			OrderID:      order.ID,
			BuyerID:      order.BuyerID,
			SellerShopID: order.SellerShopID,
			Category:     input.Category,
			Subject:      input.Subject,
			Description:  input.Description,
			Evidence:     input.Evidence,
			Status:       enums.DisputeStatusOpen,
		})
		if txErr != nil {
			return txErr
		}
		dispute = created

		// Clearing the deadline and flagging the dispute happen in the same
		// conditional write, so a racing sweep sees either the old state or
		// the dispute, never a half-applied mix.
		ok, txErr := s.orders.WithTx(tx).GuardedUpdate(ctx, order.ID, orders.Guard{
			Version:          order.Version,
			Status:           enums.OrderStatusAwaitingConfirmation,
			RequireNoDispute: true,
		}, map[string]any{
			"status":          enums.OrderStatusDisputed,
			"dispute_id":      dispute.ID,
			"auto_confirm_at": nil,
		})
		if txErr != nil {
			return txErr
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, re-read and retry")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: payloads.DisputeOpenedEvent{
				DisputeID:    dispute.ID,
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerShopID: order.SellerShopID,
				Category:     dispute.Category,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"dispute_id": dispute.ID.String(),
		"category":   dispute.Category.String(),
	})
	s.logg.Info(logCtx, "dispute opened")
	if s.notify != nil {
		s.notify.NotifyShop(ctx, dispute.SellerShopID, enums.NotificationDisputeOpened,
			"Dispute opened", "A buyer opened a dispute on one of your orders.", &order.ID)
	}
	return dispute, nil
}

func (s *service) Get(ctx context.Context, disputeID uuid.UUID, actor Actor) (*models.Dispute, error) {
	dispute, err := s.repo.FindByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if err := authorizeDisputeRead(dispute, actor); err != nil {
		return nil, err
	}
	return dispute, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID, actor Actor) ([]models.Dispute, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Role == enums.MemberRoleAdmin:
	case order.BuyerID == actor.UserID:
	case actor.ShopID != nil && *actor.ShopID == order.SellerShopID:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a participant in this order")
	}
	return s.repo.ListForOrder(ctx, orderID)
}

func (s *service) ListEscalated(ctx context.Context, actor Actor, limit int) ([]models.Dispute, error) {
	if actor.Role != enums.MemberRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return s.repo.ListByStatus(ctx, enums.DisputeStatusEscalated, limit)
}

func (s *service) SellerRespond(ctx context.Context, input RespondInput) (*models.Dispute, error) {
	if !input.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid resolution action")
	}
	if input.Actor.ShopID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller shop identity missing")
	}

	dispute, err := s.repo.FindByID(ctx, input.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.SellerShopID != *input.Actor.ShopID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "dispute belongs to another shop")
	}
	if dispute.Status != enums.DisputeStatusOpen {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute is not open")
	}

	if input.Action == enums.ResolutionActionReject {
		return s.escalate(ctx, dispute, input)
	}
	return s.applyResolution(ctx, dispute, resolutionInput{
		Action:             input.Action,
		Note:               input.Note,
		NewDeliveryPayload: input.NewDeliveryPayload,
		RefundCents:        input.RefundCents,
		Actor:              input.Actor,
		FromStatus:         enums.DisputeStatusOpen,
	})
}

func (s *service) AdminResolve(ctx context.Context, input ResolveInput) (*models.Dispute, error) {
	if input.Actor.Role != enums.MemberRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if !input.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid resolution action")
	}

	dispute, err := s.repo.FindByID(ctx, input.DisputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Status != enums.DisputeStatusEscalated {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "dispute is not escalated")
	}

	return s.applyResolution(ctx, dispute, resolutionInput{
		Action:             input.Action,
		Note:               input.Note,
		NewDeliveryPayload: input.NewDeliveryPayload,
		RefundCents:        input.RefundCents,
		Actor:              input.Actor,
		FromStatus:         enums.DisputeStatusEscalated,
	})
}

func (s *service) escalate(ctx context.Context, dispute *models.Dispute, input RespondInput) (*models.Dispute, error) {
	var updated *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, txErr := repo.Update(ctx, dispute.ID, map[string]any{
			"status": enums.DisputeStatusSellerResponded,
		}); txErr != nil {
			return txErr
		}
		var txErr error
		updated, txErr = repo.Update(ctx, dispute.ID, map[string]any{
			"status":          enums.DisputeStatusEscalated,
			"resolution_note": nullableString(input.Note),
		})
		if txErr != nil {
			return txErr
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeEscalated,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: payloads.DisputeEscalatedEvent{
				DisputeID:    dispute.ID,
				OrderID:      dispute.OrderID,
				SellerShopID: dispute.SellerShopID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   dispute.OrderID.String(),
		"dispute_id": dispute.ID.String(),
	})
	s.logg.Info(logCtx, "dispute escalated to admin review")
	if s.notify != nil {
		s.notify.NotifyBuyer(ctx, dispute.BuyerID, enums.NotificationDisputeResponded,
			"Seller responded", "The seller contested your dispute; an administrator will review it.", &dispute.OrderID)
	}
	return updated, nil
}

type resolutionInput struct {
	Action             enums.ResolutionAction
	Note               string
	NewDeliveryPayload *string
	RefundCents        int64
	Actor              Actor
	FromStatus         enums.DisputeStatus
}

func (s *service) applyResolution(ctx context.Context, dispute *models.Dispute, input resolutionInput) (*models.Dispute, error) {
	order, err := s.orders.FindByID(ctx, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusDisputed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in dispute")
	}

	switch input.Action {
	case enums.ResolutionActionRedeliver:
		return s.resolveRedeliver(ctx, dispute, order, input)
	case enums.ResolutionActionFullRefund:
		return s.resolveRefund(ctx, dispute, order, input, order.TotalCents, false)
	case enums.ResolutionActionPartialRefund:
		if input.RefundCents <= 0 || input.RefundCents >= order.TotalCents {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "partial refund must be between zero and the order total")
		}
		return s.resolveRefund(ctx, dispute, order, input, input.RefundCents, true)
	case enums.ResolutionActionReject:
		// Only reachable from admin arbitration: the buyer loses and the
		// seller keeps the escrowed funds.
		return s.resolveRejected(ctx, dispute, order, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid resolution action")
	}
}

// resolveRedeliver sends the order back to awaiting_delivery so the seller
// restarts the delivery cycle. A provided payload replaces the delivered
// content immediately; the fresh deadline is armed when delivery is recorded.
func (s *service) resolveRedeliver(ctx context.Context, dispute *models.Dispute, order *models.Order, input resolutionInput) (*models.Dispute, error) {
	finalUpdates := map[string]any{
		"status":             enums.OrderStatusAwaitingDelivery,
		"dispute_id":         nil,
		"delivered_at":       nil,
		"auto_confirm_at":    nil,
		"buyer_confirmed_at": nil,
	}
	if input.NewDeliveryPayload != nil && *input.NewDeliveryPayload != "" {
		finalUpdates["delivery_payload"] = *input.NewDeliveryPayload
	}

	var updated *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if txErr := s.settleOrderTx(ctx, tx, order, finalUpdates); txErr != nil {
			return txErr
		}
		var txErr error
		updated, txErr = s.closeDisputeTx(ctx, tx, dispute, input)
		if txErr != nil {
			return txErr
		}
		return s.emitResolved(ctx, tx, dispute, input, 0)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"dispute_id": dispute.ID.String(),
		"action":     input.Action.String(),
	})
	s.logg.Info(logCtx, "dispute resolved, order returned for redelivery")
	s.notifyResolved(ctx, dispute, input.Action, 0)
	return updated, nil
}

// resolveRefund issues the gateway refund first, then applies the state
// transition. The refund key is derived from the order id, so a crash between
// the two steps replays into the gateway's idempotency window instead of
// refunding twice.
func (s *service) resolveRefund(ctx context.Context, dispute *models.Dispute, order *models.Order, input resolutionInput, refundCents int64, partial bool) (*models.Dispute, error) {
	if order.ExternalPaymentRef == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvariant, "disputed order has no payment reference")
	}

	finalUpdates := map[string]any{"dispute_id": nil}
	if partial {
		newTotal := order.TotalCents - refundCents
		feeCents, sellerCents, feeErr := s.partialRefundSplit(order, newTotal)
		if feeErr != nil {
			return nil, feeErr
		}
		finalUpdates["status"] = enums.OrderStatusCompleted
		finalUpdates["total_cents"] = newTotal
		finalUpdates["platform_fee_cents"] = feeCents
		finalUpdates["seller_cents"] = sellerCents
		order.TotalCents = newTotal
		order.PlatformFeeCents = feeCents
		order.SellerCents = sellerCents
	} else {
		finalUpdates["status"] = enums.OrderStatusRefunded
	}

	if err := s.issueRefund(ctx, order, refundCents); err != nil {
		return nil, err
	}

	var updated *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if txErr := s.settleOrderTx(ctx, tx, order, finalUpdates); txErr != nil {
			return txErr
		}
		var txErr error
		updated, txErr = s.closeDisputeTx(ctx, tx, dispute, input)
		if txErr != nil {
			return txErr
		}

		if partial {
			order.Status = enums.OrderStatusCompleted
			if txErr = s.payouts.EnqueueTx(ctx, tx, order); txErr != nil {
				return txErr
			}
			if txErr = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCompleted,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Version:       1,
				Actor:         actorRef(input.Actor),
				Data: payloads.OrderCompletedEvent{
					OrderID:      order.ID,
					BuyerID:      order.BuyerID,
					SellerShopID: order.SellerShopID,
					SellerCents:  order.SellerCents,
					CompletedAt:  s.now().UTC(),
				},
			}); txErr != nil {
				return txErr
			}
		}

		if txErr = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: payloads.OrderRefundedEvent{
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerShopID: order.SellerShopID,
				RefundCents:  refundCents,
				Partial:      partial,
			},
		}); txErr != nil {
			return txErr
		}
		return s.emitResolved(ctx, tx, dispute, input, refundCents)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"dispute_id":   dispute.ID.String(),
		"action":       input.Action.String(),
		"refund_cents": refundCents,
	})
	s.logg.Info(logCtx, "dispute resolved with refund")
	s.notifyResolved(ctx, dispute, input.Action, refundCents)
	return updated, nil
}

func (s *service) resolveRejected(ctx context.Context, dispute *models.Dispute, order *models.Order, input resolutionInput) (*models.Dispute, error) {
	var updated *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if txErr := s.settleOrderTx(ctx, tx, order, map[string]any{
			"status":     enums.OrderStatusCompleted,
			"dispute_id": nil,
		}); txErr != nil {
			return txErr
		}
		var txErr error
		updated, txErr = s.closeDisputeTx(ctx, tx, dispute, input)
		if txErr != nil {
			return txErr
		}

		order.Status = enums.OrderStatusCompleted
		if txErr = s.payouts.EnqueueTx(ctx, tx, order); txErr != nil {
			return txErr
		}
		if txErr = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         actorRef(input.Actor),
			Data: payloads.OrderCompletedEvent{
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerShopID: order.SellerShopID,
				SellerCents:  order.SellerCents,
				CompletedAt:  s.now().UTC(),
			},
		}); txErr != nil {
			return txErr
		}
		return s.emitResolved(ctx, tx, dispute, input, 0)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"dispute_id": dispute.ID.String(),
	})
	s.logg.Info(logCtx, "dispute rejected, order completed for seller")
	s.notifyResolved(ctx, dispute, input.Action, 0)
	return updated, nil
}

// settleOrderTx moves the order disputed -> dispute_resolved -> final inside
// one transaction, both steps version-guarded.
func (s *service) settleOrderTx(ctx context.Context, tx *gorm.DB, order *models.Order, finalUpdates map[string]any) error {
	repo := s.orders.WithTx(tx)
	ok, err := repo.GuardedUpdate(ctx, order.ID, orders.Guard{
		Version: order.Version,
		Status:  enums.OrderStatusDisputed,
	}, map[string]any{
		"status": enums.OrderStatusDisputeResolved,
	})
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, re-read and retry")
	}

	ok, err = repo.GuardedUpdate(ctx, order.ID, orders.Guard{
		Version: order.Version + 1,
		Status:  enums.OrderStatusDisputeResolved,
	}, finalUpdates)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently, re-read and retry")
	}
	order.Version += 2
	return nil
}

func (s *service) closeDisputeTx(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, input resolutionInput) (*models.Dispute, error) {
	repo := s.repo.WithTx(tx)
	if input.FromStatus == enums.DisputeStatusOpen {
		if _, err := repo.Update(ctx, dispute.ID, map[string]any{
			"status": enums.DisputeStatusSellerResponded,
		}); err != nil {
			return nil, err
		}
	}
	return repo.Update(ctx, dispute.ID, map[string]any{
		"status":            enums.DisputeStatusResolved,
		"resolution_action": input.Action,
		"resolution_note":   nullableString(input.Note),
		"resolved_by":       input.Actor.UserID,
		"resolved_at":       s.now().UTC(),
	})
}

func (s *service) notifyResolved(ctx context.Context, dispute *models.Dispute, action enums.ResolutionAction, refundCents int64) {
	if s.notify == nil {
		return
	}
	message := fmt.Sprintf("The dispute was resolved: %s.", action.String())
	s.notify.NotifyBuyer(ctx, dispute.BuyerID, enums.NotificationDisputeResolved,
		"Dispute resolved", message, &dispute.OrderID)
	s.notify.NotifyShop(ctx, dispute.SellerShopID, enums.NotificationDisputeResolved,
		"Dispute resolved", message, &dispute.OrderID)
	if refundCents > 0 {
		s.notify.NotifyBuyer(ctx, dispute.BuyerID, enums.NotificationOrderRefunded,
			"Refund issued", fmt.Sprintf("A refund of %d cents was issued for your order.", refundCents), &dispute.OrderID)
	}
}

func (s *service) emitResolved(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, input resolutionInput, refundCents int64) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDisputeResolved,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Version:       1,
		Actor:         actorRef(input.Actor),
		Data: payloads.DisputeResolvedEvent{
			DisputeID:    dispute.ID,
			OrderID:      dispute.OrderID,
			BuyerID:      dispute.BuyerID,
			SellerShopID: dispute.SellerShopID,
			Action:       input.Action,
			RefundCents:  refundCents,
		},
	})
}

// issueRefund calls the gateway with bounded retries on transient failures.
// A final failure lands on the operator review queue and fails the operation.
func (s *service) issueRefund(ctx context.Context, order *models.Order, refundCents int64) error {
	limit := s.gw.RetryLimit
	if limit <= 0 {
		limit = 3
	}
	backoff := retry.WithMaxRetries(uint64(limit), retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, attemptErr := s.gateway.Refund(ctx, gateway.RefundRequest{
			OrderID:     order.ID,
			PaymentRef:  *order.ExternalPaymentRef,
			AmountCents: refundCents,
		})
		if attemptErr != nil && gateway.IsTransient(attemptErr) {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err == nil {
		return nil
	}

	taskErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.reviews.CreateTx(ctx, tx, models.ReviewTask{
			Kind:        enums.ReviewTaskKindRefundFailed,
			OrderID:     &order.ID,
			ExternalRef: order.ExternalPaymentRef,
			Detail:      fmt.Sprintf("refund of %d cents failed: %v", refundCents, err),
		})
	})
	if taskErr != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "recording refund failure for review", taskErr)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment gateway refund failed")
}

// partialRefundSplit recomputes the fee split for the retained amount under
// the configured policy.
func (s *service) partialRefundSplit(order *models.Order, newTotal int64) (feeCents, sellerCents int64, err error) {
	policy, err := s.escrow.PartialRefundFeePolicyNormalized()
	if err != nil {
		return 0, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invalid fee policy configuration")
	}
	switch policy {
	case config.FeePolicyProportional:
		feeCents, sellerCents = orders.SplitFee(newTotal, s.escrow.PlatformFeeBps)
	default:
		feeCents = order.PlatformFeeCents
		sellerCents = newTotal - feeCents
		if sellerCents < 0 {
			return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the seller's share of the order")
		}
	}
	return feeCents, sellerCents, nil
}

func authorizeDisputeRead(dispute *models.Dispute, actor Actor) error {
	switch {
	case actor.Role == enums.MemberRoleAdmin:
		return nil
	case dispute.BuyerID == actor.UserID:
		return nil
	case actor.ShopID != nil && *actor.ShopID == dispute.SellerShopID:
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant in this dispute")
	}
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: actor.Role.String()}
}
