package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/config"
	dbpkg "github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox/payloads"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PayoutEnqueuer adds a freshly completed order to its seller's pending payout.
// Implementations must be idempotent per order.
type PayoutEnqueuer interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

type notifier interface {
	NotifyBuyer(ctx context.Context, buyerID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID)
	NotifyShop(ctx context.Context, shopID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID)
}

// Service defines order lifecycle operations beyond repository reads.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
	ListForShop(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
	RecordDelivery(ctx context.Context, input RecordDeliveryInput) (*models.Order, error)
	ConfirmReceipt(ctx context.Context, input ConfirmReceiptInput) (*models.Order, error)
	Cancel(ctx context.Context, input CancelOrderInput) (*models.Order, error)
	RunAutoConfirmSweep(ctx context.Context) (int, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	payouts PayoutEnqueuer
	notify  notifier
	cfg     config.EscrowConfig
	batch   int
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds an order service with the required dependencies. The
// notifier may be nil; notification fan-out is then skipped.
func NewService(repo Repository, tx txRunner, publisher outboxPublisher, payouts PayoutEnqueuer, notify notifier, cfg config.EscrowConfig, sweep config.SweepConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if payouts == nil {
		return nil, fmt.Errorf("payout enqueuer required")
	}
	batch := sweep.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  publisher,
		payouts: payouts,
		notify:  notify,
		cfg:     cfg,
		batch:   batch,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// SplitFee converts the configured basis points into the platform fee for a
// total. The fee floors, so remainder cents go to the seller.
func SplitFee(totalCents int64, bps int) (feeCents, sellerCents int64) {
	fee := decimal.NewFromInt(totalCents).
		Mul(decimal.NewFromInt(int64(bps))).
		Div(decimal.NewFromInt(10000)).
		Floor()
	feeCents = fee.IntPart()
	sellerCents = totalCents - feeCents
	return feeCents, sellerCents
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.SellerShopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller shop id required")
	}
	if input.CheckoutSessionKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session key required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item required")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency")
	}

	var totalCents int64
	items := make([]models.OrderLineItem, 0, len(input.Items))
	for _, item := range input.Items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item qty must be positive")
		}
		if item.UnitPriceCents <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item price must be positive")
		}
		lineTotal := item.UnitPriceCents * int64(item.Qty)
		totalCents += lineTotal
		items = append(items, models.OrderLineItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     lineTotal,
		})
	}

	feeCents, sellerCents := SplitFee(totalCents, s.cfg.PlatformFeeBps)

	order := &models.Order{
		BuyerID:            input.BuyerID,
		SellerShopID:       input.SellerShopID,
		Currency:           input.Currency,
		Status:             enums.OrderStatusPaymentPending,
		TotalCents:         totalCents,
		PlatformFeeCents:   feeCents,
		SellerCents:        sellerCents,
		CheckoutSessionKey: input.CheckoutSessionKey,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Create(ctx, order); err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := repo.CreateLineItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create line items")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.BuyerID, nil, enums.MemberRoleBuyer),
			Data: payloads.OrderCreatedEvent{
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerShopID: order.SellerShopID,
				TotalCents:   order.TotalCents,
				Currency:     string(order.Currency),
			},
		})
	})
	if err != nil {
		// Checkout retries replay the same session key; hand back the order
		// the first attempt created.
		if dbpkg.IsUniqueViolation(err, "ux_orders_checkout_session_key") {
			existing, findErr := s.repo.FindByCheckoutSessionKey(ctx, input.CheckoutSessionKey)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load existing order")
			}
			return existing, nil
		}
		if pkgerrors.HasCode(err, pkgerrors.CodeValidation) || pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	order.Items = items
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if err := authorizeRead(order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) ListForBuyer(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	list, err := s.repo.ListBuyerOrders(ctx, buyerID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list buyer orders")
	}
	return list, nil
}

func (s *service) ListForShop(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing")
	}
	list, err := s.repo.ListShopOrders(ctx, shopID, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shop orders")
	}
	return list, nil
}

// RecordDelivery moves a paid order into the buyer-confirmation window and
// arms the auto-confirm deadline.
func (s *service) RecordDelivery(ctx context.Context, input RecordDeliveryInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Payload == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery payload required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if input.Actor.ShopID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "shop context missing")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.SellerShopID != *input.Actor.ShopID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to shop")
		}
		if order.Status != enums.OrderStatusAwaitingDelivery {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery not allowed in current state")
		}

		now := s.now().UTC()
		deadline := now.Add(s.cfg.AutoConfirmGrace)
		ok, err := repo.GuardedUpdate(ctx, order.ID, Guard{
			Version: order.Version,
			Status:  enums.OrderStatusAwaitingDelivery,
		}, map[string]any{
			"status":           enums.OrderStatusAwaitingConfirmation,
			"delivery_payload": input.Payload,
			"delivered_at":     now,
			"auto_confirm_at":  deadline,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record delivery")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently")
		}

		order.Status = enums.OrderStatusAwaitingConfirmation
		order.DeliveryPayload = &input.Payload
		order.DeliveredAt = &now
		order.AutoConfirmAt = &deadline
		order.Version++
		updated = order

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.Actor.UserID, input.Actor.ShopID, input.Actor.Role),
			Data: payloads.OrderDeliveredEvent{
				OrderID:       order.ID,
				BuyerID:       order.BuyerID,
				SellerShopID:  order.SellerShopID,
				DeliveredAt:   now,
				AutoConfirmAt: deadline,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify.NotifyBuyer(ctx, updated.BuyerID, enums.NotificationOrderDelivered,
			"Order delivered", "Your order has been delivered and is ready to confirm.", &updated.ID)
	}
	return updated, nil
}

// ConfirmReceipt settles the order on buyer confirmation. Losing the race to
// the auto-confirm sweep is treated as already-satisfied.
func (s *service) ConfirmReceipt(ctx context.Context, input ConfirmReceiptInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var updated *models.Order
	var completedNow bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
		}
		if order.Status == enums.OrderStatusCompleted {
			updated = order
			return nil
		}
		if order.Status != enums.OrderStatusAwaitingConfirmation {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "confirmation not allowed in current state")
		}

		completed, err := s.completeTx(ctx, tx, order, false, input.Actor)
		if err != nil {
			return err
		}
		if !completed {
			// Someone else moved the order. Re-read: the sweep completing it
			// first satisfies the buyer's intent; a dispute does not.
			fresh, err := repo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			if fresh.Status == enums.OrderStatusCompleted {
				updated = fresh
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "confirmation not allowed in current state")
		}
		order.Status = enums.OrderStatusCompleted
		order.Version++
		updated = order
		completedNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completedNow && s.notify != nil {
		s.notify.NotifyShop(ctx, updated.SellerShopID, enums.NotificationOrderCompleted,
			"Order completed", "The buyer confirmed receipt; the funds join your next payout.", &updated.ID)
	}
	return updated, nil
}

// completeTx performs the guarded awaiting_confirmation -> completed write and
// the payout enqueue inside the caller's transaction. Returns false when the
// guard rejects the write.
func (s *service) completeTx(ctx context.Context, tx *gorm.DB, order *models.Order, autoConfirm bool, actor Actor) (bool, error) {
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	updates := map[string]any{
		"status":          enums.OrderStatusCompleted,
		"auto_confirm_at": nil,
	}
	if !autoConfirm {
		updates["buyer_confirmed_at"] = now
	}
	ok, err := repo.GuardedUpdate(ctx, order.ID, Guard{
		Version:          order.Version,
		Status:           enums.OrderStatusAwaitingConfirmation,
		RequireNoDispute: true,
	}, updates)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
	}
	if !ok {
		return false, nil
	}

	completed := *order
	completed.Status = enums.OrderStatusCompleted
	if err := s.payouts.EnqueueTx(ctx, tx, &completed); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue payout")
	}

	var actorRef *outbox.ActorRef
	if actor.UserID != uuid.Nil {
		actorRef = buildActor(actor.UserID, actor.ShopID, actor.Role)
	}
	err = s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCompleted,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         actorRef,
		Data: payloads.OrderCompletedEvent{
			OrderID:      order.ID,
			BuyerID:      order.BuyerID,
			SellerShopID: order.SellerShopID,
			SellerCents:  order.SellerCents,
			AutoConfirm:  autoConfirm,
			CompletedAt:  now,
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cancel voids an order that was never paid.
func (s *service) Cancel(ctx context.Context, input CancelOrderInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var updated *models.Order
	var cancelledNow bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != input.Actor.UserID && input.Actor.Role != enums.MemberRoleAdmin {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
		}
		if order.Status == enums.OrderStatusCancelled {
			updated = order
			return nil
		}
		if order.Status != enums.OrderStatusPaymentPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid orders can be cancelled")
		}

		ok, err := repo.GuardedUpdate(ctx, order.ID, Guard{
			Version: order.Version,
			Status:  enums.OrderStatusPaymentPending,
		}, map[string]any{
			"status": enums.OrderStatusCancelled,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently")
		}

		order.Status = enums.OrderStatusCancelled
		order.Version++
		updated = order
		cancelledNow = true

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         buildActor(input.Actor.UserID, input.Actor.ShopID, input.Actor.Role),
			Data: payloads.OrderCancelledEvent{
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				SellerShopID: order.SellerShopID,
				CancelledAt:  s.now().UTC(),
				Reason:       input.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if cancelledNow && s.notify != nil {
		s.notify.NotifyShop(ctx, updated.SellerShopID, enums.NotificationOrderCancelled,
			"Order cancelled", "The buyer cancelled the order before payment.", &updated.ID)
	}
	return updated, nil
}

// RunAutoConfirmSweep settles every delivered order whose confirmation window
// has lapsed. Per-order failures are logged and skipped; whoever wins a race
// on an individual order, the sweep result is the same.
func (s *service) RunAutoConfirmSweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDueForAutoConfirm(ctx, now, s.batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due orders")
	}

	confirmed := 0
	for i := range due {
		order := due[i]
		var won bool
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.completeTx(ctx, tx, &order, true, Actor{})
			if err != nil {
				return err
			}
			won = ok
			return nil
		})
		if err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, order.ID.String())
				s.logg.Warn(logCtx, fmt.Sprintf("auto-confirm skipped: %v", err))
			}
			continue
		}
		if !won {
			continue
		}
		confirmed++
		if s.notify != nil {
			s.notify.NotifyBuyer(ctx, order.BuyerID, enums.NotificationOrderCompleted,
				"Order auto-confirmed", "The confirmation window lapsed and the order completed automatically.", &order.ID)
			s.notify.NotifyShop(ctx, order.SellerShopID, enums.NotificationOrderCompleted,
				"Order completed", "The confirmation window lapsed; the funds join your next payout.", &order.ID)
		}
	}
	return confirmed, nil
}

func authorizeRead(order *models.Order, actor Actor) error {
	if actor.Role == enums.MemberRoleAdmin {
		return nil
	}
	if order.BuyerID == actor.UserID {
		return nil
	}
	if actor.ShopID != nil && order.SellerShopID == *actor.ShopID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "order not visible to caller")
}

func buildActor(userID uuid.UUID, shopID *uuid.UUID, role enums.MemberRole) *outbox.ActorRef {
	return &outbox.ActorRef{
		UserID: userID,
		ShopID: shopID,
		Role:   string(role),
	}
}
