package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
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

type shopDirectory interface {
	GetShopPayoutDestination(ctx context.Context, shopID uuid.UUID) (string, error)
}

type notifier interface {
	NotifyShop(ctx context.Context, shopID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID)
}

// Service batches completed orders into seller payouts and settles them
// against the payment gateway. It implements orders.PayoutEnqueuer.
type Service interface {
	EnqueueTx(ctx context.Context, tx *gorm.DB, order *models.Order) error
	Enqueue(ctx context.Context, orderID uuid.UUID) error
	Process(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	Get(ctx context.Context, payoutID uuid.UUID, actor Actor) (*PayoutDetail, error)
	GetSellerPayouts(ctx context.Context, shopID uuid.UUID, actor Actor, limit int) ([]models.Payout, error)
	RunPayoutSweep(ctx context.Context) (SweepResult, error)
	RunReconcileSweep(ctx context.Context) (int, error)
}

type service struct {
	repo    Repository
	orders  orders.Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway gateway.Gateway
	reviews reviewRecorder
	shops   shopDirectory
	notify  notifier
	gw      config.GatewayConfig
	batch   int
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a payout service with the required dependencies. The
// notifier may be nil; notification fan-out is then skipped.
func NewService(
	repo Repository,
	orderRepo orders.Repository,
	tx txRunner,
	publisher outboxPublisher,
	gw gateway.Gateway,
	reviews reviewRecorder,
	shops shopDirectory,
	notify notifier,
	gwCfg config.GatewayConfig,
	sweep config.SweepConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payout repository required")
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
	if shops == nil {
		return nil, fmt.Errorf("shop directory required")
	}
	batch := sweep.BatchSize
	if batch <= 0 {
		batch = 200
	}
	return &service{
		repo:    repo,
		orders:  orderRepo,
		tx:      tx,
		outbox:  publisher,
		gateway: gw,
		reviews: reviews,
		shops:   shops,
		notify:  notify,
		gw:      gwCfg,
		batch:   batch,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// EnqueueTx adds a completed order to its seller's pending payout, creating
// one if none exists. The pending payout row is locked so a concurrent claim
// to processing cannot snapshot membership while an order is being attached.
func (s *service) EnqueueTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.Status != enums.OrderStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeInvariant, "only completed orders are paid out")
	}

	repo := s.repo.WithTx(tx)
	payout, err := repo.FindPendingBySellerForUpdate(ctx, order.SellerShopID)
	if err != nil {
		if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return err
		}
		payout, err = repo.Create(ctx, &models.Payout{
			SellerShopID: order.SellerShopID,
			Status:       enums.PayoutStatusPending,
		})
		if err != nil {
			return err
		}
	}

	attached, err := repo.AttachOrder(ctx, order.ID, payout.ID)
	if err != nil {
		return err
	}
	if !attached {
		// Already part of a payout. Enqueue is idempotent per order.
		return nil
	}
	_, err = repo.Update(ctx, payout.ID, map[string]any{
		"amount_cents": gorm.Expr("amount_cents + ?", order.SellerCents),
	})
	return err
}

func (s *service) Enqueue(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.EnqueueTx(ctx, tx, order)
	})
}

// Process claims a pending or retry-eligible payout and settles it. Claiming
// is conditional on the current status, so two sweeps racing on the same
// payout produce exactly one transfer attempt.
func (s *service) Process(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	claim := map[string]any{
		"status":        enums.PayoutStatusProcessing,
		"processing_at": s.now().UTC(),
		"last_error":    nil,
	}
	claimed, err := s.repo.ClaimStatus(ctx, payoutID, enums.PayoutStatusPending, claim)
	if err != nil {
		return nil, err
	}
	if !claimed {
		claimed, err = s.repo.ClaimStatus(ctx, payoutID, enums.PayoutStatusFailed, claim)
		if err != nil {
			return nil, err
		}
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payout is not eligible for processing")
	}

	payout.Status = enums.PayoutStatusProcessing
	return s.settle(ctx, payout)
}

// settle computes the transfer total from the member orders at call time and
// issues the transfer. The idempotency key derives from the payout id, so a
// repeated attempt after a lost response lands in the gateway's dedupe window.
func (s *service) settle(ctx context.Context, payout *models.Payout) (*models.Payout, error) {
	members, err := s.repo.MemberOrders(ctx, payout.ID)
	if err != nil {
		return nil, err
	}

	var total int64
	currency := enums.CurrencyUSD
	for i := range members {
		total += members[i].SellerCents
		currency = members[i].Currency
	}
	if total <= 0 {
		return s.finalize(ctx, payout, total, len(members), "")
	}

	destination, err := s.shops.GetShopPayoutDestination(ctx, payout.SellerShopID)
	if err != nil {
		return s.parkForManualTransfer(ctx, payout, total, fmt.Sprintf("resolving payout destination: %v", err))
	}

	result, err := s.gateway.Transfer(ctx, gateway.TransferRequest{
		PayoutID:    payout.ID,
		Destination: destination,
		AmountCents: total,
		Currency:    currency,
	})
	switch {
	case err == nil:
		return s.finalize(ctx, payout, total, len(members), result.Reference)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// The gateway may have accepted the transfer server-side. Leave the
		// payout processing; the reconcile sweep checks before re-issuing.
		if _, updErr := s.repo.Update(ctx, payout.ID, map[string]any{
			"last_error": fmt.Sprintf("transfer timed out: %v", err),
		}); updErr != nil {
			s.logg.Error(ctx, "recording transfer timeout", updErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfer timed out, awaiting reconciliation")
	case gateway.IsTransient(err):
		if _, updErr := s.repo.Update(ctx, payout.ID, map[string]any{
			"status":     enums.PayoutStatusFailed,
			"last_error": err.Error(),
		}); updErr != nil {
			s.logg.Error(ctx, "recording transfer failure", updErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfer failed, payout eligible for retry")
	default:
		return s.parkForManualTransfer(ctx, payout, total, err.Error())
	}
}

func (s *service) finalize(ctx context.Context, payout *models.Payout, total int64, orderCount int, transferRef string) (*models.Payout, error) {
	var updated *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":       enums.PayoutStatusCompleted,
			"amount_cents": total,
			"completed_at": s.now().UTC(),
			"last_error":   nil,
		}
		if transferRef != "" {
			updates["external_transfer_ref"] = transferRef
		}
		var txErr error
		updated, txErr = s.repo.WithTx(tx).Update(ctx, payout.ID, updates)
		if txErr != nil {
			return txErr
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutCompleted,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Version:       1,
			Data: payloads.PayoutCompletedEvent{
				PayoutID:            payout.ID,
				SellerShopID:        payout.SellerShopID,
				AmountCents:         total,
				ExternalTransferRef: transferRef,
				OrderCount:          orderCount,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payout_id":    payout.ID.String(),
		"amount_cents": total,
		"order_count":  orderCount,
	})
	s.logg.Info(logCtx, "payout completed")
	if s.notify != nil {
		s.notify.NotifyShop(ctx, payout.SellerShopID, enums.NotificationPayoutCompleted,
			"Payout completed", fmt.Sprintf("A payout of %d cents was transferred to your account.", total), nil)
	}
	return updated, nil
}

// parkForManualTransfer takes the payout out of the automated path after a
// permanent gateway failure and puts it in front of an operator.
func (s *service) parkForManualTransfer(ctx context.Context, payout *models.Payout, total int64, reason string) (*models.Payout, error) {
	var updated *models.Payout
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		updated, txErr = s.repo.WithTx(tx).Update(ctx, payout.ID, map[string]any{
			"status":     enums.PayoutStatusPendingManualTransfer,
			"last_error": reason,
		})
		if txErr != nil {
			return txErr
		}
		if txErr = s.reviews.CreateTx(ctx, tx, models.ReviewTask{
			Kind:     enums.ReviewTaskKindManualTransfer,
			PayoutID: &payout.ID,
			Detail:   fmt.Sprintf("transfer of %d cents requires manual handling: %s", total, reason),
		}); txErr != nil {
			return txErr
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutFailed,
			AggregateType: enums.AggregatePayout,
			AggregateID:   payout.ID,
			Version:       1,
			Data: payloads.PayoutFailedEvent{
				PayoutID:     payout.ID,
				SellerShopID: payout.SellerShopID,
				AmountCents:  total,
				Reason:       reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithField(ctx, "payout_id", payout.ID.String())
	s.logg.Warn(logCtx, fmt.Sprintf("payout parked for manual transfer: %s", reason))
	if s.notify != nil {
		s.notify.NotifyShop(ctx, payout.SellerShopID, enums.NotificationPayoutFailed,
			"Payout needs attention", "An automatic transfer failed; the payout is being handled manually.", nil)
	}
	return updated, pkgerrors.New(pkgerrors.CodeDependency, "transfer failed permanently, payout requires manual handling")
}

func (s *service) Get(ctx context.Context, payoutID uuid.UUID, actor Actor) (*PayoutDetail, error) {
	payout, err := s.repo.FindByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if err := authorizePayoutRead(payout.SellerShopID, actor); err != nil {
		return nil, err
	}
	members, err := s.repo.MemberOrders(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	return &PayoutDetail{Payout: *payout, Orders: members}, nil
}

func (s *service) GetSellerPayouts(ctx context.Context, shopID uuid.UUID, actor Actor, limit int) ([]models.Payout, error) {
	if err := authorizePayoutRead(shopID, actor); err != nil {
		return nil, err
	}
	return s.repo.ListForSeller(ctx, shopID, limit)
}

// RunPayoutSweep groups unattached completed orders into pending payouts,
// then settles every pending payout. Individual failures are logged and
// skipped so one seller cannot stall the cycle.
func (s *service) RunPayoutSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	candidates, err := s.orders.ListPayoutCandidates(ctx, uuid.Nil, s.batch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing payout candidates")
	}
	for i := range candidates {
		order := candidates[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.EnqueueTx(ctx, tx, &order)
		})
		if err != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Warn(logCtx, fmt.Sprintf("payout enqueue skipped: %v", err))
			continue
		}
		result.Enqueued++
	}

	pending, err := s.repo.ListByStatus(ctx, enums.PayoutStatusPending, s.batch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing pending payouts")
	}
	for i := range pending {
		if _, err := s.Process(ctx, pending[i].ID); err != nil {
			logCtx := s.logg.WithField(ctx, "payout_id", pending[i].ID.String())
			s.logg.Warn(logCtx, fmt.Sprintf("payout processing skipped: %v", err))
			continue
		}
		result.Processed++
	}
	return result, nil
}

// RunReconcileSweep revisits payouts stuck in processing. A recorded transfer
// reference is checked against the gateway; a missing one means the response
// was lost, so the transfer is re-issued under the original idempotency key
// and the gateway's dedupe returns the first attempt if it landed.
func (s *service) RunReconcileSweep(ctx context.Context) (int, error) {
	stuck, err := s.repo.ListByStatus(ctx, enums.PayoutStatusProcessing, s.batch)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing processing payouts")
	}

	grace := s.gw.TransferTimeout
	if grace <= 0 {
		grace = 30 * time.Second
	}
	cutoff := s.now().UTC().Add(-2 * grace)

	resolved := 0
	for i := range stuck {
		payout := stuck[i]
		if payout.ProcessingAt != nil && payout.ProcessingAt.After(cutoff) {
			continue
		}
		if err := s.reconcile(ctx, &payout); err != nil {
			logCtx := s.logg.WithField(ctx, "payout_id", payout.ID.String())
			s.logg.Warn(logCtx, fmt.Sprintf("payout reconciliation skipped: %v", err))
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *service) reconcile(ctx context.Context, payout *models.Payout) error {
	if payout.ExternalTransferRef == nil {
		_, err := s.settle(ctx, payout)
		return err
	}

	status, err := s.gateway.GetTransfer(ctx, *payout.ExternalTransferRef)
	if err != nil {
		return err
	}
	switch status {
	case gateway.TransferStatusSucceeded:
		members, err := s.repo.MemberOrders(ctx, payout.ID)
		if err != nil {
			return err
		}
		var total int64
		for i := range members {
			total += members[i].SellerCents
		}
		_, err = s.finalize(ctx, payout, total, len(members), *payout.ExternalTransferRef)
		return err
	case gateway.TransferStatusFailed:
		_, err := s.repo.Update(ctx, payout.ID, map[string]any{
			"status":     enums.PayoutStatusFailed,
			"last_error": "gateway reports transfer failed",
		})
		return err
	case gateway.TransferStatusUnknown:
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if _, txErr := s.repo.WithTx(tx).Update(ctx, payout.ID, map[string]any{
				"status":     enums.PayoutStatusPendingManualTransfer,
				"last_error": "gateway does not recognize the recorded transfer reference",
			}); txErr != nil {
				return txErr
			}
			return s.reviews.CreateTx(ctx, tx, models.ReviewTask{
				Kind:        enums.ReviewTaskKindTransferUnknown,
				PayoutID:    &payout.ID,
				ExternalRef: payout.ExternalTransferRef,
				Detail:      "recorded transfer reference is unknown to the gateway",
			})
		})
	default:
		// Still pending gateway-side. Check again next sweep.
		return nil
	}
}

func authorizePayoutRead(shopID uuid.UUID, actor Actor) error {
	if actor.Role == enums.MemberRoleAdmin {
		return nil
	}
	if actor.ShopID != nil && *actor.ShopID == shopID {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "payouts belong to another shop")
}
