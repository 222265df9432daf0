package payouts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
)

// Repository defines persistence operations for payouts and their order
// membership. Membership lives on orders.payout_id and is set at most once.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.Payout) (*models.Payout, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	FindPendingBySeller(ctx context.Context, shopID uuid.UUID) (*models.Payout, error)
	FindPendingBySellerForUpdate(ctx context.Context, shopID uuid.UUID) (*models.Payout, error)
	ListByStatus(ctx context.Context, status enums.PayoutStatus, limit int) ([]models.Payout, error)
	ListForSeller(ctx context.Context, shopID uuid.UUID, limit int) ([]models.Payout, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) (*models.Payout, error)
	ClaimStatus(ctx context.Context, id uuid.UUID, from enums.PayoutStatus, updates map[string]any) (bool, error)
	AttachOrder(ctx context.Context, orderID, payoutID uuid.UUID) (bool, error)
	MemberOrders(ctx context.Context, payoutID uuid.UUID) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payout repository over the given connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payout *models.Payout) (*models.Payout, error) {
	if err := r.db.WithContext(ctx).Create(payout).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating payout")
	}
	return payout, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching payout")
	}
	return &payout, nil
}

func (r *repository) FindPendingBySeller(ctx context.Context, shopID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Where("seller_shop_id = ? AND status = ?", shopID, enums.PayoutStatusPending).
		Order("created_at ASC").
		First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending payout for seller")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching pending payout")
	}
	return &payout, nil
}

// FindPendingBySellerForUpdate locks the pending payout row so a concurrent
// claim to processing cannot interleave with an order being attached. Call it
// inside a transaction.
func (r *repository) FindPendingBySellerForUpdate(ctx context.Context, shopID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("seller_shop_id = ? AND status = ?", shopID, enums.PayoutStatusPending).
		Order("created_at ASC").
		First(&payout).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending payout for seller")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "locking pending payout")
	}
	return &payout, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.PayoutStatus, limit int) ([]models.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payouts")
	}
	return payouts, nil
}

func (r *repository) ListForSeller(ctx context.Context, shopID uuid.UUID, limit int) ([]models.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("seller_shop_id = ?", shopID).
		Order("created_at DESC").
		Limit(limit).
		Find(&payouts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing seller payouts")
	}
	return payouts, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) (*models.Payout, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "updating payout")
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
	}
	return r.FindByID(ctx, id)
}

// ClaimStatus is a conditional status transition. It reports false when the
// payout was not in the expected state, so concurrent sweeps cannot both
// claim the same payout.
func (r *repository) ClaimStatus(ctx context.Context, id uuid.UUID, from enums.PayoutStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "claiming payout")
	}
	return result.RowsAffected > 0, nil
}

// AttachOrder stamps payout_id on a completed order. The write is conditional
// on payout_id being unset, which makes enqueue idempotent per order.
func (r *repository) AttachOrder(ctx context.Context, orderID, payoutID uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND payout_id IS NULL", orderID, enums.OrderStatusCompleted).
		Update("payout_id", payoutID)
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "attaching order to payout")
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MemberOrders(ctx context.Context, payoutID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("created_at ASC").
		Find(&orders).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payout orders")
	}
	return orders, nil
}
