package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByCheckoutSessionKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("checkout_session_key = ?", key).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByExternalPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("external_payment_ref = ?", ref).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("buyer_id = ?", buyerID)
	return r.list(ctx, query, params, filters)
}

func (r *repository) ListShopOrders(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("seller_shop_id = ?", shopID)
	return r.list(ctx, query, params, filters)
}

func (r *repository) list(ctx context.Context, query *gorm.DB, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.Order
	err = query.
		Preload("Items").
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	summaries := make([]OrderSummary, 0, len(rows))
	for _, row := range rows {
		totalItems := 0
		for _, item := range row.Items {
			totalItems += item.Qty
		}
		summaries = append(summaries, OrderSummary{
			ID:           row.ID,
			SellerShopID: row.SellerShopID,
			BuyerID:      row.BuyerID,
			Status:       row.Status,
			Currency:     row.Currency,
			TotalCents:   row.TotalCents,
			TotalItems:   totalItems,
			CreatedAt:    row.CreatedAt,
		})
	}
	return &OrderList{Orders: summaries, NextCursor: nextCursor}, nil
}

func (r *repository) ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusAwaitingConfirmation).
		Where("auto_confirm_at IS NOT NULL AND auto_confirm_at <= ?", cutoff).
		Where("dispute_id IS NULL").
		Order("auto_confirm_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListPayoutCandidates(ctx context.Context, shopID uuid.UUID, limit int) ([]models.Order, error) {
	var rows []models.Order
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.OrderStatusCompleted).
		Where("payout_id IS NULL")
	if shopID != uuid.Nil {
		query = query.Where("seller_shop_id = ?", shopID)
	}
	err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// GuardedUpdate performs a conditional UPDATE that only lands when the row
// still carries the expected version and status. The version bump rides on
// the same statement, so a stale writer always sees zero rows affected.
func (r *repository) GuardedUpdate(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["version"] = gorm.Expr("version + 1")

	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ? AND status = ?", id, guard.Version, guard.Status)
	if guard.RequireNoDispute {
		query = query.Where("dispute_id IS NULL")
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
