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

// Guard expresses the optimistic-concurrency predicate for order updates.
// Every transition compares the version read at load time and the expected
// status; RequireNoDispute additionally demands dispute_id IS NULL.
type Guard struct {
	Version          int64
	Status           enums.OrderStatus
	RequireNoDispute bool
}

// Repository defines persistence operations for order tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateLineItems(ctx context.Context, items []models.OrderLineItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByCheckoutSessionKey(ctx context.Context, key string) (*models.Order, error)
	FindByExternalPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
	ListShopOrders(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error)
	ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
	ListPayoutCandidates(ctx context.Context, shopID uuid.UUID, limit int) ([]models.Order, error)
	GuardedUpdate(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error)
}
