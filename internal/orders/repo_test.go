package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ordersTable := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  seller_shop_id TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'payment_pending',
  total_cents INTEGER NOT NULL,
  platform_fee_cents INTEGER NOT NULL,
  seller_cents INTEGER NOT NULL,
  checkout_session_key TEXT NOT NULL UNIQUE,
  external_payment_ref TEXT,
  delivery_payload TEXT,
  delivered_at DATETIME,
  auto_confirm_at DATETIME,
  buyer_confirmed_at DATETIME,
  dispute_id TEXT,
  payout_id TEXT,
  version INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	lineItemsTable := `
CREATE TABLE IF NOT EXISTS order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  created_at DATETIME
);`
	// Same partial unique index the production schema carries.
	refIndex := `
CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_external_payment_ref
  ON orders (external_payment_ref) WHERE external_payment_ref IS NOT NULL;`
	require.NoError(t, db.Exec(ordersTable).Error)
	require.NoError(t, db.Exec(lineItemsTable).Error)
	require.NoError(t, db.Exec(refIndex).Error)
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, mutate func(*models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:                 uuid.New(),
		BuyerID:            uuid.New(),
		SellerShopID:       uuid.New(),
		Currency:           enums.CurrencyUSD,
		Status:             enums.OrderStatusAwaitingConfirmation,
		TotalCents:         5000,
		PlatformFeeCents:   500,
		SellerCents:        4500,
		CheckoutSessionKey: "cs_" + uuid.NewString(),
		Version:            1,
	}
	if mutate != nil {
		mutate(order)
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestGuardedUpdateVersionGuard(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, nil)

	ok, err := repo.GuardedUpdate(ctx, order.ID, Guard{Version: 99, Status: enums.OrderStatusAwaitingConfirmation}, map[string]any{
		"status": enums.OrderStatusCompleted,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.GuardedUpdate(ctx, order.ID, Guard{Version: 1, Status: enums.OrderStatusAwaitingConfirmation}, map[string]any{
		"status": enums.OrderStatusCompleted,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	fresh, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, fresh.Status)
	assert.Equal(t, int64(2), fresh.Version)

	// The stale writer now misses on both version and status.
	ok, err = repo.GuardedUpdate(ctx, order.ID, Guard{Version: 1, Status: enums.OrderStatusAwaitingConfirmation}, map[string]any{
		"status": enums.OrderStatusCompleted,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardedUpdateRequireNoDispute(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	disputeID := uuid.New()
	order := seedOrder(t, db, func(o *models.Order) {
		o.DisputeID = &disputeID
	})

	ok, err := repo.GuardedUpdate(ctx, order.ID, Guard{
		Version:          1,
		Status:           enums.OrderStatusAwaitingConfirmation,
		RequireNoDispute: true,
	}, map[string]any{"status": enums.OrderStatusCompleted})
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusAwaitingConfirmation, fresh.Status)
}

func TestGuardedUpdateDuplicatePaymentRef(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	ref := "pi_shared"
	seedOrder(t, db, func(o *models.Order) {
		o.Status = enums.OrderStatusAwaitingDelivery
		o.ExternalPaymentRef = &ref
	})
	other := seedOrder(t, db, func(o *models.Order) {
		o.Status = enums.OrderStatusPaymentPending
	})

	_, err := repo.GuardedUpdate(ctx, other.ID, Guard{Version: 1, Status: enums.OrderStatusPaymentPending}, map[string]any{
		"status":               enums.OrderStatusAwaitingDelivery,
		"external_payment_ref": ref,
	})
	require.Error(t, err)
	assert.True(t, dbpkg.IsUniqueViolation(err, "ux_orders_external_payment_ref"))
}

func TestListDueForAutoConfirm(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	due := seedOrder(t, db, func(o *models.Order) { o.AutoConfirmAt = &past })
	seedOrder(t, db, func(o *models.Order) { o.AutoConfirmAt = &future })
	disputeID := uuid.New()
	seedOrder(t, db, func(o *models.Order) {
		o.AutoConfirmAt = &past
		o.DisputeID = &disputeID
	})
	seedOrder(t, db, func(o *models.Order) {
		o.Status = enums.OrderStatusCompleted
		o.AutoConfirmAt = &past
	})

	rows, err := repo.ListDueForAutoConfirm(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)
}

func TestListPayoutCandidates(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	shopID := uuid.New()
	completed := seedOrder(t, db, func(o *models.Order) {
		o.SellerShopID = shopID
		o.Status = enums.OrderStatusCompleted
	})
	payoutID := uuid.New()
	seedOrder(t, db, func(o *models.Order) {
		o.SellerShopID = shopID
		o.Status = enums.OrderStatusCompleted
		o.PayoutID = &payoutID
	})
	seedOrder(t, db, func(o *models.Order) { o.SellerShopID = shopID })

	rows, err := repo.ListPayoutCandidates(ctx, shopID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, completed.ID, rows[0].ID)

	// uuid.Nil scans all shops.
	rows, err = repo.ListPayoutCandidates(ctx, uuid.Nil, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFindByCheckoutSessionKey(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := seedOrder(t, db, func(o *models.Order) {
		o.CheckoutSessionKey = "cs_fixed_key"
	})

	found, err := repo.FindByCheckoutSessionKey(ctx, "cs_fixed_key")
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)

	_, err = repo.FindByCheckoutSessionKey(ctx, "cs_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListBuyerOrdersPaginates(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	buyerID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		seedOrder(t, db, func(o *models.Order) {
			o.BuyerID = buyerID
			o.CreatedAt = created
		})
	}

	page, err := repo.ListBuyerOrders(ctx, buyerID, pagination.Params{Limit: 2}, OrderFilters{})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := repo.ListBuyerOrders(ctx, buyerID, pagination.Params{Limit: 2, Cursor: page.NextCursor}, OrderFilters{})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Empty(t, rest.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, summary := range append(page.Orders, rest.Orders...) {
		assert.False(t, seen[summary.ID])
		seen[summary.ID] = true
	}
}

func TestListBuyerOrdersStatusFilter(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	buyerID := uuid.New()
	seedOrder(t, db, func(o *models.Order) { o.BuyerID = buyerID })
	completed := seedOrder(t, db, func(o *models.Order) {
		o.BuyerID = buyerID
		o.Status = enums.OrderStatusCompleted
	})

	status := enums.OrderStatusCompleted
	page, err := repo.ListBuyerOrders(ctx, buyerID, pagination.Params{Limit: 10}, OrderFilters{Status: &status})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, completed.ID, page.Orders[0].ID)
}
