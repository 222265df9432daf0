package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type stubOrdersRepo struct {
	order          *models.Order
	createErr      error
	findBySession  *models.Order
	guardOK        bool
	guardErr       error
	guardUpdates   map[string]any
	guardCalls     int
	dueOrders      []models.Order
	reloaded       *models.Order
	createdItems   []models.OrderLineItem
	listBuyerCalls int
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	order.Version = 1
	return order, nil
}

func (s *stubOrdersRepo) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	s.createdItems = append(s.createdItems, items...)
	return nil
}

func (s *stubOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.guardCalls > 0 && s.reloaded != nil {
		return s.reloaded, nil
	}
	if s.order == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.order
	return &copied, nil
}

func (s *stubOrdersRepo) FindByCheckoutSessionKey(ctx context.Context, key string) (*models.Order, error) {
	if s.findBySession == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.findBySession, nil
}

func (s *stubOrdersRepo) FindByExternalPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	s.listBuyerCalls++
	return &OrderList{}, nil
}

func (s *stubOrdersRepo) ListShopOrders(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	return &OrderList{}, nil
}

func (s *stubOrdersRepo) ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.dueOrders, nil
}

func (s *stubOrdersRepo) ListPayoutCandidates(ctx context.Context, shopID uuid.UUID, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *stubOrdersRepo) GuardedUpdate(ctx context.Context, id uuid.UUID, guard Guard, updates map[string]any) (bool, error) {
	s.guardCalls++
	s.guardUpdates = updates
	if s.guardErr != nil {
		return false, s.guardErr
	}
	return s.guardOK, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type recordingEnqueuer struct {
	orders []uuid.UUID
	err    error
}

func (r *recordingEnqueuer) EnqueueTx(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if r.err != nil {
		return r.err
	}
	r.orders = append(r.orders, order.ID)
	return nil
}

func newTestOrderService(t *testing.T, repo *stubOrdersRepo, box *recordingOutbox, enq *recordingEnqueuer) *service {
	t.Helper()
	svc, err := NewService(repo, stubTxRunner{}, box, enq, nil, config.EscrowConfig{
		AutoConfirmGrace: 72 * time.Hour,
		PlatformFeeBps:   1000,
	}, config.SweepConfig{BatchSize: 50}, nil)
	require.NoError(t, err)
	return svc.(*service)
}

func awaitingConfirmationOrder() *models.Order {
	delivered := time.Now().UTC().Add(-80 * time.Hour)
	deadline := delivered.Add(72 * time.Hour)
	return &models.Order{
		ID:               uuid.New(),
		BuyerID:          uuid.New(),
		SellerShopID:     uuid.New(),
		Currency:         enums.CurrencyUSD,
		Status:           enums.OrderStatusAwaitingConfirmation,
		TotalCents:       10000,
		PlatformFeeCents: 1000,
		SellerCents:      9000,
		DeliveredAt:      &delivered,
		AutoConfirmAt:    &deadline,
		Version:          3,
	}
}

func TestCreateOrderComputesFeeSplit(t *testing.T) {
	repo := &stubOrdersRepo{}
	box := &recordingOutbox{}
	svc := newTestOrderService(t, repo, box, &recordingEnqueuer{})

	order, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:            uuid.New(),
		SellerShopID:       uuid.New(),
		Currency:           enums.CurrencyUSD,
		CheckoutSessionKey: "cs_test_123456",
		Items: []LineItemInput{
			{ProductID: uuid.New(), Name: "License Key", Qty: 3, UnitPriceCents: 2500},
			{ProductID: uuid.New(), Name: "Addon", Qty: 1, UnitPriceCents: 499},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7999), order.TotalCents)
	assert.Equal(t, int64(799), order.PlatformFeeCents)
	assert.Equal(t, int64(7200), order.SellerCents)
	assert.Equal(t, enums.OrderStatusPaymentPending, order.Status)
	assert.Len(t, repo.createdItems, 2)
	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventOrderCreated, box.events[0].EventType)
}

func TestCreateOrderReplaysCheckoutSession(t *testing.T) {
	existing := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{
		createErr:     errors.New(`duplicate key value violates unique constraint "ux_orders_checkout_session_key"`),
		findBySession: existing,
	}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, &recordingEnqueuer{})

	order, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:            uuid.New(),
		SellerShopID:       uuid.New(),
		Currency:           enums.CurrencyUSD,
		CheckoutSessionKey: "cs_replayed",
		Items:              []LineItemInput{{ProductID: uuid.New(), Name: "Key", Qty: 1, UnitPriceCents: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, order.ID)
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	svc := newTestOrderService(t, &stubOrdersRepo{}, &recordingOutbox{}, &recordingEnqueuer{})

	_, err := svc.Create(context.Background(), CreateOrderInput{
		BuyerID:            uuid.New(),
		SellerShopID:       uuid.New(),
		Currency:           enums.Currency("GBP"),
		CheckoutSessionKey: "cs_x",
		Items:              []LineItemInput{{ProductID: uuid.New(), Name: "Key", Qty: 1, UnitPriceCents: 100}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Create(context.Background(), CreateOrderInput{
		BuyerID:            uuid.New(),
		SellerShopID:       uuid.New(),
		Currency:           enums.CurrencyUSD,
		CheckoutSessionKey: "cs_y",
		Items:              []LineItemInput{{ProductID: uuid.New(), Name: "Key", Qty: 0, UnitPriceCents: 100}},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRecordDeliveryArmsDeadline(t *testing.T) {
	shopID := uuid.New()
	order := &models.Order{
		ID:           uuid.New(),
		BuyerID:      uuid.New(),
		SellerShopID: shopID,
		Status:       enums.OrderStatusAwaitingDelivery,
		Version:      2,
	}
	repo := &stubOrdersRepo{order: order, guardOK: true}
	box := &recordingOutbox{}
	svc := newTestOrderService(t, repo, box, &recordingEnqueuer{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	updated, err := svc.RecordDelivery(context.Background(), RecordDeliveryInput{
		OrderID: order.ID,
		Payload: "license-ABC",
		Actor:   Actor{UserID: uuid.New(), ShopID: &shopID, Role: enums.MemberRoleSeller},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusAwaitingConfirmation, updated.Status)
	require.NotNil(t, updated.AutoConfirmAt)
	assert.Equal(t, base.Add(72*time.Hour), *updated.AutoConfirmAt)
	assert.Equal(t, int64(3), updated.Version)
	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventOrderDelivered, box.events[0].EventType)
}

func TestRecordDeliveryAfterRedeliverRestartsCycle(t *testing.T) {
	shopID := uuid.New()
	firstDelivery := time.Now().UTC().Add(-48 * time.Hour)
	payload := "license-OLD"
	order := &models.Order{
		ID:              uuid.New(),
		BuyerID:         uuid.New(),
		SellerShopID:    shopID,
		Status:          enums.OrderStatusAwaitingDelivery,
		DeliveryPayload: &payload,
		DeliveredAt:     &firstDelivery,
		Version:         5,
	}
	repo := &stubOrdersRepo{order: order, guardOK: true}
	box := &recordingOutbox{}
	svc := newTestOrderService(t, repo, box, &recordingEnqueuer{})

	updated, err := svc.RecordDelivery(context.Background(), RecordDeliveryInput{
		OrderID: order.ID,
		Payload: "license-NEW",
		Actor:   Actor{UserID: uuid.New(), ShopID: &shopID, Role: enums.MemberRoleSeller},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusAwaitingConfirmation, updated.Status)
	assert.Equal(t, "license-NEW", *updated.DeliveryPayload)
	require.NotNil(t, updated.DeliveredAt)
	assert.True(t, updated.DeliveredAt.After(firstDelivery))
	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventOrderDelivered, box.events[0].EventType)
}

func TestRecordDeliveryRejectsForeignShop(t *testing.T) {
	order := &models.Order{
		ID:           uuid.New(),
		SellerShopID: uuid.New(),
		Status:       enums.OrderStatusAwaitingDelivery,
		Version:      1,
	}
	repo := &stubOrdersRepo{order: order, guardOK: true}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, &recordingEnqueuer{})

	otherShop := uuid.New()
	_, err := svc.RecordDelivery(context.Background(), RecordDeliveryInput{
		OrderID: order.ID,
		Payload: "license-ABC",
		Actor:   Actor{UserID: uuid.New(), ShopID: &otherShop, Role: enums.MemberRoleSeller},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
	assert.Zero(t, repo.guardCalls)
}

func TestConfirmReceiptCompletesAndEnqueuesPayout(t *testing.T) {
	order := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{order: order, guardOK: true}
	box := &recordingOutbox{}
	enq := &recordingEnqueuer{}
	svc := newTestOrderService(t, repo, box, enq)

	updated, err := svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusCompleted, updated.Status)
	assert.Equal(t, []uuid.UUID{order.ID}, enq.orders)
	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventOrderCompleted, box.events[0].EventType)
	assert.Nil(t, repo.guardUpdates["auto_confirm_at"])
	assert.NotNil(t, repo.guardUpdates["buyer_confirmed_at"])
}

func TestConfirmReceiptIdempotentWhenSweepWon(t *testing.T) {
	order := awaitingConfirmationOrder()
	completed := *order
	completed.Status = enums.OrderStatusCompleted
	repo := &stubOrdersRepo{order: order, guardOK: false, reloaded: &completed}
	enq := &recordingEnqueuer{}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, enq)

	updated, err := svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, updated.Status)
	assert.Empty(t, enq.orders)
}

func TestConfirmReceiptRejectedWhenDisputeWon(t *testing.T) {
	order := awaitingConfirmationOrder()
	disputed := *order
	disputed.Status = enums.OrderStatusDisputed
	repo := &stubOrdersRepo{order: order, guardOK: false, reloaded: &disputed}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, &recordingEnqueuer{})

	_, err := svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestConfirmReceiptRejectsForeignBuyer(t *testing.T) {
	order := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{order: order, guardOK: true}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, &recordingEnqueuer{})

	_, err := svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: uuid.New(), Role: enums.MemberRoleBuyer},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

func TestCancelOnlyBeforePayment(t *testing.T) {
	order := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{order: order, guardOK: true}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, &recordingEnqueuer{})

	_, err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestCancelUnpaidOrder(t *testing.T) {
	order := &models.Order{
		ID:      uuid.New(),
		BuyerID: uuid.New(),
		Status:  enums.OrderStatusPaymentPending,
		Version: 1,
	}
	repo := &stubOrdersRepo{order: order, guardOK: true}
	box := &recordingOutbox{}
	svc := newTestOrderService(t, repo, box, &recordingEnqueuer{})

	updated, err := svc.Cancel(context.Background(), CancelOrderInput{
		OrderID: order.ID,
		Reason:  "changed my mind",
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, updated.Status)
	require.Len(t, box.events, 1)
	assert.Equal(t, enums.EventOrderCancelled, box.events[0].EventType)
}

func TestRunAutoConfirmSweepCompletesDueOrders(t *testing.T) {
	first := awaitingConfirmationOrder()
	second := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{dueOrders: []models.Order{*first, *second}, guardOK: true}
	enq := &recordingEnqueuer{}
	box := &recordingOutbox{}
	svc := newTestOrderService(t, repo, box, enq)

	confirmed, err := svc.RunAutoConfirmSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, confirmed)
	assert.Len(t, enq.orders, 2)
	// Sweep completions carry no buyer_confirmed_at timestamp.
	assert.NotContains(t, repo.guardUpdates, "buyer_confirmed_at")
}

func TestRunAutoConfirmSweepSkipsGuardLosers(t *testing.T) {
	order := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{dueOrders: []models.Order{*order}, guardOK: false}
	svc := newTestOrderService(t, repo, &recordingOutbox{}, &recordingEnqueuer{})

	confirmed, err := svc.RunAutoConfirmSweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, confirmed)
}

type recordingNotifier struct {
	buyerKinds []enums.NotificationKind
	shopKinds  []enums.NotificationKind
}

func (r *recordingNotifier) NotifyBuyer(ctx context.Context, buyerID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID) {
	r.buyerKinds = append(r.buyerKinds, kind)
}

func (r *recordingNotifier) NotifyShop(ctx context.Context, shopID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID) {
	r.shopKinds = append(r.shopKinds, kind)
}

func newNotifyingOrderService(t *testing.T, repo *stubOrdersRepo) (*service, *recordingNotifier) {
	t.Helper()
	notes := &recordingNotifier{}
	svc, err := NewService(repo, stubTxRunner{}, &recordingOutbox{}, &recordingEnqueuer{}, notes, config.EscrowConfig{
		AutoConfirmGrace: 72 * time.Hour,
		PlatformFeeBps:   1000,
	}, config.SweepConfig{BatchSize: 50}, nil)
	require.NoError(t, err)
	return svc.(*service), notes
}

func TestRecordDeliveryNotifiesBuyer(t *testing.T) {
	shopID := uuid.New()
	order := &models.Order{
		ID:           uuid.New(),
		BuyerID:      uuid.New(),
		SellerShopID: shopID,
		Status:       enums.OrderStatusAwaitingDelivery,
		Version:      2,
	}
	repo := &stubOrdersRepo{order: order, guardOK: true}
	svc, notes := newNotifyingOrderService(t, repo)

	_, err := svc.RecordDelivery(context.Background(), RecordDeliveryInput{
		OrderID: order.ID,
		Payload: "license-ABC",
		Actor:   Actor{UserID: uuid.New(), ShopID: &shopID, Role: enums.MemberRoleSeller},
	})
	require.NoError(t, err)
	assert.Equal(t, []enums.NotificationKind{enums.NotificationOrderDelivered}, notes.buyerKinds)
	assert.Empty(t, notes.shopKinds)
}

func TestConfirmReceiptNotifiesShop(t *testing.T) {
	order := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{order: order, guardOK: true}
	svc, notes := newNotifyingOrderService(t, repo)

	_, err := svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	require.NoError(t, err)
	assert.Equal(t, []enums.NotificationKind{enums.NotificationOrderCompleted}, notes.shopKinds)
	assert.Empty(t, notes.buyerKinds)
}

func TestConfirmReceiptSweepWonSkipsNotification(t *testing.T) {
	order := awaitingConfirmationOrder()
	completed := *order
	completed.Status = enums.OrderStatusCompleted
	repo := &stubOrdersRepo{order: order, guardOK: false, reloaded: &completed}
	svc, notes := newNotifyingOrderService(t, repo)

	_, err := svc.ConfirmReceipt(context.Background(), ConfirmReceiptInput{
		OrderID: order.ID,
		Actor:   Actor{UserID: order.BuyerID, Role: enums.MemberRoleBuyer},
	})
	require.NoError(t, err)
	assert.Empty(t, notes.shopKinds)
}

func TestRunAutoConfirmSweepNotifiesBothParties(t *testing.T) {
	order := awaitingConfirmationOrder()
	repo := &stubOrdersRepo{dueOrders: []models.Order{*order}, guardOK: true}
	svc, notes := newNotifyingOrderService(t, repo)

	confirmed, err := svc.RunAutoConfirmSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, []enums.NotificationKind{enums.NotificationOrderCompleted}, notes.buyerKinds)
	assert.Equal(t, []enums.NotificationKind{enums.NotificationOrderCompleted}, notes.shopKinds)
}

func TestSplitFee(t *testing.T) {
	fee, seller := SplitFee(10000, 1000)
	assert.Equal(t, int64(1000), fee)
	assert.Equal(t, int64(9000), seller)

	fee, seller = SplitFee(99, 1000)
	assert.Equal(t, int64(9), fee)
	assert.Equal(t, int64(90), seller)

	fee, seller = SplitFee(1, 1000)
	assert.Equal(t, int64(0), fee)
	assert.Equal(t, int64(1), seller)
}
