package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/internal/orders"
	"github.com/keyhaven/keyhaven-backend/pkg/config"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/outbox"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type stubOrderLookup struct {
	byRef        *models.Order
	bySession    *models.Order
	guardOK      bool
	guardErr     error
	guardUpdates map[string]any
	guardCalls   int
}

func (s *stubOrderLookup) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrderLookup) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	return order, nil
}

func (s *stubOrderLookup) CreateLineItems(ctx context.Context, items []models.OrderLineItem) error {
	return nil
}

func (s *stubOrderLookup) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrderLookup) FindByCheckoutSessionKey(ctx context.Context, key string) (*models.Order, error) {
	if s.bySession == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.bySession
	return &copied, nil
}

func (s *stubOrderLookup) FindByExternalPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	if s.byRef == nil {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *s.byRef
	return &copied, nil
}

func (s *stubOrderLookup) ListBuyerOrders(ctx context.Context, buyerID uuid.UUID, params pagination.Params, filters orders.OrderFilters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (s *stubOrderLookup) ListShopOrders(ctx context.Context, shopID uuid.UUID, params pagination.Params, filters orders.OrderFilters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (s *stubOrderLookup) ListDueForAutoConfirm(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *stubOrderLookup) ListPayoutCandidates(ctx context.Context, shopID uuid.UUID, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *stubOrderLookup) GuardedUpdate(ctx context.Context, id uuid.UUID, guard orders.Guard, updates map[string]any) (bool, error) {
	s.guardCalls++
	s.guardUpdates = updates
	if s.guardErr != nil {
		return false, s.guardErr
	}
	return s.guardOK, nil
}

// rollbackTxRunner mimics the real runner's rollback: review writes staged
// inside a closure that returns an error are discarded, not committed.
type rollbackTxRunner struct {
	reviews *recordingReviews
}

func (r rollbackTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.reviews.begin()
	if err := fn(&gorm.DB{}); err != nil {
		r.reviews.rollback()
		return err
	}
	r.reviews.commit()
	return nil
}

type recordingOutbox struct {
	events []outbox.DomainEvent
}

func (r *recordingOutbox) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

type recordingReviews struct {
	tasks     []models.ReviewTask
	staged    []models.ReviewTask
	createErr error
}

func (r *recordingReviews) begin()    { r.staged = nil }
func (r *recordingReviews) rollback() { r.staged = nil }

func (r *recordingReviews) commit() {
	r.tasks = append(r.tasks, r.staged...)
	r.staged = nil
}

func (r *recordingReviews) CreateTx(ctx context.Context, tx *gorm.DB, task models.ReviewTask) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.staged = append(r.staged, task)
	return nil
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:                 uuid.New(),
		BuyerID:            uuid.New(),
		SellerShopID:       uuid.New(),
		Currency:           enums.CurrencyUSD,
		Status:             enums.OrderStatusPaymentPending,
		TotalCents:         5000,
		PlatformFeeCents:   500,
		SellerCents:        4500,
		CheckoutSessionKey: "cs_test_session",
		Version:            1,
	}
}

func newTestPaymentService(t *testing.T, repo *stubOrderLookup) (Service, *recordingOutbox, *recordingReviews) {
	t.Helper()
	publisher := &recordingOutbox{}
	reviews := &recordingReviews{}
	svc, err := NewService(repo, rollbackTxRunner{reviews: reviews}, publisher, reviews, nil, config.EscrowConfig{ConflictRetryLimit: 1}, nil)
	require.NoError(t, err)
	return svc, publisher, reviews
}

func TestReconcileMarksOrderPaid(t *testing.T) {
	order := pendingOrder()
	repo := &stubOrderLookup{bySession: order, guardOK: true}
	svc, publisher, reviews := newTestPaymentService(t, repo)

	result, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_123",
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        5000,
	})
	require.NoError(t, err)
	assert.Equal(t, order.ID, result.OrderID)
	assert.True(t, result.Created)

	assert.Equal(t, enums.OrderStatusAwaitingDelivery, repo.guardUpdates["status"])
	assert.Equal(t, "pi_123", repo.guardUpdates["external_payment_ref"])
	require.Len(t, publisher.events, 1)
	assert.Equal(t, enums.EventOrderPaid, publisher.events[0].EventType)
	assert.Empty(t, reviews.tasks)
}

type recordingNotifier struct {
	kinds []enums.NotificationKind
}

func (r *recordingNotifier) NotifyBuyer(ctx context.Context, buyerID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID) {
	r.kinds = append(r.kinds, kind)
}

func TestReconcileNotifiesBuyer(t *testing.T) {
	order := pendingOrder()
	repo := &stubOrderLookup{bySession: order, guardOK: true}
	reviews := &recordingReviews{}
	notes := &recordingNotifier{}
	svc, err := NewService(repo, rollbackTxRunner{reviews: reviews}, &recordingOutbox{}, reviews, notes, config.EscrowConfig{ConflictRetryLimit: 1}, nil)
	require.NoError(t, err)

	result, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_123",
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        5000,
	})
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Len(t, notes.kinds, 1)
	assert.Equal(t, enums.NotificationOrderPaid, notes.kinds[0])
}

func TestReconcileReplaySameReference(t *testing.T) {
	order := pendingOrder()
	order.Status = enums.OrderStatusAwaitingDelivery
	ref := "pi_123"
	order.ExternalPaymentRef = &ref

	repo := &stubOrderLookup{byRef: order}
	svc, publisher, _ := newTestPaymentService(t, repo)

	result, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        ref,
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        5000,
	})
	require.NoError(t, err)
	assert.Equal(t, order.ID, result.OrderID)
	assert.False(t, result.Created)
	assert.Zero(t, repo.guardCalls)
	assert.Empty(t, publisher.events)
}

func TestReconcileOrphanPaymentOpensReviewTask(t *testing.T) {
	repo := &stubOrderLookup{}
	svc, publisher, reviews := newTestPaymentService(t, repo)

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_orphan",
		CheckoutSessionKey: "cs_unknown",
		AmountCents:        5000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvariant))

	require.Len(t, reviews.tasks, 1)
	assert.Equal(t, enums.ReviewTaskKindOrphanPayment, reviews.tasks[0].Kind)
	require.NotNil(t, reviews.tasks[0].ExternalRef)
	assert.Equal(t, "pi_orphan", *reviews.tasks[0].ExternalRef)
	assert.Empty(t, publisher.events)
}

func TestReconcileAmountMismatchOpensReviewTask(t *testing.T) {
	order := pendingOrder()
	repo := &stubOrderLookup{bySession: order, guardOK: true}
	svc, publisher, reviews := newTestPaymentService(t, repo)

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_123",
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        4999,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvariant))

	require.Len(t, reviews.tasks, 1)
	assert.Equal(t, enums.ReviewTaskKindAmountMismatch, reviews.tasks[0].Kind)
	require.NotNil(t, reviews.tasks[0].OrderID)
	assert.Equal(t, order.ID, *reviews.tasks[0].OrderID)
	assert.Zero(t, repo.guardCalls)
	assert.Empty(t, publisher.events)
}

func TestReconcileReviewTaskWriteFailure(t *testing.T) {
	order := pendingOrder()
	repo := &stubOrderLookup{bySession: order}
	svc, _, reviews := newTestPaymentService(t, repo)
	reviews.createErr = gorm.ErrInvalidDB

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_123",
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        4999,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, reviews.tasks)
}

func TestReconcileRejectsWrongStatus(t *testing.T) {
	order := pendingOrder()
	order.Status = enums.OrderStatusCompleted
	repo := &stubOrderLookup{bySession: order}
	svc, _, _ := newTestPaymentService(t, repo)

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_123",
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        5000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestReconcileConflictRetriesThenFails(t *testing.T) {
	order := pendingOrder()
	repo := &stubOrderLookup{bySession: order, guardOK: false}
	svc, _, _ := newTestPaymentService(t, repo)

	_, err := svc.Reconcile(context.Background(), ReconcileInput{
		ExternalRef:        "pi_123",
		CheckoutSessionKey: order.CheckoutSessionKey,
		AmountCents:        5000,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
	assert.Greater(t, repo.guardCalls, 1)
}

func TestReconcileValidatesInput(t *testing.T) {
	svc, _, _ := newTestPaymentService(t, &stubOrderLookup{})

	_, err := svc.Reconcile(context.Background(), ReconcileInput{CheckoutSessionKey: "cs_1"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Reconcile(context.Background(), ReconcileInput{ExternalRef: "pi_1"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestMarkFailedStampsOrder(t *testing.T) {
	order := pendingOrder()
	repo := &stubOrderLookup{bySession: order, guardOK: true}
	svc, _, _ := newTestPaymentService(t, repo)

	err := svc.MarkFailed(context.Background(), order.CheckoutSessionKey, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaymentFailed, repo.guardUpdates["status"])
}

func TestMarkFailedIdempotent(t *testing.T) {
	order := pendingOrder()
	order.Status = enums.OrderStatusPaymentFailed
	repo := &stubOrderLookup{bySession: order}
	svc, _, _ := newTestPaymentService(t, repo)

	err := svc.MarkFailed(context.Background(), order.CheckoutSessionKey, "card_declined")
	require.NoError(t, err)
	assert.Zero(t, repo.guardCalls)
}

func TestMarkFailedUnknownSession(t *testing.T) {
	svc, _, _ := newTestPaymentService(t, &stubOrderLookup{})

	err := svc.MarkFailed(context.Background(), "cs_missing", "card_declined")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
