package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

type stubOwnerLookup struct {
	owner uuid.UUID
	err   error
}

func (s *stubOwnerLookup) GetShopOwner(ctx context.Context, shopID uuid.UUID) (uuid.UUID, error) {
	return s.owner, s.err
}

func newTestDispatcher(t *testing.T, repo *stubNotificationsRepo, shops *stubOwnerLookup) *Dispatcher {
	t.Helper()
	svc, err := NewService(repo, nil)
	require.NoError(t, err)
	d, err := NewDispatcher(svc, shops, nil)
	require.NoError(t, err)
	return d
}

func TestDispatcherNotifyBuyer(t *testing.T) {
	repo := &stubNotificationsRepo{}
	d := newTestDispatcher(t, repo, &stubOwnerLookup{})

	buyerID := uuid.New()
	orderID := uuid.New()
	d.NotifyBuyer(context.Background(), buyerID, enums.NotificationOrderDelivered,
		"Order delivered", "Your order has been delivered and is ready to confirm.", &orderID)

	require.Len(t, repo.created, 1)
	assert.Equal(t, buyerID, repo.created[0].RecipientID)
	assert.Equal(t, enums.NotificationOrderDelivered, repo.created[0].Type)
	require.NotNil(t, repo.created[0].OrderID)
	assert.Equal(t, orderID, *repo.created[0].OrderID)
}

func TestDispatcherNotifyShopResolvesOwner(t *testing.T) {
	repo := &stubNotificationsRepo{}
	owner := uuid.New()
	d := newTestDispatcher(t, repo, &stubOwnerLookup{owner: owner})

	d.NotifyShop(context.Background(), uuid.New(), enums.NotificationPayoutCompleted,
		"Payout completed", "A payout was transferred to your account.", nil)

	require.Len(t, repo.created, 1)
	assert.Equal(t, owner, repo.created[0].RecipientID)
	assert.Equal(t, enums.NotificationPayoutCompleted, repo.created[0].Type)
}

func TestDispatcherNotifyShopDropsOnLookupFailure(t *testing.T) {
	repo := &stubNotificationsRepo{}
	d := newTestDispatcher(t, repo, &stubOwnerLookup{err: errors.New("shop not found")})

	d.NotifyShop(context.Background(), uuid.New(), enums.NotificationDisputeOpened,
		"Dispute opened", "A buyer opened a dispute on one of your orders.", nil)

	assert.Empty(t, repo.created)
}

func TestNewDispatcherRequiresDependencies(t *testing.T) {
	svc, err := NewService(&stubNotificationsRepo{}, nil)
	require.NoError(t, err)

	_, err = NewDispatcher(nil, &stubOwnerLookup{}, nil)
	require.Error(t, err)

	_, err = NewDispatcher(svc, nil, nil)
	require.Error(t, err)
}
