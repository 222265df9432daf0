package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/pagination"
)

type stubNotificationsRepo struct {
	created   []*models.Notification
	createErr error
	rows      []models.Notification
	next      *pagination.Cursor
	mark      notificationMarkResult
	allRead   int64
}

func (s *stubNotificationsRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubNotificationsRepo) Create(ctx context.Context, notification *models.Notification) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, notification)
	return nil
}

func (s *stubNotificationsRepo) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	return s.rows, s.next, nil
}

func (s *stubNotificationsRepo) MarkRead(ctx context.Context, recipientID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	return s.mark, nil
}

func (s *stubNotificationsRepo) MarkAllRead(ctx context.Context, recipientID uuid.UUID, now time.Time) (int64, error) {
	return s.allRead, nil
}

func TestNotifyWritesRow(t *testing.T) {
	repo := &stubNotificationsRepo{}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	recipient := uuid.New()
	svc.Notify(context.Background(), NotifyInput{
		RecipientID: recipient,
		Kind:        enums.NotificationOrderDelivered,
		Title:       "Your order was delivered",
		Message:     "Confirm receipt to release the funds.",
	})

	require.Len(t, repo.created, 1)
	assert.Equal(t, recipient, repo.created[0].RecipientID)
	assert.Equal(t, enums.NotificationOrderDelivered, repo.created[0].Type)
}

func TestNotifySwallowsWriteFailure(t *testing.T) {
	repo := &stubNotificationsRepo{createErr: errors.New("insert failed")}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	// Must not panic or propagate.
	svc.Notify(context.Background(), NotifyInput{
		RecipientID: uuid.New(),
		Kind:        enums.NotificationOrderDelivered,
		Title:       "t",
		Message:     "m",
	})
}

func TestNotifyIgnoresInvalidInput(t *testing.T) {
	repo := &stubNotificationsRepo{}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	svc.Notify(context.Background(), NotifyInput{Kind: enums.NotificationOrderDelivered})
	svc.Notify(context.Background(), NotifyInput{RecipientID: uuid.New(), Kind: "bogus"})
	assert.Empty(t, repo.created)
}

func TestListEncodesNextCursor(t *testing.T) {
	next := &pagination.Cursor{CreatedAt: time.Now().UTC(), ID: uuid.New()}
	repo := &stubNotificationsRepo{
		rows: []models.Notification{{ID: uuid.New()}},
		next: next,
	}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	result, err := svc.List(context.Background(), ListParams{RecipientID: uuid.New(), Limit: 10})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)
	assert.NotEmpty(t, result.Cursor)
}

func TestListRequiresRecipient(t *testing.T) {
	svc, err := NewService(&stubNotificationsRepo{}, nil)
	require.NoError(t, err)

	_, err = svc.List(context.Background(), ListParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestMarkReadNotFound(t *testing.T) {
	repo := &stubNotificationsRepo{mark: notificationMarkResult{Found: false}}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	err = svc.MarkRead(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestMarkReadSuccess(t *testing.T) {
	repo := &stubNotificationsRepo{mark: notificationMarkResult{Found: true, Updated: true}}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(context.Background(), uuid.New(), uuid.New()))
}

func TestMarkAllReadReturnsCount(t *testing.T) {
	repo := &stubNotificationsRepo{allRead: 3}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	count, err := svc.MarkAllRead(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
