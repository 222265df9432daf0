package reviewqueue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
)

type stubReviewRepo struct {
	inserted []*models.ReviewTask
	task     *models.ReviewTask
	findErr  error
	updates  []map[string]any
}

func (s *stubReviewRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubReviewRepo) Insert(ctx context.Context, task *models.ReviewTask) error {
	s.inserted = append(s.inserted, task)
	return nil
}

func (s *stubReviewRepo) InsertTx(tx *gorm.DB, task *models.ReviewTask) error {
	s.inserted = append(s.inserted, task)
	return nil
}

func (s *stubReviewRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	copied := *s.task
	return &copied, nil
}

func (s *stubReviewRepo) List(ctx context.Context, status enums.ReviewTaskStatus, limit int) ([]models.ReviewTask, error) {
	if s.task == nil {
		return nil, nil
	}
	return []models.ReviewTask{*s.task}, nil
}

func (s *stubReviewRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	s.updates = append(s.updates, updates)
	return nil
}

func TestCreateTxForcesOpenStatus(t *testing.T) {
	repo := &stubReviewRepo{}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	orderID := uuid.New()
	err = svc.CreateTx(context.Background(), nil, models.ReviewTask{
		Kind:    enums.ReviewTaskKindAmountMismatch,
		Status:  enums.ReviewTaskStatusResolved,
		OrderID: &orderID,
		Detail:  "charged 4999, expected 5000",
	})
	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)
	assert.Equal(t, enums.ReviewTaskStatusOpen, repo.inserted[0].Status)
	assert.Equal(t, enums.ReviewTaskKindAmountMismatch, repo.inserted[0].Kind)
}

func TestCreateTxValidatesKindAndDetail(t *testing.T) {
	repo := &stubReviewRepo{}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	err = svc.CreateTx(context.Background(), nil, models.ReviewTask{Kind: "bogus", Detail: "d"})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	err = svc.CreateTx(context.Background(), nil, models.ReviewTask{Kind: enums.ReviewTaskKindRefundFailed})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, repo.inserted)
}

func TestListRejectsUnknownStatus(t *testing.T) {
	svc, err := NewService(&stubReviewRepo{}, nil)
	require.NoError(t, err)

	_, err = svc.List(context.Background(), enums.ReviewTaskStatus("stale"), 10)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestListAllowsEmptyStatus(t *testing.T) {
	repo := &stubReviewRepo{task: &models.ReviewTask{Kind: enums.ReviewTaskKindManualTransfer}}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	rows, err := svc.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestResolveUpdatesTask(t *testing.T) {
	repo := &stubReviewRepo{task: &models.ReviewTask{
		ID:     uuid.New(),
		Kind:   enums.ReviewTaskKindOrphanPayment,
		Status: enums.ReviewTaskStatusOpen,
		Detail: "no order for session",
	}}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	admin := uuid.New()
	task, err := svc.Resolve(context.Background(), repo.task.ID, admin, "refunded at the gateway")
	require.NoError(t, err)
	require.Len(t, repo.updates, 1)
	assert.Equal(t, enums.ReviewTaskStatusResolved, repo.updates[0]["status"])
	assert.Equal(t, "refunded at the gateway", repo.updates[0]["resolution"])
	assert.Equal(t, admin, repo.updates[0]["resolved_by"])
	assert.Equal(t, enums.ReviewTaskStatusResolved, task.Status)
	require.NotNil(t, task.ResolvedBy)
	assert.Equal(t, admin, *task.ResolvedBy)
	assert.NotNil(t, task.ResolvedAt)
}

func TestResolveValidatesInput(t *testing.T) {
	svc, err := NewService(&stubReviewRepo{}, nil)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), uuid.Nil, uuid.New(), "note")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = svc.Resolve(context.Background(), uuid.New(), uuid.Nil, "note")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))

	_, err = svc.Resolve(context.Background(), uuid.New(), uuid.New(), "")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestResolveMissingTask(t *testing.T) {
	repo := &stubReviewRepo{findErr: gorm.ErrRecordNotFound}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), uuid.New(), uuid.New(), "note")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestResolveAlreadyResolved(t *testing.T) {
	repo := &stubReviewRepo{task: &models.ReviewTask{
		ID:     uuid.New(),
		Kind:   enums.ReviewTaskKindTransferUnknown,
		Status: enums.ReviewTaskStatusResolved,
		Detail: "transfer state unknown",
	}}
	svc, err := NewService(repo, nil)
	require.NoError(t, err)

	_, err = svc.Resolve(context.Background(), repo.task.ID, uuid.New(), "note")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, repo.updates)
}
