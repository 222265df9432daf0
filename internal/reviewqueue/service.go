package reviewqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

// Service owns the operator review queue. Tasks are only ever closed by an
// explicit operator action, never automatically.
type Service interface {
	CreateTx(ctx context.Context, tx *gorm.DB, task models.ReviewTask) error
	List(ctx context.Context, status enums.ReviewTaskStatus, limit int) ([]models.ReviewTask, error)
	Resolve(ctx context.Context, taskID, resolvedBy uuid.UUID, resolution string) (*models.ReviewTask, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds the review queue service.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("review queue repository required")
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

func (s *service) CreateTx(ctx context.Context, tx *gorm.DB, task models.ReviewTask) error {
	if !task.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid review task kind")
	}
	if task.Detail == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "review task detail required")
	}
	task.Status = enums.ReviewTaskStatusOpen
	if err := s.repo.InsertTx(tx, &task); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert review task")
	}
	if s.logg != nil {
		fields := map[string]any{"kind": task.Kind}
		if task.OrderID != nil {
			fields["order_id"] = task.OrderID.String()
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "review task opened")
	}
	return nil
}

func (s *service) List(ctx context.Context, status enums.ReviewTaskStatus, limit int) ([]models.ReviewTask, error) {
	if status != "" && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid review task status")
	}
	rows, err := s.repo.List(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list review tasks")
	}
	return rows, nil
}

func (s *service) Resolve(ctx context.Context, taskID, resolvedBy uuid.UUID, resolution string) (*models.ReviewTask, error) {
	if taskID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "task id required")
	}
	if resolvedBy == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if resolution == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note required")
	}

	task, err := s.repo.FindByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "review task not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load review task")
	}
	if task.Status == enums.ReviewTaskStatusResolved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "review task already resolved")
	}

	now := s.now().UTC()
	err = s.repo.Update(ctx, taskID, map[string]any{
		"status":      enums.ReviewTaskStatusResolved,
		"resolution":  resolution,
		"resolved_by": resolvedBy,
		"resolved_at": now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve review task")
	}

	task.Status = enums.ReviewTaskStatusResolved
	task.Resolution = &resolution
	task.ResolvedBy = &resolvedBy
	task.ResolvedAt = &now
	return task, nil
}
