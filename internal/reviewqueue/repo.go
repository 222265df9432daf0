package reviewqueue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// Repository defines persistence operations for the operator review queue.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, task *models.ReviewTask) error
	InsertTx(tx *gorm.DB, task *models.ReviewTask) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error)
	List(ctx context.Context, status enums.ReviewTaskStatus, limit int) ([]models.ReviewTask, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a review queue repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, task *models.ReviewTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *repository) InsertTx(tx *gorm.DB, task *models.ReviewTask) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(task).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReviewTask, error) {
	var task models.ReviewTask
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) List(ctx context.Context, status enums.ReviewTaskStatus, limit int) ([]models.ReviewTask, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ReviewTask
	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.ReviewTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}
