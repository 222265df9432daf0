package disputes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/keyhaven/keyhaven-backend/pkg/db"
	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
)

// Repository defines persistence operations for disputes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) (*models.Dispute, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	FindOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Dispute, error)
	ListByStatus(ctx context.Context, status enums.DisputeStatus, limit int) ([]models.Dispute, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) (*models.Dispute, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a dispute repository over the given connection.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) (*models.Dispute, error) {
	if err := r.db.WithContext(ctx).Create(dispute).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_disputes_order_open") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "order already has an open dispute")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating dispute")
	}
	return dispute, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).First(&dispute, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching dispute")
	}
	return &dispute, nil
}

func (r *repository) FindOpenByOrder(ctx context.Context, orderID uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status <> ?", orderID, enums.DisputeStatusResolved).
		First(&dispute).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no open dispute for order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fetching open dispute")
	}
	return &dispute, nil
}

func (r *repository) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Dispute, error) {
	var disputes []models.Dispute
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&disputes).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing order disputes")
	}
	return disputes, nil
}

func (r *repository) ListByStatus(ctx context.Context, status enums.DisputeStatus, limit int) ([]models.Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	var disputes []models.Dispute
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&disputes).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing disputes")
	}
	return disputes, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) (*models.Dispute, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "updating dispute")
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	return r.FindByID(ctx, id)
}
