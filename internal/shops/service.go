package shops

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/keyhaven/keyhaven-backend/pkg/db/models"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
)

// Directory exposes the shop facts the settlement engine needs.
type Directory interface {
	GetShopOwner(ctx context.Context, shopID uuid.UUID) (uuid.UUID, error)
	GetShopPayoutDestination(ctx context.Context, shopID uuid.UUID) (string, error)
	FindByID(ctx context.Context, shopID uuid.UUID) (*models.Shop, error)
}

type directory struct {
	db *gorm.DB
}

// NewDirectory builds a shop directory bound to the provided DB.
func NewDirectory(db *gorm.DB) (Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &directory{db: db}, nil
}

func (d *directory) FindByID(ctx context.Context, shopID uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	err := d.db.WithContext(ctx).Where("id = ?", shopID).First(&shop).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	return &shop, nil
}

func (d *directory) GetShopOwner(ctx context.Context, shopID uuid.UUID) (uuid.UUID, error) {
	shop, err := d.FindByID(ctx, shopID)
	if err != nil {
		return uuid.Nil, err
	}
	return shop.OwnerID, nil
}

// GetShopPayoutDestination returns the connected account reference transfers
// are sent to. A shop without one cannot be paid automatically.
func (d *directory) GetShopPayoutDestination(ctx context.Context, shopID uuid.UUID) (string, error) {
	shop, err := d.FindByID(ctx, shopID)
	if err != nil {
		return "", err
	}
	if shop.PayoutDestination == nil || *shop.PayoutDestination == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "shop has no payout destination configured")
	}
	return *shop.PayoutDestination, nil
}
