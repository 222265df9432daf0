package notifications

import (
	"context"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	pkgerrors "github.com/keyhaven/keyhaven-backend/pkg/errors"
	"github.com/keyhaven/keyhaven-backend/pkg/logger"
)

// ShopOwnerLookup resolves the user behind a shop so shop-facing
// notifications land in the owner's feed.
type ShopOwnerLookup interface {
	GetShopOwner(ctx context.Context, shopID uuid.UUID) (uuid.UUID, error)
}

// Dispatcher fans settlement events out to buyer and seller feeds. Like
// Service.Notify, every method is fire-and-forget.
type Dispatcher struct {
	svc   Service
	shops ShopOwnerLookup
	logg  *logger.Logger
}

// NewDispatcher wires the dispatcher dependencies.
func NewDispatcher(svc Service, shops ShopOwnerLookup, logg *logger.Logger) (*Dispatcher, error) {
	if svc == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications service required")
	}
	if shops == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shop owner lookup required")
	}
	return &Dispatcher{svc: svc, shops: shops, logg: logg}, nil
}

func (d *Dispatcher) NotifyBuyer(ctx context.Context, buyerID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID) {
	d.svc.Notify(ctx, NotifyInput{
		RecipientID: buyerID,
		Kind:        kind,
		Title:       title,
		Message:     message,
		OrderID:     orderID,
	})
}

// NotifyShop delivers to the shop owner. An owner lookup failure drops the
// notification, it never surfaces to the settlement path.
func (d *Dispatcher) NotifyShop(ctx context.Context, shopID uuid.UUID, kind enums.NotificationKind, title, message string, orderID *uuid.UUID) {
	owner, err := d.shops.GetShopOwner(ctx, shopID)
	if err != nil {
		if d.logg != nil {
			logCtx := d.logg.WithField(ctx, "shop_id", shopID.String())
			d.logg.Warn(logCtx, "shop owner lookup failed for notification")
		}
		return
	}
	d.svc.Notify(ctx, NotifyInput{
		RecipientID: owner,
		Kind:        kind,
		Title:       title,
		Message:     message,
		OrderID:     orderID,
	})
}
