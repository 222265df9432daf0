package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
	"github.com/keyhaven/keyhaven-backend/pkg/types"
)

// Dispute is a buyer's contest of a delivered order. At most one non-resolved
// dispute exists per order.
type Dispute struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index:ix_disputes_order_id"`
	BuyerID          uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null"`
	SellerShopID     uuid.UUID              `gorm:"column:seller_shop_id;type:uuid;not null"`
	Category         enums.DisputeCategory  `gorm:"column:category;type:dispute_category;not null"`
	Subject          string                 `gorm:"column:subject;not null"`
	Description      string                 `gorm:"column:description;not null"`
	Evidence         types.AttachmentRefs   `gorm:"column:evidence;type:jsonb;serializer:json"`
	Status           enums.DisputeStatus    `gorm:"column:status;type:dispute_status;not null;default:'open'"`
	ResolutionAction *enums.ResolutionAction `gorm:"column:resolution_action;type:resolution_action"`
	ResolutionNote   *string                `gorm:"column:resolution_note"`
	ResolvedBy       *uuid.UUID             `gorm:"column:resolved_by;type:uuid"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
	ResolvedAt       *time.Time             `gorm:"column:resolved_at"`
}
