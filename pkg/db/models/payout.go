package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// Payout is a batched transfer of accumulated seller earnings. Membership is
// recorded on the orders themselves (orders.payout_id), set at most once.
type Payout struct {
	ID                  uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerShopID        uuid.UUID          `gorm:"column:seller_shop_id;type:uuid;not null;index:ix_payouts_seller_shop_id"`
	Status              enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	AmountCents         int64              `gorm:"column:amount_cents;not null;default:0"`
	ExternalTransferRef *string            `gorm:"column:external_transfer_ref"`
	LastError           *string            `gorm:"column:last_error"`
	ProcessingAt        *time.Time         `gorm:"column:processing_at"`
	CompletedAt         *time.Time         `gorm:"column:completed_at"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
