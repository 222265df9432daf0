package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// Order is one buyer purchase against one seller shop, holding escrowed funds
// until settlement. Rows are never deleted; terminal states are stamped.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID            uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	SellerShopID       uuid.UUID         `gorm:"column:seller_shop_id;type:uuid;not null"`
	Currency           enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status             enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'payment_pending'"`
	TotalCents         int64             `gorm:"column:total_cents;not null"`
	PlatformFeeCents   int64             `gorm:"column:platform_fee_cents;not null"`
	SellerCents        int64             `gorm:"column:seller_cents;not null"`
	CheckoutSessionKey string            `gorm:"column:checkout_session_key;not null;uniqueIndex:ux_orders_checkout_session_key"`
	ExternalPaymentRef *string           `gorm:"column:external_payment_ref;uniqueIndex:ux_orders_external_payment_ref"`
	DeliveryPayload    *string           `gorm:"column:delivery_payload"`
	DeliveredAt        *time.Time        `gorm:"column:delivered_at"`
	AutoConfirmAt      *time.Time        `gorm:"column:auto_confirm_at"`
	BuyerConfirmedAt   *time.Time        `gorm:"column:buyer_confirmed_at"`
	DisputeID          *uuid.UUID        `gorm:"column:dispute_id;type:uuid"`
	PayoutID           *uuid.UUID        `gorm:"column:payout_id;type:uuid"`
	Version            int64             `gorm:"column:version;not null;default:1"`
	Items              []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
