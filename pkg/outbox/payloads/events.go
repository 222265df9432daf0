package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order awaiting payment.
type OrderCreatedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	SellerShopID uuid.UUID `json:"seller_shop_id"`
	TotalCents   int64     `json:"total_cents"`
	Currency     string    `json:"currency"`
}

// OrderPaidEvent is emitted when a payment confirmation lands on an order.
type OrderPaidEvent struct {
	OrderID            uuid.UUID `json:"order_id"`
	BuyerID            uuid.UUID `json:"buyer_id"`
	SellerShopID       uuid.UUID `json:"seller_shop_id"`
	ExternalPaymentRef string    `json:"external_payment_ref"`
	AmountCents        int64     `json:"amount_cents"`
}

// OrderDeliveredEvent is emitted when the seller records delivery.
type OrderDeliveredEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	SellerShopID  uuid.UUID `json:"seller_shop_id"`
	DeliveredAt   time.Time `json:"delivered_at"`
	AutoConfirmAt time.Time `json:"auto_confirm_at"`
}

// OrderCompletedEvent is emitted on buyer confirmation or auto-confirm.
type OrderCompletedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	SellerShopID uuid.UUID `json:"seller_shop_id"`
	SellerCents  int64     `json:"seller_cents"`
	AutoConfirm  bool      `json:"auto_confirm"`
	CompletedAt  time.Time `json:"completed_at"`
}

// OrderCancelledEvent is emitted when a pre-payment order is cancelled.
type OrderCancelledEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	SellerShopID uuid.UUID `json:"seller_shop_id"`
	CancelledAt  time.Time `json:"cancelled_at"`
	Reason       string    `json:"reason,omitempty"`
}

// OrderRefundedEvent is emitted when a dispute resolution refunds the buyer.
type OrderRefundedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	BuyerID      uuid.UUID `json:"buyer_id"`
	SellerShopID uuid.UUID `json:"seller_shop_id"`
	RefundCents  int64     `json:"refund_cents"`
	Partial      bool      `json:"partial"`
}

// DisputeOpenedEvent is emitted when a buyer opens a dispute.
type DisputeOpenedEvent struct {
	DisputeID    uuid.UUID             `json:"dispute_id"`
	OrderID      uuid.UUID             `json:"order_id"`
	BuyerID      uuid.UUID             `json:"buyer_id"`
	SellerShopID uuid.UUID             `json:"seller_shop_id"`
	Category     enums.DisputeCategory `json:"category"`
}

// DisputeEscalatedEvent is emitted when a dispute reaches admin review.
type DisputeEscalatedEvent struct {
	DisputeID    uuid.UUID `json:"dispute_id"`
	OrderID      uuid.UUID `json:"order_id"`
	SellerShopID uuid.UUID `json:"seller_shop_id"`
}

// DisputeResolvedEvent carries the admin ruling.
type DisputeResolvedEvent struct {
	DisputeID    uuid.UUID              `json:"dispute_id"`
	OrderID      uuid.UUID              `json:"order_id"`
	BuyerID      uuid.UUID              `json:"buyer_id"`
	SellerShopID uuid.UUID              `json:"seller_shop_id"`
	Action       enums.ResolutionAction `json:"action"`
	RefundCents  int64                  `json:"refund_cents,omitempty"`
}

// PayoutCompletedEvent is emitted once the transfer clears.
type PayoutCompletedEvent struct {
	PayoutID            uuid.UUID `json:"payout_id"`
	SellerShopID        uuid.UUID `json:"seller_shop_id"`
	AmountCents         int64     `json:"amount_cents"`
	ExternalTransferRef string    `json:"external_transfer_ref"`
	OrderCount          int       `json:"order_count"`
}

// PayoutFailedEvent is emitted when a transfer fails permanently.
type PayoutFailedEvent struct {
	PayoutID     uuid.UUID `json:"payout_id"`
	SellerShopID uuid.UUID `json:"seller_shop_id"`
	AmountCents  int64     `json:"amount_cents"`
	Reason       string    `json:"reason,omitempty"`
}

// NotificationRequestedEvent tells downstream systems to alert a user.
type NotificationRequestedEvent struct {
	RecipientID uuid.UUID  `json:"recipient_id"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	Type        string     `json:"type"`
}
