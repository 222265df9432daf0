package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/keyhaven/keyhaven-backend/pkg/enums"
)

// LineItemInput is a priced snapshot of one purchased product.
type LineItemInput struct {
	ProductID      uuid.UUID
	Name           string
	Qty            int
	UnitPriceCents int64
}

// CreateOrderInput captures everything needed to open an order in escrow.
type CreateOrderInput struct {
	BuyerID            uuid.UUID
	SellerShopID       uuid.UUID
	Currency           enums.Currency
	CheckoutSessionKey string
	Items              []LineItemInput
}

// OrderFilters describe the inputs supported by the order lists.
type OrderFilters struct {
	Status   *enums.OrderStatus
	DateFrom *time.Time
	DateTo   *time.Time
}

// OrderSummary exposes the aggregated fields returned in order lists.
type OrderSummary struct {
	ID           uuid.UUID         `json:"id"`
	SellerShopID uuid.UUID         `json:"seller_shop_id"`
	BuyerID      uuid.UUID         `json:"buyer_id"`
	Status       enums.OrderStatus `json:"status"`
	Currency     enums.Currency    `json:"currency"`
	TotalCents   int64             `json:"total_cents"`
	TotalItems   int               `json:"total_items"`
	CreatedAt    time.Time         `json:"created_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Actor identifies the caller performing a state transition.
type Actor struct {
	UserID uuid.UUID
	ShopID *uuid.UUID
	Role   enums.MemberRole
}

// RecordDeliveryInput carries the seller's delivery submission.
type RecordDeliveryInput struct {
	OrderID uuid.UUID
	Payload string
	Actor   Actor
}

// ConfirmReceiptInput carries the buyer's confirmation.
type ConfirmReceiptInput struct {
	OrderID uuid.UUID
	Actor   Actor
}

// CancelOrderInput carries a buyer-initiated cancellation.
type CancelOrderInput struct {
	OrderID uuid.UUID
	Reason  string
	Actor   Actor
}
