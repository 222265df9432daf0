package enums

import "fmt"

// OrderStatus tracks the escrow lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPaymentPending       OrderStatus = "payment_pending"
	OrderStatusPaymentFailed        OrderStatus = "payment_failed"
	OrderStatusCancelled            OrderStatus = "cancelled"
	OrderStatusAwaitingDelivery     OrderStatus = "awaiting_delivery"
	OrderStatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	OrderStatusCompleted            OrderStatus = "completed"
	OrderStatusDisputed             OrderStatus = "disputed"
	OrderStatusDisputeResolved      OrderStatus = "dispute_resolved"
	OrderStatusRefunded             OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPaymentPending,
	OrderStatusPaymentFailed,
	OrderStatusCancelled,
	OrderStatusAwaitingDelivery,
	OrderStatusAwaitingConfirmation,
	OrderStatusCompleted,
	OrderStatusDisputed,
	OrderStatusDisputeResolved,
	OrderStatusRefunded,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave this status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusPaymentFailed, OrderStatusCancelled, OrderStatusCompleted, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
