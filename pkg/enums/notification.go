package enums

import "fmt"

// NotificationKind labels the fire-and-forget events sent to users.
type NotificationKind string

const (
	NotificationOrderPaid        NotificationKind = "order_paid"
	NotificationOrderDelivered   NotificationKind = "order_delivered"
	NotificationOrderCompleted   NotificationKind = "order_completed"
	NotificationOrderCancelled   NotificationKind = "order_cancelled"
	NotificationOrderRefunded    NotificationKind = "order_refunded"
	NotificationDisputeOpened    NotificationKind = "dispute_opened"
	NotificationDisputeResponded NotificationKind = "dispute_responded"
	NotificationDisputeResolved  NotificationKind = "dispute_resolved"
	NotificationPayoutCompleted  NotificationKind = "payout_completed"
	NotificationPayoutFailed     NotificationKind = "payout_failed"
)

var validNotificationKinds = []NotificationKind{
	NotificationOrderPaid,
	NotificationOrderDelivered,
	NotificationOrderCompleted,
	NotificationOrderCancelled,
	NotificationOrderRefunded,
	NotificationDisputeOpened,
	NotificationDisputeResponded,
	NotificationDisputeResolved,
	NotificationPayoutCompleted,
	NotificationPayoutFailed,
}

// IsValid reports whether the value is a known NotificationKind.
func (k NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
