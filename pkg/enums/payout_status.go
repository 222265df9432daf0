package enums

import "fmt"

// PayoutStatus tracks a batched seller transfer.
type PayoutStatus string

const (
	PayoutStatusPending               PayoutStatus = "pending"
	PayoutStatusProcessing            PayoutStatus = "processing"
	PayoutStatusCompleted             PayoutStatus = "completed"
	PayoutStatusFailed                PayoutStatus = "failed"
	PayoutStatusPendingManualTransfer PayoutStatus = "pending_manual_transfer"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusProcessing,
	PayoutStatusCompleted,
	PayoutStatusFailed,
	PayoutStatusPendingManualTransfer,
}

// String implements fmt.Stringer.
func (s PayoutStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PayoutStatus.
func (s PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}
