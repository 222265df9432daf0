package enums

import "fmt"

// ReviewTaskKind identifies the class of inconsistency queued for an operator.
type ReviewTaskKind string

const (
	ReviewTaskKindOrphanPayment   ReviewTaskKind = "orphan_payment"
	ReviewTaskKindAmountMismatch  ReviewTaskKind = "amount_mismatch"
	ReviewTaskKindRefundFailed    ReviewTaskKind = "refund_failed"
	ReviewTaskKindManualTransfer  ReviewTaskKind = "manual_transfer"
	ReviewTaskKindTransferUnknown ReviewTaskKind = "transfer_unknown"
)

var validReviewTaskKinds = []ReviewTaskKind{
	ReviewTaskKindOrphanPayment,
	ReviewTaskKindAmountMismatch,
	ReviewTaskKindRefundFailed,
	ReviewTaskKindManualTransfer,
	ReviewTaskKindTransferUnknown,
}

// IsValid reports whether the value is a known ReviewTaskKind.
func (k ReviewTaskKind) IsValid() bool {
	for _, candidate := range validReviewTaskKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ReviewTaskStatus is the operator-facing lifecycle of a review task.
type ReviewTaskStatus string

const (
	ReviewTaskStatusOpen     ReviewTaskStatus = "open"
	ReviewTaskStatusResolved ReviewTaskStatus = "resolved"
)

// IsValid reports whether the value is a known ReviewTaskStatus.
func (s ReviewTaskStatus) IsValid() bool {
	return s == ReviewTaskStatusOpen || s == ReviewTaskStatusResolved
}

// ParseReviewTaskStatus converts raw input into a ReviewTaskStatus.
func ParseReviewTaskStatus(value string) (ReviewTaskStatus, error) {
	switch ReviewTaskStatus(value) {
	case ReviewTaskStatusOpen:
		return ReviewTaskStatusOpen, nil
	case ReviewTaskStatusResolved:
		return ReviewTaskStatusResolved, nil
	default:
		return "", fmt.Errorf("invalid review task status %q", value)
	}
}
