package enums

import "fmt"

// DisputeStatus tracks a dispute from open to resolution.
type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "open"
	DisputeStatusSellerResponded DisputeStatus = "seller_responded"
	DisputeStatusEscalated       DisputeStatus = "escalated"
	DisputeStatusResolved        DisputeStatus = "resolved"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusSellerResponded,
	DisputeStatusEscalated,
	DisputeStatusResolved,
}

// String implements fmt.Stringer.
func (s DisputeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DisputeStatus.
func (s DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsOpen reports whether the dispute still blocks settlement.
func (s DisputeStatus) IsOpen() bool {
	return s != DisputeStatusResolved
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}
