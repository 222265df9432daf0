package enums

import "fmt"

// ResolutionAction is the remedy chosen by the seller or an admin.
type ResolutionAction string

const (
	ResolutionActionRedeliver     ResolutionAction = "redeliver"
	ResolutionActionPartialRefund ResolutionAction = "partial_refund"
	ResolutionActionFullRefund    ResolutionAction = "full_refund"
	ResolutionActionReject        ResolutionAction = "reject"
)

var validResolutionActions = []ResolutionAction{
	ResolutionActionRedeliver,
	ResolutionActionPartialRefund,
	ResolutionActionFullRefund,
	ResolutionActionReject,
}

// String implements fmt.Stringer.
func (a ResolutionAction) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ResolutionAction.
func (a ResolutionAction) IsValid() bool {
	for _, candidate := range validResolutionActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseResolutionAction converts raw input into a ResolutionAction.
func ParseResolutionAction(value string) (ResolutionAction, error) {
	for _, candidate := range validResolutionActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resolution action %q", value)
}
