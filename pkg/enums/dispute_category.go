package enums

import "fmt"

// DisputeCategory classifies what the buyer is contesting.
type DisputeCategory string

const (
	DisputeCategoryNoDelivery    DisputeCategory = "no_delivery"
	DisputeCategoryWrongItem     DisputeCategory = "wrong_item"
	DisputeCategoryDefectiveCode DisputeCategory = "defective_code"
)

var validDisputeCategories = []DisputeCategory{
	DisputeCategoryNoDelivery,
	DisputeCategoryWrongItem,
	DisputeCategoryDefectiveCode,
}

// String implements fmt.Stringer.
func (c DisputeCategory) String() string {
	return string(c)
}

// IsValid reports whether the value is a known DisputeCategory.
func (c DisputeCategory) IsValid() bool {
	for _, candidate := range validDisputeCategories {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseDisputeCategory converts raw input into a DisputeCategory.
func ParseDisputeCategory(value string) (DisputeCategory, error) {
	for _, candidate := range validDisputeCategories {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute category %q", value)
}
