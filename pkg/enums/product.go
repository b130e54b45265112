package enums

import "fmt"

// ProductType distinguishes sellable items from recipe inputs.
type ProductType string

const (
	ProductTypeSaleItem   ProductType = "sale_item"
	ProductTypeIngredient ProductType = "ingredient"
	ProductTypePrepared   ProductType = "prepared"
)

var validProductTypes = []ProductType{
	ProductTypeSaleItem,
	ProductTypeIngredient,
	ProductTypePrepared,
}

// IsValid reports whether the value is a known ProductType.
func (p ProductType) IsValid() bool {
	for _, candidate := range validProductTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProductType converts raw input into a ProductType.
func ParseProductType(value string) (ProductType, error) {
	for _, candidate := range validProductTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product type %q", value)
}
