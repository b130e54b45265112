package enums

import "fmt"

// DebtStatus classifies how much of a debt has been settled.
type DebtStatus string

const (
	DebtStatusOpen    DebtStatus = "open"
	DebtStatusPartial DebtStatus = "partial"
	DebtStatusPaid    DebtStatus = "paid"
)

var validDebtStatuses = []DebtStatus{
	DebtStatusOpen,
	DebtStatusPartial,
	DebtStatusPaid,
}

// IsValid reports whether the value is a known DebtStatus.
func (d DebtStatus) IsValid() bool {
	for _, candidate := range validDebtStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDebtStatus converts raw input into a DebtStatus.
func ParseDebtStatus(value string) (DebtStatus, error) {
	for _, candidate := range validDebtStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid debt status %q", value)
}
