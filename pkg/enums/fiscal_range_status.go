package enums

import "fmt"

// FiscalRangeStatus maps to fiscal_ranges.status. Exhausted and expired are terminal.
type FiscalRangeStatus string

const (
	FiscalRangeActive    FiscalRangeStatus = "active"
	FiscalRangeExhausted FiscalRangeStatus = "exhausted"
	FiscalRangeExpired   FiscalRangeStatus = "expired"
)

var validFiscalRangeStatuses = []FiscalRangeStatus{
	FiscalRangeActive,
	FiscalRangeExhausted,
	FiscalRangeExpired,
}

// IsValid reports whether the value is a known FiscalRangeStatus.
func (f FiscalRangeStatus) IsValid() bool {
	for _, candidate := range validFiscalRangeStatuses {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFiscalRangeStatus converts raw input into a FiscalRangeStatus.
func ParseFiscalRangeStatus(value string) (FiscalRangeStatus, error) {
	for _, candidate := range validFiscalRangeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fiscal range status %q", value)
}
