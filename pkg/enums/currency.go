package enums

import "fmt"

// Currency is the settlement currency of a sale.
type Currency string

const (
	CurrencyBS    Currency = "BS"
	CurrencyUSD   Currency = "USD"
	CurrencyMixed Currency = "MIXED"
)

var validCurrencies = []Currency{
	CurrencyBS,
	CurrencyUSD,
	CurrencyMixed,
}

// IsValid reports whether the value is a known Currency.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts raw input into a Currency.
func ParseCurrency(value string) (Currency, error) {
	for _, candidate := range validCurrencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
