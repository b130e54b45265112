package enums

import "fmt"

// PaymentMethod describes how a sale or debt payment was settled.
type PaymentMethod string

const (
	PaymentMethodCashBS    PaymentMethod = "CASH_BS"
	PaymentMethodCashUSD   PaymentMethod = "CASH_USD"
	PaymentMethodPagoMovil PaymentMethod = "PAGO_MOVIL"
	PaymentMethodTransfer  PaymentMethod = "TRANSFER"
	PaymentMethodOther     PaymentMethod = "OTHER"
	PaymentMethodSplit     PaymentMethod = "SPLIT"
	// PaymentMethodCredit leaves the sale as a customer debt.
	PaymentMethodCredit PaymentMethod = "FIAO"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCashBS,
	PaymentMethodCashUSD,
	PaymentMethodPagoMovil,
	PaymentMethodTransfer,
	PaymentMethodOther,
	PaymentMethodSplit,
	PaymentMethodCredit,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// SettlesDebt reports whether the method can be used to pay down a debt.
func (p PaymentMethod) SettlesDebt() bool {
	return p.IsValid() && p != PaymentMethodSplit && p != PaymentMethodCredit
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
