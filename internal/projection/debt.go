package projection

import (
	"github.com/shopspring/decimal"

	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
)

// debtEpsilon absorbs rounding left over from currency conversion.
var debtEpsilon = decimal.New(1, -2)

// ApplyDebtPayment adds a payment to the debt totals, recomputes the
// remaining balances (clamped at zero) and reclassifies the status.
func ApplyDebtPayment(d *models.Debt, amountBS, amountUSD decimal.Decimal) {
	d.TotalPaidBS = d.TotalPaidBS.Add(amountBS)
	d.TotalPaidUSD = d.TotalPaidUSD.Add(amountUSD)

	remainingBS := d.AmountBS.Sub(d.TotalPaidBS)
	remainingUSD := d.AmountUSD.Sub(d.TotalPaidUSD)
	d.Status = ClassifyDebt(remainingBS, remainingUSD, d.TotalPaidBS, d.TotalPaidUSD)
	d.RemainingBS = decimal.Max(decimal.Zero, remainingBS)
	d.RemainingUSD = decimal.Max(decimal.Zero, remainingUSD)
}

// ClassifyDebt is paid when both balances are within epsilon of zero, open
// when nothing meaningful has been paid, partial otherwise.
func ClassifyDebt(remainingBS, remainingUSD, paidBS, paidUSD decimal.Decimal) enums.DebtStatus {
	switch {
	case remainingBS.LessThanOrEqual(debtEpsilon) && remainingUSD.LessThanOrEqual(debtEpsilon):
		return enums.DebtStatusPaid
	case paidBS.LessThanOrEqual(debtEpsilon) && paidUSD.LessThanOrEqual(debtEpsilon):
		return enums.DebtStatusOpen
	default:
		return enums.DebtStatusPartial
	}
}
