package pos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
)

type SaleInput struct {
	SaleID                uuid.UUID
	RequestID             string
	CashSessionID         *uuid.UUID
	ExchangeRate          decimal.Decimal
	Currency              enums.Currency
	Items                 []events.SaleItem
	Payment               events.SalePayment
	CustomerID            *uuid.UUID
	WarehouseID           *uuid.UUID
	Note                  string
	GenerateFiscalInvoice bool
	InvoiceSeriesID       string
}

// SaleReceipt is what the register shows after a sale is recorded.
type SaleReceipt struct {
	Event        events.Event
	Sale         events.SaleCreated
	FiscalNumber int64
	Debt         *models.Debt
	Stock        []models.StockLedger
}

// SaleTotals sums line subtotals and discounts in both currencies.
func SaleTotals(items []events.SaleItem) events.SaleTotals {
	t := events.SaleTotals{
		SubtotalBS:  decimal.Zero,
		SubtotalUSD: decimal.Zero,
		DiscountBS:  decimal.Zero,
		DiscountUSD: decimal.Zero,
	}
	for _, item := range items {
		t.SubtotalBS = t.SubtotalBS.Add(item.Qty.Mul(item.UnitPriceBS))
		t.SubtotalUSD = t.SubtotalUSD.Add(item.Qty.Mul(item.UnitPriceUSD))
		t.DiscountBS = t.DiscountBS.Add(item.DiscountBS)
		t.DiscountUSD = t.DiscountUSD.Add(item.DiscountUSD)
	}
	t.TotalBS = t.SubtotalBS.Sub(t.DiscountBS)
	t.TotalUSD = t.SubtotalUSD.Sub(t.DiscountUSD)
	return t
}

// RecordSale appends a SaleCreated event, plus a DebtCreated event for credit
// sales. When a fiscal invoice is requested the number is taken first; if
// none is available the sale is not recorded.
func (s *Service) RecordSale(ctx context.Context, actor events.Actor, in SaleInput) (SaleReceipt, error) {
	sale, err := s.buildSale(in)
	if err != nil {
		return SaleReceipt{}, err
	}
	if err := events.ValidatePayload(sale); err != nil {
		return SaleReceipt{}, err
	}

	payloads := []events.Payload{}
	var debt *events.DebtCreated
	if sale.Payment.Method == enums.PaymentMethodCredit {
		debt = &events.DebtCreated{
			DebtID:     uuid.New(),
			SaleID:     &sale.SaleID,
			CustomerID: *sale.CustomerID,
			CreatedAt:  sale.SoldAt,
			AmountBS:   sale.Totals.TotalBS,
			AmountUSD:  sale.Totals.TotalUSD,
			Note:       sale.Note,
		}
	}

	ctx = s.logg.WithField(ctx, "sale_id", sale.SaleID.String())
	if sale.GenerateFiscalInvoice {
		if s.fiscal == nil {
			return SaleReceipt{}, pkgerrors.New(pkgerrors.CodeFiscalExhausted, "fiscal numbering is not configured")
		}
		n, err := s.fiscal.ConsumeNext(ctx, sale.InvoiceSeriesID)
		if err != nil {
			return SaleReceipt{}, err
		}
		sale.FiscalNumber = n
		ctx = s.logg.WithField(ctx, "fiscal_number", n)
	}

	payloads = append(payloads, sale)
	if debt != nil {
		payloads = append(payloads, *debt)
	}
	recorded, err := s.emit(ctx, actor, payloads...)
	if err != nil {
		if sale.FiscalNumber > 0 {
			s.logg.Error(ctx, "sale not recorded after fiscal number was issued", err)
		}
		return SaleReceipt{}, err
	}

	receipt := SaleReceipt{
		Event:        recorded[0],
		Sale:         sale,
		FiscalNumber: sale.FiscalNumber,
	}
	if debt != nil {
		row, err := s.queries.Debt(ctx, debt.DebtID)
		if err != nil {
			return receipt, err
		}
		receipt.Debt = &row
	}
	seen := map[events.StockKey]struct{}{}
	for _, item := range sale.Items {
		key := item.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		row, err := s.queries.Stock(ctx, key)
		if err != nil {
			return receipt, err
		}
		receipt.Stock = append(receipt.Stock, row)
	}
	return receipt, nil
}

func (s *Service) buildSale(in SaleInput) (events.SaleCreated, error) {
	if len(in.Items) == 0 {
		return events.SaleCreated{}, pkgerrors.New(pkgerrors.CodeValidation, "sale requires at least one item")
	}
	if in.Payment.Method == enums.PaymentMethodCredit && (in.CustomerID == nil || *in.CustomerID == uuid.Nil) {
		return events.SaleCreated{}, pkgerrors.New(pkgerrors.CodeValidation, "credit sales require a customer")
	}
	series := strings.TrimSpace(in.InvoiceSeriesID)
	if in.GenerateFiscalInvoice && series == "" {
		return events.SaleCreated{}, pkgerrors.New(pkgerrors.CodeValidation, "fiscal invoice requires a series")
	}

	saleID := in.SaleID
	if saleID == uuid.Nil {
		saleID = uuid.New()
	}
	items := make([]events.SaleItem, len(in.Items))
	for i, item := range in.Items {
		if item.LineID == uuid.Nil {
			item.LineID = uuid.New()
		}
		items[i] = item
	}
	currency := in.Currency
	if currency == "" {
		currency = enums.CurrencyBS
	}
	requestID := in.RequestID
	if requestID == "" {
		requestID = saleID.String()
	}

	return events.SaleCreated{
		SaleID:                saleID,
		RequestID:             requestID,
		CashSessionID:         in.CashSessionID,
		SoldAt:                s.now().UnixMilli(),
		ExchangeRate:          in.ExchangeRate,
		Currency:              currency,
		Items:                 items,
		Totals:                SaleTotals(items),
		Payment:               in.Payment,
		CustomerID:            in.CustomerID,
		WarehouseID:           in.WarehouseID,
		Note:                  in.Note,
		GenerateFiscalInvoice: in.GenerateFiscalInvoice,
		InvoiceSeriesID:       series,
	}, nil
}
