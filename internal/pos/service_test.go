package pos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/internal/projection"
	"github.com/lacaja/possync/pkg/cache"
	"github.com/lacaja/possync/pkg/db/dbtest"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
)

var (
	testNow   = time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC)
	testActor = events.Actor{UserID: uuid.MustParse("5b0f6d44-7a0e-4d8c-9a1d-0c8a4a8c2f10"), Role: enums.StoreRoleCashier}
)

type stubAllocator struct {
	next  int64
	err   error
	calls []string
}

func (a *stubAllocator) ConsumeNext(_ context.Context, series string) (int64, error) {
	a.calls = append(a.calls, series)
	if a.err != nil {
		return 0, a.err
	}
	a.next++
	return a.next, nil
}

type fixture struct {
	svc    *Service
	store  *eventstore.Store
	fiscal *stubAllocator
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	c := cache.New(cache.NewMemoryBackend(), time.Minute, nil)
	now := func() time.Time { return testNow }

	manager, err := projection.NewManager(projection.ManagerParams{DB: client, Cache: c, Now: now})
	require.NoError(t, err)
	store, err := eventstore.NewService(eventstore.ServiceParams{
		DB:        client,
		StoreID:   uuid.New(),
		DeviceID:  uuid.New(),
		Projector: manager,
		Now:       now,
	})
	require.NoError(t, err)

	fiscal := &stubAllocator{next: 100}
	svc, err := NewService(ServiceParams{
		Store:   store,
		Queries: projection.NewQueries(client, c),
		Fiscal:  fiscal,
		Now:     now,
	})
	require.NoError(t, err)
	return fixture{svc: svc, store: store, fiscal: fiscal}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.EqualError(t, err, "event store required")
}

func TestProductActionsReturnProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product, err := f.svc.CreateProduct(ctx, testActor, events.ProductCreated{
		Name:     "Harina PAN",
		PriceBS:  dec("45.50"),
		PriceUSD: dec("1.25"),
		IsActive: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, product.ID)
	assert.Equal(t, "Harina PAN", product.Name)
	assert.True(t, product.IsActive)

	name := "Harina PAN 1kg"
	product, err = f.svc.UpdateProduct(ctx, testActor, product.ID, events.ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, product.Name)

	product, err = f.svc.ChangePrice(ctx, testActor, events.PriceChanged{ProductID: product.ID, PriceBS: dec("50"), PriceUSD: dec("1.40")})
	require.NoError(t, err)
	assert.True(t, product.PriceBS.Equal(dec("50")))

	product, err = f.svc.DeactivateProduct(ctx, testActor, product.ID)
	require.NoError(t, err)
	assert.False(t, product.IsActive)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Pending)
	assert.Equal(t, int64(4), stats.LastSeq)
}

func TestInvalidActionAppendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateCustomer(ctx, testActor, events.CustomerCreated{Name: "Ana", Email: "not-an-email"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.LastSeq)
}

func TestRecordSaleConsumesFiscalNumberAndStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := uuid.New()

	_, err := f.svc.ApplyStockDelta(ctx, testActor, events.StockDeltaApplied{ProductID: productID, QtyDelta: dec("10"), Reason: "purchase"})
	require.NoError(t, err)

	receipt, err := f.svc.RecordSale(ctx, testActor, SaleInput{
		ExchangeRate: dec("36.5"),
		Items: []events.SaleItem{
			{ProductID: productID, Qty: dec("2"), UnitPriceBS: dec("10"), UnitPriceUSD: dec("0.3"), DiscountBS: dec("1")},
			{ProductID: productID, Qty: dec("1"), UnitPriceBS: dec("10"), UnitPriceUSD: dec("0.3")},
		},
		Payment:               events.SalePayment{Method: enums.PaymentMethodCashBS},
		GenerateFiscalInvoice: true,
		InvoiceSeriesID:       " F001 ",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(101), receipt.FiscalNumber)
	assert.Equal(t, []string{"F001"}, f.fiscal.calls)
	assert.Equal(t, enums.EventSaleCreated, receipt.Event.Type)
	assert.True(t, receipt.Sale.Totals.SubtotalBS.Equal(dec("30")))
	assert.True(t, receipt.Sale.Totals.TotalBS.Equal(dec("29")))
	require.Len(t, receipt.Stock, 1)
	assert.True(t, receipt.Stock[0].Stock.Equal(dec("7")), "stock %s", receipt.Stock[0].Stock)
	assert.Nil(t, receipt.Debt)
}

func TestRecordSaleWithoutFiscalNumberAborts(t *testing.T) {
	f := newFixture(t)
	f.fiscal.err = pkgerrors.New(pkgerrors.CodeFiscalExhausted, "no fiscal numbers available offline")
	ctx := context.Background()

	_, err := f.svc.RecordSale(ctx, testActor, SaleInput{
		ExchangeRate:          dec("36.5"),
		Items:                 []events.SaleItem{{ProductID: uuid.New(), Qty: dec("1"), UnitPriceBS: dec("5")}},
		Payment:               events.SalePayment{Method: enums.PaymentMethodCashBS},
		GenerateFiscalInvoice: true,
		InvoiceSeriesID:       "F001",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeFiscalExhausted))

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.LastSeq)
}

func TestInvalidSaleDoesNotBurnFiscalNumber(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordSale(context.Background(), testActor, SaleInput{
		Items:                 []events.SaleItem{{ProductID: uuid.New(), Qty: dec("1")}},
		Payment:               events.SalePayment{Method: enums.PaymentMethodCashBS},
		GenerateFiscalInvoice: true,
		InvoiceSeriesID:       "F001",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.fiscal.calls)
}

func TestCreditSaleOpensDebt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordSale(ctx, testActor, SaleInput{
		ExchangeRate: dec("36.5"),
		Items:        []events.SaleItem{{ProductID: uuid.New(), Qty: dec("1"), UnitPriceBS: dec("80")}},
		Payment:      events.SalePayment{Method: enums.PaymentMethodCredit},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	customer, err := f.svc.CreateCustomer(ctx, testActor, events.CustomerCreated{Name: "Ana"})
	require.NoError(t, err)

	receipt, err := f.svc.RecordSale(ctx, testActor, SaleInput{
		ExchangeRate: dec("36.5"),
		Items:        []events.SaleItem{{ProductID: uuid.New(), Qty: dec("1"), UnitPriceBS: dec("80")}},
		Payment:      events.SalePayment{Method: enums.PaymentMethodCredit},
		CustomerID:   &customer.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, receipt.Debt)
	assert.Equal(t, customer.ID, receipt.Debt.CustomerID)
	assert.Equal(t, receipt.Sale.SaleID, *receipt.Debt.SaleID)
	assert.True(t, receipt.Debt.RemainingBS.Equal(dec("80")))
	assert.Equal(t, enums.DebtStatusOpen, receipt.Debt.Status)

	debt, err := f.svc.RecordDebtPayment(ctx, testActor, events.DebtPaymentRecorded{
		DebtID:   receipt.Debt.ID,
		AmountBS: dec("80"),
		Method:   enums.PaymentMethodPagoMovil,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DebtStatusPaid, debt.Status)
}

func TestEscrowGrantAndFullReclaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	productID := uuid.New()

	grant, err := f.svc.GrantEscrow(ctx, testActor, events.StockQuotaGranted{ProductID: productID, QtyGranted: dec("12")})
	require.NoError(t, err)
	assert.True(t, grant.QtyGranted.Equal(dec("12")))

	left, err := f.svc.ReclaimEscrow(ctx, testActor, events.StockQuotaReclaimed{ProductID: productID, QtyReclaimed: dec("5")})
	require.NoError(t, err)
	require.NotNil(t, left)
	assert.True(t, left.QtyGranted.Equal(dec("7")))

	left, err = f.svc.ReclaimEscrow(ctx, testActor, events.StockQuotaReclaimed{ProductID: productID})
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestSaleTotals(t *testing.T) {
	totals := SaleTotals([]events.SaleItem{
		{Qty: dec("3"), UnitPriceBS: dec("2.5"), UnitPriceUSD: dec("0.07"), DiscountBS: dec("0.5")},
		{Qty: dec("0.5"), UnitPriceBS: dec("10"), UnitPriceUSD: dec("0.27"), DiscountUSD: dec("0.01")},
	})
	assert.True(t, totals.SubtotalBS.Equal(dec("12.5")))
	assert.True(t, totals.SubtotalUSD.Equal(dec("0.345")))
	assert.True(t, totals.TotalBS.Equal(dec("12")))
	assert.True(t, totals.TotalUSD.Equal(dec("0.335")))
}
