package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lacaja/possync/pkg/enums"
)

type ProductCreated struct {
	ProductID         uuid.UUID         `json:"product_id" validate:"required"`
	Name              string            `json:"name" validate:"required,max=200"`
	Category          string            `json:"category,omitempty"`
	SKU               string            `json:"sku,omitempty"`
	Barcode           string            `json:"barcode,omitempty"`
	PriceBS           decimal.Decimal   `json:"price_bs" validate:"gte=0"`
	PriceUSD          decimal.Decimal   `json:"price_usd" validate:"gte=0"`
	CostBS            decimal.Decimal   `json:"cost_bs" validate:"gte=0"`
	CostUSD           decimal.Decimal   `json:"cost_usd" validate:"gte=0"`
	IsActive          bool              `json:"is_active"`
	LowStockThreshold int               `json:"low_stock_threshold" validate:"gte=0"`
	Description       string            `json:"description,omitempty"`
	ImageURL          string            `json:"image_url,omitempty" validate:"omitempty,url"`
	IsRecipe          bool              `json:"is_recipe,omitempty"`
	ProfitMargin      decimal.Decimal   `json:"profit_margin"`
	ProductType       enums.ProductType `json:"product_type,omitempty" validate:"omitempty,product_type"`
	IsVisiblePublic   bool              `json:"is_visible_public,omitempty"`
	PublicName        string            `json:"public_name,omitempty"`
	PublicCategory    string            `json:"public_category,omitempty"`
}

// ProductPatch carries only the fields a ProductUpdated event changes.
type ProductPatch struct {
	Name              *string            `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Category          *string            `json:"category,omitempty"`
	SKU               *string            `json:"sku,omitempty"`
	Barcode           *string            `json:"barcode,omitempty"`
	LowStockThreshold *int               `json:"low_stock_threshold,omitempty" validate:"omitempty,gte=0"`
	Description       *string            `json:"description,omitempty"`
	ImageURL          *string            `json:"image_url,omitempty"`
	IsRecipe          *bool              `json:"is_recipe,omitempty"`
	ProfitMargin      *decimal.Decimal   `json:"profit_margin,omitempty"`
	ProductType       *enums.ProductType `json:"product_type,omitempty" validate:"omitempty,product_type"`
	IsVisiblePublic   *bool              `json:"is_visible_public,omitempty"`
	PublicName        *string            `json:"public_name,omitempty"`
	PublicCategory    *string            `json:"public_category,omitempty"`
}

type ProductUpdated struct {
	ProductID uuid.UUID    `json:"product_id" validate:"required"`
	Patch     ProductPatch `json:"patch"`
}

type ProductDeactivated struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
}

type PriceChanged struct {
	ProductID   uuid.UUID       `json:"product_id" validate:"required"`
	PriceBS     decimal.Decimal `json:"price_bs" validate:"gte=0"`
	PriceUSD    decimal.Decimal `json:"price_usd" validate:"gte=0"`
	Reason      string          `json:"reason" validate:"required,oneof=manual bulk supplier"`
	Rounding    string          `json:"rounding" validate:"omitempty,oneof=none 0.1 0.5 1"`
	EffectiveAt int64           `json:"effective_at" validate:"gte=0"`
}

type RecipeIngredient struct {
	IngredientProductID uuid.UUID       `json:"ingredient_product_id" validate:"required"`
	Qty                 decimal.Decimal `json:"qty" validate:"gt=0"`
	Unit                string          `json:"unit,omitempty"`
}

type RecipeIngredientsUpdated struct {
	ProductID   uuid.UUID          `json:"product_id" validate:"required"`
	Ingredients []RecipeIngredient `json:"ingredients" validate:"dive"`
}

type CustomerCreated struct {
	CustomerID  uuid.UUID        `json:"customer_id" validate:"required"`
	Name        string           `json:"name" validate:"required,max=200"`
	DocumentID  string           `json:"document_id,omitempty"`
	Email       string           `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string           `json:"phone,omitempty"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
	Note        string           `json:"note,omitempty"`
}

type CustomerPatch struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	DocumentID  *string          `json:"document_id,omitempty"`
	Email       *string          `json:"email,omitempty" validate:"omitempty,email"`
	Phone       *string          `json:"phone,omitempty"`
	CreditLimit *decimal.Decimal `json:"credit_limit,omitempty"`
	Note        *string          `json:"note,omitempty"`
}

type CustomerUpdated struct {
	CustomerID uuid.UUID     `json:"customer_id" validate:"required"`
	Patch      CustomerPatch `json:"patch"`
}

type DebtCreated struct {
	DebtID     uuid.UUID       `json:"debt_id" validate:"required"`
	SaleID     *uuid.UUID      `json:"sale_id,omitempty"`
	CustomerID uuid.UUID       `json:"customer_id" validate:"required"`
	CreatedAt  int64           `json:"created_at" validate:"gte=0"`
	AmountBS   decimal.Decimal `json:"amount_bs" validate:"gte=0"`
	AmountUSD  decimal.Decimal `json:"amount_usd" validate:"gte=0"`
	Note       string          `json:"note,omitempty"`
}

type DebtPaymentRecorded struct {
	PaymentID uuid.UUID           `json:"payment_id" validate:"required"`
	DebtID    uuid.UUID           `json:"debt_id" validate:"required"`
	PaidAt    int64               `json:"paid_at" validate:"gte=0"`
	AmountBS  decimal.Decimal     `json:"amount_bs" validate:"gte=0"`
	AmountUSD decimal.Decimal     `json:"amount_usd" validate:"gte=0"`
	Method    enums.PaymentMethod `json:"method" validate:"required,debt_payment_method"`
	Note      string              `json:"note,omitempty"`
}

type StockDeltaApplied struct {
	MovementID  uuid.UUID       `json:"movement_id" validate:"required"`
	ProductID   uuid.UUID       `json:"product_id" validate:"required"`
	VariantID   *uuid.UUID      `json:"variant_id,omitempty"`
	WarehouseID *uuid.UUID      `json:"warehouse_id,omitempty"`
	QtyDelta    decimal.Decimal `json:"qty_delta" validate:"ne=0"`
	Reason      string          `json:"reason" validate:"required"`
	RequestID   string          `json:"request_id,omitempty"`
}

func (p StockDeltaApplied) Key() StockKey { return NewStockKey(p.ProductID, p.VariantID) }

type StockQuotaGranted struct {
	QuotaID    uuid.UUID       `json:"quota_id" validate:"required"`
	ProductID  uuid.UUID       `json:"product_id" validate:"required"`
	VariantID  *uuid.UUID      `json:"variant_id,omitempty"`
	DeviceID   uuid.UUID       `json:"device_id" validate:"required"`
	QtyGranted decimal.Decimal `json:"qty_granted" validate:"gt=0"`
	ExpiresAt  int64           `json:"expires_at,omitempty" validate:"gte=0"`
	RequestID  string          `json:"request_id,omitempty"`
}

func (p StockQuotaGranted) Key() StockKey { return NewStockKey(p.ProductID, p.VariantID) }

// StockQuotaReclaimed returns escrowed quantity to the store. A zero
// QtyReclaimed reclaims the whole grant.
type StockQuotaReclaimed struct {
	QuotaID      uuid.UUID       `json:"quota_id,omitempty"`
	ProductID    uuid.UUID       `json:"product_id" validate:"required"`
	VariantID    *uuid.UUID      `json:"variant_id,omitempty"`
	DeviceID     uuid.UUID       `json:"device_id,omitempty"`
	QtyReclaimed decimal.Decimal `json:"qty_reclaimed" validate:"gte=0"`
	Reason       string          `json:"reason,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
}

func (p StockQuotaReclaimed) Key() StockKey { return NewStockKey(p.ProductID, p.VariantID) }

type SaleItem struct {
	LineID       uuid.UUID       `json:"line_id" validate:"required"`
	ProductID    uuid.UUID       `json:"product_id" validate:"required"`
	VariantID    *uuid.UUID      `json:"variant_id,omitempty"`
	Qty          decimal.Decimal `json:"qty" validate:"gt=0"`
	UnitPriceBS  decimal.Decimal `json:"unit_price_bs" validate:"gte=0"`
	UnitPriceUSD decimal.Decimal `json:"unit_price_usd" validate:"gte=0"`
	DiscountBS   decimal.Decimal `json:"discount_bs" validate:"gte=0"`
	DiscountUSD  decimal.Decimal `json:"discount_usd" validate:"gte=0"`
}

func (i SaleItem) Key() StockKey { return NewStockKey(i.ProductID, i.VariantID) }

type SaleTotals struct {
	SubtotalBS  decimal.Decimal `json:"subtotal_bs"`
	SubtotalUSD decimal.Decimal `json:"subtotal_usd"`
	DiscountBS  decimal.Decimal `json:"discount_bs"`
	DiscountUSD decimal.Decimal `json:"discount_usd"`
	TotalBS     decimal.Decimal `json:"total_bs"`
	TotalUSD    decimal.Decimal `json:"total_usd"`
}

type SplitPayment struct {
	CashBS      decimal.Decimal `json:"cash_bs"`
	CashUSD     decimal.Decimal `json:"cash_usd"`
	PagoMovilBS decimal.Decimal `json:"pago_movil_bs"`
	TransferBS  decimal.Decimal `json:"transfer_bs"`
	OtherBS     decimal.Decimal `json:"other_bs"`
}

type SalePayment struct {
	Method enums.PaymentMethod `json:"method" validate:"required,payment_method"`
	Split  *SplitPayment       `json:"split,omitempty"`
}

type SaleCreated struct {
	SaleID                uuid.UUID       `json:"sale_id" validate:"required"`
	RequestID             string          `json:"request_id,omitempty"`
	CashSessionID         *uuid.UUID      `json:"cash_session_id,omitempty"`
	SoldAt                int64           `json:"sold_at" validate:"gte=0"`
	ExchangeRate          decimal.Decimal `json:"exchange_rate" validate:"gt=0"`
	Currency              enums.Currency  `json:"currency" validate:"required,currency"`
	Items                 []SaleItem      `json:"items" validate:"required,min=1,dive"`
	Totals                SaleTotals      `json:"totals"`
	Payment               SalePayment     `json:"payment"`
	CustomerID            *uuid.UUID      `json:"customer_id,omitempty"`
	WarehouseID           *uuid.UUID      `json:"warehouse_id,omitempty"`
	Note                  string          `json:"note,omitempty"`
	GenerateFiscalInvoice bool            `json:"generate_fiscal_invoice,omitempty"`
	InvoiceSeriesID       string          `json:"invoice_series_id,omitempty" validate:"required_if=GenerateFiscalInvoice true"`
	FiscalNumber          int64           `json:"fiscal_number,omitempty" validate:"gte=0"`
}

func (ProductCreated) EventType() enums.EventType { return enums.EventProductCreated }
func (ProductUpdated) EventType() enums.EventType { return enums.EventProductUpdated }
func (ProductDeactivated) EventType() enums.EventType { return enums.EventProductDeactivated }
func (PriceChanged) EventType() enums.EventType { return enums.EventPriceChanged }
func (RecipeIngredientsUpdated) EventType() enums.EventType { return enums.EventRecipeIngredientsUpdated }
func (CustomerCreated) EventType() enums.EventType { return enums.EventCustomerCreated }
func (CustomerUpdated) EventType() enums.EventType { return enums.EventCustomerUpdated }
func (DebtCreated) EventType() enums.EventType { return enums.EventDebtCreated }
func (DebtPaymentRecorded) EventType() enums.EventType { return enums.EventDebtPaymentRecorded }
func (StockDeltaApplied) EventType() enums.EventType { return enums.EventStockDeltaApplied }
func (StockQuotaGranted) EventType() enums.EventType { return enums.EventStockQuotaGranted }
func (StockQuotaReclaimed) EventType() enums.EventType { return enums.EventStockQuotaReclaimed }
func (SaleCreated) EventType() enums.EventType { return enums.EventSaleCreated }

func (ProductCreated) sealed() {}
func (ProductUpdated) sealed() {}
func (ProductDeactivated) sealed() {}
func (PriceChanged) sealed() {}
func (RecipeIngredientsUpdated) sealed() {}
func (CustomerCreated) sealed() {}
func (CustomerUpdated) sealed() {}
func (DebtCreated) sealed() {}
func (DebtPaymentRecorded) sealed() {}
func (StockDeltaApplied) sealed() {}
func (StockQuotaGranted) sealed() {}
func (StockQuotaReclaimed) sealed() {}
func (SaleCreated) sealed() {}
