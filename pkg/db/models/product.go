package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lacaja/possync/pkg/enums"
)

// RecipeLine is one ingredient of a prepared product.
type RecipeLine struct {
	IngredientProductID uuid.UUID       `json:"ingredient_product_id"`
	Qty                 decimal.Decimal `json:"qty"`
	Unit                string          `json:"unit,omitempty"`
}

// Product is the local read model of a catalog item. LastEventAt is the
// logical time of the last applied event; CachedAt is wall clock.
type Product struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	StoreID           uuid.UUID         `gorm:"column:store_id;type:uuid;not null;index"`
	Name              string            `gorm:"column:name;not null"`
	Category          *string           `gorm:"column:category"`
	SKU               *string           `gorm:"column:sku"`
	Barcode           *string           `gorm:"column:barcode;index"`
	PriceBS           decimal.Decimal   `gorm:"column:price_bs;type:numeric(18,4);not null"`
	PriceUSD          decimal.Decimal   `gorm:"column:price_usd;type:numeric(18,4);not null"`
	CostBS            decimal.Decimal   `gorm:"column:cost_bs;type:numeric(18,4);not null"`
	CostUSD           decimal.Decimal   `gorm:"column:cost_usd;type:numeric(18,4);not null"`
	LowStockThreshold int               `gorm:"column:low_stock_threshold;not null"`
	IsActive          bool              `gorm:"column:is_active;not null"`
	Description       *string           `gorm:"column:description;type:text"`
	ImageURL          *string           `gorm:"column:image_url"`
	IsRecipe          bool              `gorm:"column:is_recipe;not null"`
	ProfitMargin      decimal.Decimal   `gorm:"column:profit_margin;type:numeric(9,4);not null"`
	ProductType       enums.ProductType `gorm:"column:product_type;not null"`
	IsVisiblePublic   bool              `gorm:"column:is_visible_public;not null"`
	PublicName        *string           `gorm:"column:public_name"`
	PublicCategory    *string           `gorm:"column:public_category"`
	Ingredients       []RecipeLine      `gorm:"column:ingredients;type:text;serializer:json"`
	LastEventID       uuid.UUID         `gorm:"column:last_event_id;type:uuid"`
	LastEventAt       int64             `gorm:"column:updated_at;not null"`
	CachedAt          int64             `gorm:"column:cached_at;not null"`
}
