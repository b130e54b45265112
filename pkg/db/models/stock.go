package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLedger is the running on-hand total per product and variant.
// VariantID is uuid.Nil for products without variants.
type StockLedger struct {
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;primaryKey"`
	VariantID   uuid.UUID       `gorm:"column:variant_id;type:uuid;primaryKey"`
	StoreID     uuid.UUID       `gorm:"column:store_id;type:uuid;not null"`
	Stock       decimal.Decimal `gorm:"column:stock;type:numeric(18,4);not null"`
	LastEventAt int64           `gorm:"column:updated_at;not null"`
}

// EscrowGrant is stock quota reserved for a device, tracked apart from the ledger.
type EscrowGrant struct {
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;primaryKey"`
	VariantID   uuid.UUID       `gorm:"column:variant_id;type:uuid;primaryKey"`
	StoreID     uuid.UUID       `gorm:"column:store_id;type:uuid;not null"`
	QtyGranted  decimal.Decimal `gorm:"column:qty_granted;type:numeric(18,4);not null"`
	ExpiresAt   int64           `gorm:"column:expires_at;not null;default:0"`
	LastEventAt int64           `gorm:"column:updated_at;not null"`
}

// AppliedEvent marks an event_id as already projected.
type AppliedEvent struct {
	EventID   uuid.UUID `gorm:"column:event_id;type:uuid;primaryKey"`
	Type      string    `gorm:"column:type;not null"`
	AppliedAt int64     `gorm:"column:applied_at;not null"`
}
