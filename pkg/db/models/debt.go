package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lacaja/possync/pkg/enums"
)

// Debt is a customer credit balance in both settlement currencies.
// Remaining amounts are clamped at zero.
type Debt struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	StoreID      uuid.UUID        `gorm:"column:store_id;type:uuid;not null"`
	CustomerID   uuid.UUID        `gorm:"column:customer_id;type:uuid;not null;index"`
	SaleID       *uuid.UUID       `gorm:"column:sale_id;type:uuid"`
	AmountBS     decimal.Decimal  `gorm:"column:amount_bs;type:numeric(18,4);not null"`
	AmountUSD    decimal.Decimal  `gorm:"column:amount_usd;type:numeric(18,4);not null"`
	TotalPaidBS  decimal.Decimal  `gorm:"column:total_paid_bs;type:numeric(18,4);not null"`
	TotalPaidUSD decimal.Decimal  `gorm:"column:total_paid_usd;type:numeric(18,4);not null"`
	RemainingBS  decimal.Decimal  `gorm:"column:remaining_bs;type:numeric(18,4);not null"`
	RemainingUSD decimal.Decimal  `gorm:"column:remaining_usd;type:numeric(18,4);not null"`
	Status       enums.DebtStatus `gorm:"column:status;not null;default:'open'"`
	OpenedAt     int64            `gorm:"column:created_at;not null"`
	Note         *string          `gorm:"column:note;type:text"`
	LastEventID  uuid.UUID        `gorm:"column:last_event_id;type:uuid"`
	LastEventAt  int64            `gorm:"column:updated_at;not null"`
	CachedAt     int64            `gorm:"column:cached_at;not null"`
}
