package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer is the local read model of a store customer.
type Customer struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	StoreID     uuid.UUID           `gorm:"column:store_id;type:uuid;not null;index"`
	Name        string              `gorm:"column:name;not null"`
	DocumentID  *string             `gorm:"column:document_id;index"`
	Email       *string             `gorm:"column:email"`
	Phone       *string             `gorm:"column:phone"`
	CreditLimit decimal.NullDecimal `gorm:"column:credit_limit;type:numeric(18,4)"`
	Note        *string             `gorm:"column:note;type:text"`
	LastEventID uuid.UUID           `gorm:"column:last_event_id;type:uuid"`
	LastEventAt int64               `gorm:"column:updated_at;not null"`
	CachedAt    int64               `gorm:"column:cached_at;not null"`
}
