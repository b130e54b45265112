package models

import (
	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/enums"
)

// FiscalRange is a leased block of fiscal numbers [RangeStart, RangeEnd].
// UsedUpTo is the last consumed number, RangeStart-1 when untouched.
type FiscalRange struct {
	ID         string                  `gorm:"column:id;primaryKey"`
	StoreID    uuid.UUID               `gorm:"column:store_id;type:uuid;not null;index:idx_fiscal_ranges_lease,priority:1"`
	SeriesID   string                  `gorm:"column:series_id;not null;index:idx_fiscal_ranges_lease,priority:2"`
	DeviceID   uuid.UUID               `gorm:"column:device_id;type:uuid;not null;index:idx_fiscal_ranges_lease,priority:3"`
	RangeStart int64                   `gorm:"column:range_start;not null"`
	RangeEnd   int64                   `gorm:"column:range_end;not null"`
	UsedUpTo   int64                   `gorm:"column:used_up_to;not null"`
	Status     enums.FiscalRangeStatus `gorm:"column:status;not null;default:'active';index:idx_fiscal_ranges_lease,priority:4"`
	GrantedAt  int64                   `gorm:"column:granted_at;not null"`
	ExpiresAt  int64                   `gorm:"column:expires_at;not null"`
	UpdatedAt  int64                   `gorm:"column:updated_at;autoUpdateTime:milli"`
}

// Remaining is the count of numbers still available in the lease.
func (r FiscalRange) Remaining() int64 {
	if r.UsedUpTo >= r.RangeEnd {
		return 0
	}
	return r.RangeEnd - r.UsedUpTo
}

// Size is the total count of numbers in the lease.
func (r FiscalRange) Size() int64 {
	return r.RangeEnd - r.RangeStart + 1
}

// Usable reports whether the lease can still hand out numbers at nowMs.
func (r FiscalRange) Usable(nowMs int64) bool {
	return r.Status == enums.FiscalRangeActive && r.ExpiresAt >= nowMs && r.Remaining() > 0
}
