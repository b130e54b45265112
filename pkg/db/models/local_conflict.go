package models

import (
	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/enums"
)

// LocalConflict records a server rejection of a local event. One row per
// event; transitions pending->resolved once.
type LocalConflict struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventID              uuid.UUID                `gorm:"column:event_id;type:uuid;not null;uniqueIndex:idx_local_conflicts_event" json:"event_id"`
	EventType            enums.EventType          `gorm:"column:event_type;not null" json:"event_type"`
	Reason               string                   `gorm:"column:reason;type:text;not null" json:"reason"`
	ConflictingWith      *string                  `gorm:"column:conflicting_with" json:"conflicting_with,omitempty"`
	RequiresManualReview bool                     `gorm:"column:requires_manual_review;not null;default:false" json:"requires_manual_review"`
	Status               enums.ConflictStatus     `gorm:"column:status;not null;default:'pending';index:idx_local_conflicts_status" json:"status"`
	Resolution           enums.ConflictResolution `gorm:"column:resolution;not null;default:'none'" json:"resolution"`
	ResolvedAt           int64                    `gorm:"column:resolved_at;not null;default:0" json:"resolved_at"`
	CreatedAt            int64                    `gorm:"column:created_at;autoCreateTime:milli" json:"created_at"`
}
