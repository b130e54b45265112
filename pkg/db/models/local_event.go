package models

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/lacaja/possync/pkg/enums"
	"github.com/lacaja/possync/pkg/events"
)

// LocalEvent is one row of the append-only per-device event log. Only the
// sync lifecycle columns change after insert.
type LocalEvent struct {
	EventID       uuid.UUID        `gorm:"column:event_id;type:uuid;primaryKey"`
	StoreID       uuid.UUID        `gorm:"column:store_id;type:uuid;not null;uniqueIndex:idx_local_events_device_seq,priority:1"`
	DeviceID      uuid.UUID        `gorm:"column:device_id;type:uuid;not null;uniqueIndex:idx_local_events_device_seq,priority:2"`
	Seq           int64            `gorm:"column:seq;not null;uniqueIndex:idx_local_events_device_seq,priority:3"`
	Type          enums.EventType  `gorm:"column:type;not null"`
	Version       int              `gorm:"column:version;not null;default:1"`
	OccurredAt    int64            `gorm:"column:created_at;not null"`
	ActorUserID   uuid.UUID        `gorm:"column:actor_user_id;type:uuid;not null"`
	ActorRole     enums.StoreRole  `gorm:"column:actor_role;not null"`
	Payload       string           `gorm:"column:payload;type:text;not null"`
	SyncStatus    enums.SyncStatus `gorm:"column:sync_status;not null;default:'pending';index:idx_local_events_status"`
	Attempts      int              `gorm:"column:attempts;not null;default:0"`
	NextAttemptAt int64            `gorm:"column:next_attempt_at;not null;default:0"`
	LastError     *string          `gorm:"column:last_error;type:text"`
	DiscardReason *string          `gorm:"column:discard_reason;type:text"`
	SyncedAt      int64            `gorm:"column:synced_at;not null;default:0"`
	UpdatedAt     int64            `gorm:"column:updated_at;autoUpdateTime:milli"`
}

// NewLocalEvent converts a sequenced event into its pending row.
func NewLocalEvent(e events.Event) (LocalEvent, error) {
	payload, err := events.EncodePayload(e.Payload)
	if err != nil {
		return LocalEvent{}, err
	}
	return LocalEvent{
		EventID:     e.EventID,
		StoreID:     e.StoreID,
		DeviceID:    e.DeviceID,
		Seq:         e.Seq,
		Type:        e.Type.Canonical(),
		Version:     e.Version,
		OccurredAt:  e.CreatedAt,
		ActorUserID: e.Actor.UserID,
		ActorRole:   e.Actor.Role,
		Payload:     payload,
		SyncStatus:  enums.SyncStatusPending,
	}, nil
}

// Envelope rebuilds the wire envelope without decoding the payload.
func (l LocalEvent) Envelope() events.Envelope {
	return events.Envelope{
		EventID:   l.EventID,
		StoreID:   l.StoreID,
		DeviceID:  l.DeviceID,
		Seq:       l.Seq,
		Type:      l.Type,
		Version:   l.Version,
		CreatedAt: l.OccurredAt,
		Actor:     events.Actor{UserID: l.ActorUserID, Role: l.ActorRole},
		Payload:   json.RawMessage(l.Payload),
	}
}

// Event decodes the stored row back into a typed event.
func (l LocalEvent) Event() (events.Event, error) {
	return l.Envelope().Event()
}
