package models

import "github.com/google/uuid"

// DeviceSequence persists the last seq handed out for a (store, device).
type DeviceSequence struct {
	StoreID  uuid.UUID `gorm:"column:store_id;type:uuid;primaryKey"`
	DeviceID uuid.UUID `gorm:"column:device_id;type:uuid;primaryKey"`
	LastSeq  int64     `gorm:"column:last_seq;not null;default:0"`
}

// SyncCheckpoint is the server time of the last pulled batch for a device.
type SyncCheckpoint struct {
	DeviceID       uuid.UUID `gorm:"column:device_id;type:uuid;primaryKey"`
	LastServerTime int64     `gorm:"column:last_server_time;not null"`
	UpdatedAt      int64     `gorm:"column:updated_at;autoUpdateTime:milli"`
}
