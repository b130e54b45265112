package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
)

// Repository owns the local_events and device_sequences tables.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AssignSeqTx advances the persisted last_seq for (store, device) in one
// statement and returns the new value. A non-zero requested seq must be
// exactly last_seq+1.
func (r *Repository) AssignSeqTx(tx *gorm.DB, storeID, deviceID uuid.UUID, requested int64) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	seed := models.DeviceSequence{StoreID: storeID, DeviceID: deviceID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return 0, fmt.Errorf("seed device sequence: %w", err)
	}

	scope := tx.Model(&models.DeviceSequence{}).
		Where("store_id = ? AND device_id = ?", storeID, deviceID)

	if requested > 0 {
		res := scope.Session(&gorm.Session{}).
			Where("last_seq = ?", requested-1).
			Update("last_seq", requested)
		if res.Error != nil {
			return 0, fmt.Errorf("claim seq %d: %w", requested, res.Error)
		}
		if res.RowsAffected == 0 {
			last, err := r.LastSeqTx(tx, storeID, deviceID)
			if err != nil {
				return 0, err
			}
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "event seq is not the next device sequence").
				WithDetails(map[string]any{"seq": requested, "expected": last + 1})
		}
		return requested, nil
	}

	if err := scope.Session(&gorm.Session{}).
		Update("last_seq", gorm.Expr("last_seq + 1")).Error; err != nil {
		return 0, fmt.Errorf("increment device sequence: %w", err)
	}
	return r.LastSeqTx(tx, storeID, deviceID)
}

// LastSeqTx returns the last assigned seq, zero when the device never wrote.
func (r *Repository) LastSeqTx(tx *gorm.DB, storeID, deviceID uuid.UUID) (int64, error) {
	var row models.DeviceSequence
	err := tx.Where("store_id = ? AND device_id = ?", storeID, deviceID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read device sequence: %w", err)
	}
	return row.LastSeq, nil
}

// InsertTx appends a row; a duplicate event_id is reported as CodeConflict.
func (r *Repository) InsertTx(tx *gorm.DB, row models.LocalEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if err := tx.Create(&row).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "event already recorded").
				WithDetails(map[string]any{"event_id": row.EventID.String()})
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// InsertIfAbsentTx stores an event received from elsewhere; it reports whether
// the row was new.
func (r *Repository) InsertIfAbsentTx(tx *gorm.DB, row models.LocalEvent) (bool, error) {
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("insert remote event: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FetchPending returns transmittable events in seq order, skipping rows whose
// retry window has not elapsed.
func (r *Repository) FetchPending(ctx context.Context, storeID, deviceID uuid.UUID, nowMs int64, limit int) ([]models.LocalEvent, error) {
	var rows []models.LocalEvent
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND device_id = ?", storeID, deviceID).
		Where("sync_status = ?", enums.SyncStatusPending).
		Where("next_attempt_at <= ?", nowMs).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Get(ctx context.Context, eventID uuid.UUID) (models.LocalEvent, error) {
	return r.GetTx(r.db.WithContext(ctx), eventID)
}

func (r *Repository) GetTx(tx *gorm.DB, eventID uuid.UUID) (models.LocalEvent, error) {
	var row models.LocalEvent
	if err := tx.Where("event_id = ?", eventID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.LocalEvent{}, pkgerrors.New(pkgerrors.CodeNotFound, "event not found").
				WithDetails(map[string]any{"event_id": eventID.String()})
		}
		return models.LocalEvent{}, err
	}
	return row, nil
}

func (r *Repository) MarkSyncedTx(tx *gorm.DB, eventIDs []uuid.UUID, nowMs int64) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.LocalEvent{}).
		Where("event_id IN ? AND sync_status = ?", eventIDs, enums.SyncStatusPending).
		Updates(map[string]any{
			"sync_status":     enums.SyncStatusSynced,
			"synced_at":       nowMs,
			"next_attempt_at": 0,
			"last_error":      nil,
		})
	return res.RowsAffected, res.Error
}

// MarkRejectedTx freezes a pending event after a server rejection.
func (r *Repository) MarkRejectedTx(tx *gorm.DB, eventID uuid.UUID, reason string) (bool, error) {
	res := tx.Model(&models.LocalEvent{}).
		Where("event_id = ? AND sync_status = ?", eventID, enums.SyncStatusPending).
		Updates(map[string]any{
			"sync_status": enums.SyncStatusFailed,
			"last_error":  reason,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkTransientFailure records a network-level failure; the events stay pending.
func (r *Repository) MarkTransientFailure(ctx context.Context, eventIDs []uuid.UUID, reason string, nextAttemptAt int64) error {
	if len(eventIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.LocalEvent{}).
		Where("event_id IN ? AND sync_status = ?", eventIDs, enums.SyncStatusPending).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nextAttemptAt,
			"last_error":      reason,
		}).Error
}

// DiscardTx permanently removes a rejected event from transmission.
func (r *Repository) DiscardTx(tx *gorm.DB, eventID uuid.UUID, reason string) error {
	res := tx.Model(&models.LocalEvent{}).
		Where("event_id = ? AND sync_status IN ?", eventID, []enums.SyncStatus{enums.SyncStatusFailed, enums.SyncStatusPending}).
		Updates(map[string]any{
			"sync_status":    enums.SyncStatusDiscarded,
			"discard_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.transitionError(tx, eventID, enums.SyncStatusDiscarded)
	}
	return nil
}

// ResetToPendingTx puts a rejected event back in the queue with a clean retry budget.
func (r *Repository) ResetToPendingTx(tx *gorm.DB, eventID uuid.UUID) error {
	res := tx.Model(&models.LocalEvent{}).
		Where("event_id = ? AND sync_status = ?", eventID, enums.SyncStatusFailed).
		Updates(map[string]any{
			"sync_status":     enums.SyncStatusPending,
			"attempts":        0,
			"next_attempt_at": 0,
			"last_error":      nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.transitionError(tx, eventID, enums.SyncStatusPending)
	}
	return nil
}

func (r *Repository) transitionError(tx *gorm.DB, eventID uuid.UUID, target enums.SyncStatus) error {
	row, err := r.GetTx(tx, eventID)
	if err != nil {
		return err
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "illegal event status transition").
		WithDetails(map[string]any{
			"event_id": eventID.String(),
			"from":     row.SyncStatus,
			"to":       target,
		})
}

// ListForReplay returns every stored event in application order. Discarded
// events are included: they were projected when recorded and take_theirs
// does not undo them, so a rebuild has to see them too.
func (r *Repository) ListForReplay(ctx context.Context) ([]models.LocalEvent, error) {
	var rows []models.LocalEvent
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("device_id ASC").
		Order("seq ASC").
		Find(&rows).Error
	return rows, err
}

type statusCount struct {
	SyncStatus enums.SyncStatus
	Count      int64
}

// CountByStatus groups the device's events by sync status.
func (r *Repository) CountByStatus(ctx context.Context, storeID, deviceID uuid.UUID) (map[enums.SyncStatus]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).Model(&models.LocalEvent{}).
		Select("sync_status, COUNT(*) AS count").
		Where("store_id = ? AND device_id = ?", storeID, deviceID).
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[enums.SyncStatus]int64, len(rows))
	for _, row := range rows {
		out[row.SyncStatus] = row.Count
	}
	return out, nil
}
