package fiscal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
)

// LeaseKey scopes leases to one numbering series on one device.
type LeaseKey struct {
	StoreID  uuid.UUID
	SeriesID string
	DeviceID uuid.UUID
}

func (k LeaseKey) String() string {
	return k.StoreID.String() + ":" + k.SeriesID + ":" + k.DeviceID.String()
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) scoped(tx *gorm.DB, key LeaseKey) *gorm.DB {
	return tx.Model(&models.FiscalRange{}).
		Where("store_id = ? AND series_id = ? AND device_id = ?", key.StoreID, key.SeriesID, key.DeviceID)
}

// ExpireStale demotes active leases whose expiry has passed.
func (r *Repository) ExpireStale(ctx context.Context, key LeaseKey, nowMs int64) (int64, error) {
	res := r.scoped(r.db.WithContext(ctx), key).
		Where("status = ? AND expires_at < ?", enums.FiscalRangeActive, nowMs).
		Update("status", enums.FiscalRangeExpired)
	return res.RowsAffected, res.Error
}

// ListActive returns active, unexpired leases with the most remaining
// capacity first, newest grant first on ties.
func (r *Repository) ListActive(ctx context.Context, key LeaseKey, nowMs int64) ([]models.FiscalRange, error) {
	var rows []models.FiscalRange
	err := r.scoped(r.db.WithContext(ctx), key).
		Where("status = ? AND expires_at >= ?", enums.FiscalRangeActive, nowMs).
		Order("(range_end - used_up_to) DESC").
		Order("granted_at DESC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBySeries returns every lease of the key regardless of status.
func (r *Repository) ListBySeries(ctx context.Context, key LeaseKey) ([]models.FiscalRange, error) {
	var rows []models.FiscalRange
	err := r.scoped(r.db.WithContext(ctx), key).
		Order("range_start ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) Get(ctx context.Context, id string) (models.FiscalRange, error) {
	return r.getTx(r.db.WithContext(ctx), id)
}

func (r *Repository) getTx(tx *gorm.DB, id string) (models.FiscalRange, error) {
	var row models.FiscalRange
	if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.FiscalRange{}, pkgerrors.New(pkgerrors.CodeNotFound, "fiscal range not found").
				WithDetails(map[string]any{"range_id": id})
		}
		return models.FiscalRange{}, err
	}
	return row, nil
}

// Advance moves used_up_to from prev to next only if nobody else did in the
// meantime and the lease is still active and unexpired.
func (r *Repository) Advance(ctx context.Context, id string, prev, next, nowMs int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.FiscalRange{}).
		Where("id = ? AND used_up_to = ? AND status = ? AND expires_at >= ? AND range_end >= ?",
			id, prev, enums.FiscalRangeActive, nowMs, next).
		Update("used_up_to", next)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkExhausted is a no-op for leases that already left the active state.
func (r *Repository) MarkExhausted(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.FiscalRange{}).
		Where("id = ? AND status = ?", id, enums.FiscalRangeActive).
		Update("status", enums.FiscalRangeExhausted).Error
}

// Adopt stores a lease received from the server. For a lease already known
// locally, used_up_to only moves forward and a terminal status sticks.
func (r *Repository) Adopt(ctx context.Context, row models.FiscalRange) (models.FiscalRange, error) {
	var out models.FiscalRange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := r.getTx(tx, row.ID)
		if err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			out = row
			return nil
		}

		updates := map[string]any{}
		if row.UsedUpTo > existing.UsedUpTo {
			updates["used_up_to"] = min(row.UsedUpTo, existing.RangeEnd)
		}
		if existing.Status == enums.FiscalRangeActive {
			if row.Status != enums.FiscalRangeActive {
				updates["status"] = row.Status
			}
			if row.ExpiresAt > existing.ExpiresAt {
				updates["expires_at"] = row.ExpiresAt
			}
		}
		if len(updates) > 0 {
			if err := tx.Model(&models.FiscalRange{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		out, err = r.getTx(tx, row.ID)
		return err
	})
	return out, err
}
