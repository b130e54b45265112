package conflicts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/pagination"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateTx records a rejection and reports whether a pending conflict was
// written. An event holds at most one conflict row: a pending one is left
// alone, a resolved one (an event re-sent after keep_mine and rejected
// again) is reopened with the new rejection details.
func (r *Repository) CreateTx(tx *gorm.DB, row models.LocalConflict) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	serverID := row.ID != uuid.Nil
	if !serverID {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = enums.ConflictStatusPending
	}
	if row.Resolution == "" {
		row.Resolution = enums.ResolutionNone
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	updates := map[string]any{
		"status":                 enums.ConflictStatusPending,
		"resolution":             enums.ResolutionNone,
		"resolved_at":            0,
		"reason":                 row.Reason,
		"event_type":             row.EventType,
		"requires_manual_review": row.RequiresManualReview,
		"conflicting_with":       row.ConflictingWith,
	}
	if serverID {
		updates["id"] = row.ID
	}
	res = tx.Model(&models.LocalConflict{}).
		Where("event_id = ? AND status = ?", row.EventID, enums.ConflictStatusResolved).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (models.LocalConflict, error) {
	return r.GetTx(r.db.WithContext(ctx), id)
}

func (r *Repository) GetTx(tx *gorm.DB, id uuid.UUID) (models.LocalConflict, error) {
	var row models.LocalConflict
	if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.LocalConflict{}, pkgerrors.New(pkgerrors.CodeNotFound, "conflict not found").
				WithDetails(map[string]any{"conflict_id": id.String()})
		}
		return models.LocalConflict{}, err
	}
	return row, nil
}

// ListPending returns unresolved conflicts oldest first. limit <= 0 means all.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]models.LocalConflict, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", enums.ConflictStatusPending).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.LocalConflict
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkResolvedTx performs the single pending->resolved transition.
func (r *Repository) MarkResolvedTx(tx *gorm.DB, id uuid.UUID, resolution enums.ConflictResolution, resolvedAt int64) error {
	res := tx.Model(&models.LocalConflict{}).
		Where("id = ? AND status = ?", id, enums.ConflictStatusPending).
		Updates(map[string]any{
			"status":      enums.ConflictStatusResolved,
			"resolution":  resolution,
			"resolved_at": resolvedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "conflict already resolved").
			WithDetails(map[string]any{"conflict_id": id.String()})
	}
	return nil
}

func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.LocalConflict{}).
		Where("status = ?", enums.ConflictStatusPending).
		Count(&n).Error
	return n, err
}

// ListPendingPage returns one page of unresolved conflicts oldest first and
// the cursor of the following page, nil on the last one.
func (r *Repository) ListPendingPage(ctx context.Context, params pagination.Params) ([]models.LocalConflict, *pagination.Cursor, error) {
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	normalized := pagination.NormalizeLimit(params.Limit)

	q := r.db.WithContext(ctx).Where("status = ?", enums.ConflictStatusPending)
	if after != nil {
		q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", after.CreatedAt, after.CreatedAt, after.ID)
	}
	var rows []models.LocalConflict
	if err := q.Order("created_at ASC").Order("id ASC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[normalized-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}
