package projection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lacaja/possync/pkg/cache"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/logger"
	"github.com/lacaja/possync/pkg/metrics"
)

// EventSource yields the full event log for a replay.
type EventSource interface {
	All(ctx context.Context) ([]events.Event, error)
}

type ManagerParams struct {
	DB      *db.Client
	Logger  *logger.Logger
	Cache   *cache.Cache
	Metrics *metrics.ProjectionMetrics
	Now     func() time.Time
}

// Manager materializes read models from events. Batches are applied one at
// a time; each event commits in its own transaction together with its
// applied_events marker.
type Manager struct {
	db      *db.Client
	logg    *logger.Logger
	cache   *cache.Cache
	metrics *metrics.ProjectionMetrics
	now     func() time.Time

	mu sync.Mutex
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		db:      params.DB,
		logg:    logg,
		cache:   params.Cache,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// ApplyEvents applies batch in (created_at, device_id, seq) order and
// returns how many events changed state. Already applied events are skipped
// and a failing handler only loses its own event.
func (m *Manager) ApplyEvents(ctx context.Context, batch []events.Event) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(ctx, batch), nil
}

func (m *Manager) applyLocked(ctx context.Context, batch []events.Event) int {
	ordered := SortForApply(batch)
	touched := make(map[cache.Scope]struct{})
	applied := 0

	for _, e := range ordered {
		eventType := string(e.Type.Canonical())
		scope, duplicate, err := m.applyOne(ctx, e)
		if errors.Is(err, errTargetMissing) {
			m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
				"event_id": e.EventID.String(),
				"type":     eventType,
				"error":    err.Error(),
			}), "projection target missing, event left unapplied")
			continue
		}
		if err != nil {
			m.metrics.IncFailure(eventType)
			m.logg.Error(m.logg.WithFields(ctx, map[string]any{
				"event_id": e.EventID.String(),
				"type":     eventType,
				"seq":      e.Seq,
			}), "projection handler failed", err)
			continue
		}
		if duplicate {
			m.metrics.IncDuplicate(eventType)
			continue
		}
		applied++
		m.metrics.IncApplied(eventType)
		touched[scope] = struct{}{}
	}

	if len(touched) > 0 {
		scopes := make([]cache.Scope, 0, len(touched))
		for scope := range touched {
			scopes = append(scopes, scope)
		}
		if err := m.cache.Invalidate(ctx, scopes...); err != nil {
			m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "cache invalidation after projection failed")
		}
	}
	if applied > 0 {
		m.logg.Debug(m.logg.WithField(ctx, "applied", applied), "events projected")
	}
	return applied
}

func (m *Manager) applyOne(ctx context.Context, e events.Event) (cache.Scope, bool, error) {
	var (
		scope     cache.Scope
		duplicate bool
	)
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		marker := models.AppliedEvent{
			EventID:   e.EventID,
			Type:      string(e.Type.Canonical()),
			AppliedAt: m.now().UnixMilli(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker)
		if res.Error != nil {
			return fmt.Errorf("record applied event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			duplicate = true
			return nil
		}
		h := handler{tx: tx, event: e, cachedAt: m.now().UnixMilli()}
		var err error
		scope, err = h.apply()
		return err
	})
	return scope, duplicate, err
}

// Replay rebuilds every read model from source. The dedupe table is
// cleared with the read models so every event is applied again.
func (m *Manager) Replay(ctx context.Context, source EventSource) (int, error) {
	history, err := source.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("load event log: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err = m.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, model := range models.ReadModels() {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("truncate %T: %w", model, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	applied := m.applyLocked(ctx, history)
	if err := m.cache.InvalidateAll(ctx); err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "cache invalidation after replay failed")
	}
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"events":  len(history),
		"applied": applied,
	}), "read models rebuilt")
	return applied, nil
}

// SortForApply returns a copy of batch ordered by logical time, then device,
// then seq.
func SortForApply(batch []events.Event) []events.Event {
	out := make([]events.Event, len(batch))
	copy(out, batch)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		if c := bytes.Compare(a.DeviceID[:], b.DeviceID[:]); c != 0 {
			return c < 0
		}
		return a.Seq < b.Seq
	})
	return out
}
