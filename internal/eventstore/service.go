package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/logger"
)

// Projector applies committed events to the local read models.
type Projector interface {
	ApplyEvents(ctx context.Context, batch []events.Event) (int, error)
}

type ServiceParams struct {
	DB        *db.Client
	Logger    *logger.Logger
	StoreID   uuid.UUID
	DeviceID  uuid.UUID
	Projector Projector
	Now       func() time.Time
}

// Store is the durable per-device event log. Writes are serialized in
// process so seq assignment and insert commit as one unit.
type Store struct {
	db        *db.Client
	repo      *Repository
	logg      *logger.Logger
	storeID   uuid.UUID
	deviceID  uuid.UUID
	projector Projector
	now       func() time.Time

	writeMu sync.Mutex
}

// Stats summarizes the device log for status reporting.
type Stats struct {
	Pending   int64 `json:"pending"`
	Synced    int64 `json:"synced"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
	LastSeq   int64 `json:"last_seq"`
}

func NewService(params ServiceParams) (*Store, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.StoreID == uuid.Nil {
		return nil, fmt.Errorf("store id required")
	}
	if params.DeviceID == uuid.Nil {
		return nil, fmt.Errorf("device id required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		db:        params.DB,
		repo:      NewRepository(params.DB.DB()),
		logg:      logg,
		storeID:   params.StoreID,
		deviceID:  params.DeviceID,
		projector: params.Projector,
		now:       now,
	}, nil
}

// SetProjector wires the projection after construction; the projection
// itself depends on the store for replay.
func (s *Store) SetProjector(p Projector) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.projector = p
}

func (s *Store) Repository() *Repository {
	return s.repo
}

func (s *Store) StoreID() uuid.UUID {
	return s.storeID
}

func (s *Store) DeviceID() uuid.UUID {
	return s.deviceID
}

// Enqueue durably appends one event and returns it with seq assigned.
func (s *Store) Enqueue(ctx context.Context, e events.Event) (events.Event, error) {
	out, err := s.EnqueueBatch(ctx, []events.Event{e})
	if err != nil {
		return events.Event{}, err
	}
	return out[0], nil
}

// EnqueueBatch appends events atomically: either every event is persisted
// with consecutive seqs or none is. Committed events are then projected;
// projection failures are logged and never undo the write.
func (s *Store) EnqueueBatch(ctx context.Context, batch []events.Event) ([]events.Event, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	out := make([]events.Event, len(batch))
	nowMs := s.now().UnixMilli()
	for i, e := range batch {
		out[i] = s.prepare(e, nowMs)
		if err := events.Validate(out[i]); err != nil {
			return nil, err
		}
	}

	s.writeMu.Lock()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		for i := range out {
			seq, err := s.repo.AssignSeqTx(tx, out[i].StoreID, out[i].DeviceID, out[i].Seq)
			if err != nil {
				return err
			}
			out[i].Seq = seq

			row, err := models.NewLocalEvent(out[i])
			if err != nil {
				return err
			}
			if err := s.repo.InsertTx(tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	projector := s.projector
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"count":     len(out),
		"first_seq": out[0].Seq,
		"last_seq":  out[len(out)-1].Seq,
	}), "events enqueued")

	if projector != nil {
		if _, perr := projector.ApplyEvents(ctx, out); perr != nil {
			s.logg.Error(s.logg.WithField(ctx, "count", len(out)), "projection after enqueue failed", perr)
		}
	}
	return out, nil
}

func (s *Store) prepare(e events.Event, nowMs int64) events.Event {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if e.StoreID == uuid.Nil {
		e.StoreID = s.storeID
	}
	if e.DeviceID == uuid.Nil {
		e.DeviceID = s.deviceID
	}
	if e.Version == 0 {
		e.Version = events.CurrentVersion
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = nowMs
	}
	if e.Type == "" && e.Payload != nil {
		e.Type = e.Payload.EventType()
	}
	e.Type = e.Type.Canonical()
	return e
}

// StoreRemoteTx records an authoritative event pulled from the server so a
// later replay sees it. Already-known event ids are ignored.
func (s *Store) StoreRemoteTx(tx *gorm.DB, e events.Event) (bool, error) {
	row, err := models.NewLocalEvent(e)
	if err != nil {
		return false, err
	}
	row.SyncStatus = enums.SyncStatusSynced
	row.SyncedAt = s.now().UnixMilli()
	return s.repo.InsertIfAbsentTx(tx, row)
}

// Pending returns this device's transmittable events in seq order.
func (s *Store) Pending(ctx context.Context, limit int) ([]models.LocalEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.FetchPending(ctx, s.storeID, s.deviceID, s.now().UnixMilli(), limit)
}

func (s *Store) MarkSyncedTx(tx *gorm.DB, eventIDs []uuid.UUID) (int64, error) {
	return s.repo.MarkSyncedTx(tx, eventIDs, s.now().UnixMilli())
}

func (s *Store) MarkRejectedTx(tx *gorm.DB, eventID uuid.UUID, reason string) (bool, error) {
	return s.repo.MarkRejectedTx(tx, eventID, reason)
}

func (s *Store) MarkTransientFailure(ctx context.Context, eventIDs []uuid.UUID, reason string, nextAttemptAt time.Time) error {
	return s.repo.MarkTransientFailure(ctx, eventIDs, reason, nextAttemptAt.UnixMilli())
}

func (s *Store) DiscardTx(tx *gorm.DB, eventID uuid.UUID, reason string) error {
	return s.repo.DiscardTx(tx, eventID, reason)
}

func (s *Store) ResetToPendingTx(tx *gorm.DB, eventID uuid.UUID) error {
	return s.repo.ResetToPendingTx(tx, eventID)
}

func (s *Store) Get(ctx context.Context, eventID uuid.UUID) (models.LocalEvent, error) {
	return s.repo.Get(ctx, eventID)
}

// All decodes every stored event, discarded ones included, in application order. Rows
// that no longer decode are logged and skipped.
func (s *Store) All(ctx context.Context) ([]events.Event, error) {
	rows, err := s.repo.ListForReplay(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, 0, len(rows))
	for _, row := range rows {
		e, err := row.Event()
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"event_id": row.EventID.String(),
				"type":     row.Type,
				"error":    err.Error(),
			}), "skipping undecodable event")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.repo.CountByStatus(ctx, s.storeID, s.deviceID)
	if err != nil {
		return Stats{}, err
	}
	last, err := s.repo.LastSeqTx(s.db.DB().WithContext(ctx), s.storeID, s.deviceID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Pending:   counts[enums.SyncStatusPending],
		Synced:    counts[enums.SyncStatusSynced],
		Failed:    counts[enums.SyncStatusFailed],
		Discarded: counts[enums.SyncStatusDiscarded],
		LastSeq:   last,
	}, nil
}

// IsDuplicate reports whether err came from re-enqueueing a known event id.
func IsDuplicate(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeConflict)
}
