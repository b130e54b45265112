package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lacaja/possync/internal/conflicts"
	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/pkg/config"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/logger"
	"github.com/lacaja/possync/pkg/metrics"
)

type EngineParams struct {
	DB           *db.Client
	Store        *eventstore.Store
	Transport    Transport
	Puller       Puller
	Projector    Projector
	Conflicts    ConflictProcessor
	Connectivity Connectivity
	Logger       *logger.Logger
	Metrics      *metrics.SyncMetrics
	Config       config.SyncConfig
	Now          func() time.Time
}

// Engine pushes the device log to the server and turns rejections into
// local conflicts.
type Engine struct {
	db           *db.Client
	store        *eventstore.Store
	conflictRepo *conflicts.Repository
	transport    Transport
	puller       Puller
	projector    Projector
	conflicts    ConflictProcessor
	connectivity Connectivity
	logg         *logger.Logger
	metrics      *metrics.SyncMetrics
	cfg          config.SyncConfig
	now          func() time.Time
}

// Result summarizes one SyncOnce pass.
type Result struct {
	Sent             int `json:"sent"`
	Acked            int `json:"acked"`
	Rejected         int `json:"rejected"`
	ConflictsCreated int `json:"conflicts_created"`
	AutoResolved     int `json:"auto_resolved"`
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("event store required")
	}
	if params.Transport == nil {
		return nil, fmt.Errorf("transport required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.MaxTransmitRetries < 0 {
		cfg.MaxTransmitRetries = 0
	}
	return &Engine{
		db:           params.DB,
		store:        params.Store,
		conflictRepo: conflicts.NewRepository(params.DB.DB()),
		transport:    params.Transport,
		puller:       params.Puller,
		projector:    params.Projector,
		conflicts:    params.Conflicts,
		connectivity: params.Connectivity,
		logg:         logg,
		metrics:      params.Metrics,
		cfg:          cfg,
		now:          now,
	}, nil
}

// SyncOnce transmits one batch of pending events and records the outcomes.
// A transport failure leaves the batch pending behind a backoff window and
// returns a DEPENDENCY_ERROR.
func (e *Engine) SyncOnce(ctx context.Context) (Result, error) {
	rows, err := e.store.Pending(ctx, e.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("load pending events: %w", err)
	}
	if len(rows) == 0 {
		e.refreshPending(ctx)
		return Result{}, nil
	}

	req := SubmitRequest{
		StoreID:       e.store.StoreID(),
		DeviceID:      e.store.DeviceID(),
		ClientVersion: e.cfg.ClientVersion,
		Events:        make([]events.Envelope, len(rows)),
	}
	ids := make([]uuid.UUID, len(rows))
	maxAttempts := 0
	for i, row := range rows {
		req.Events[i] = row.Envelope()
		ids[i] = row.EventID
		if row.Attempts > maxAttempts {
			maxAttempts = row.Attempts
		}
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"batch_size": len(rows),
		"first_seq":  rows[0].Seq,
	})
	started := time.Now()
	res, err := e.submit(ctx, req)
	e.metrics.ObserveBatch(time.Since(started))
	if err != nil {
		next := e.now().Add(e.backoffFor(maxAttempts + 1))
		if markErr := e.store.MarkTransientFailure(ctx, ids, err.Error(), next); markErr != nil {
			e.logg.Error(ctx, "recording transient failure failed", markErr)
		}
		e.metrics.IncTransient()
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
			"error":           err.Error(),
			"next_attempt_at": next.UnixMilli(),
		}), "event submission failed, will retry")
		return Result{Sent: len(rows)}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "submit events")
	}

	out, err := e.recordOutcomes(ctx, rows, res)
	if err != nil {
		return out, err
	}
	e.metrics.AddAcked(out.Acked)
	e.metrics.AddRejected(out.Rejected)

	if out.ConflictsCreated > 0 && e.conflicts != nil {
		resolved, rerr := e.conflicts.ProcessPendingConflicts(ctx)
		out.AutoResolved = resolved
		if rerr != nil {
			e.logg.Error(ctx, "automatic conflict resolution failed", rerr)
		}
	}

	e.refreshPending(ctx)
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"acked":     out.Acked,
		"rejected":  out.Rejected,
		"conflicts": out.ConflictsCreated,
	}), "sync batch processed")
	return out, nil
}

func (e *Engine) submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	backoff := retry.WithMaxRetries(uint64(e.cfg.MaxTransmitRetries),
		retry.WithCappedDuration(e.cfg.MaxBackoff, retry.NewExponential(e.cfg.RetryBase)))

	var res SubmitResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		res, err = e.transport.SubmitEvents(ctx, req)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return res, err
}

// isTransient treats untyped failures as network trouble and typed ones by
// their retryable flag.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if pkgerrors.As(err) == nil {
		return true
	}
	return pkgerrors.Retryable(err)
}

func (e *Engine) recordOutcomes(ctx context.Context, rows []models.LocalEvent, res SubmitResult) (Result, error) {
	sent := make(map[uuid.UUID]models.LocalEvent, len(rows))
	for _, row := range rows {
		sent[row.EventID] = row
	}
	out := Result{Sent: len(rows)}

	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		acked := make([]uuid.UUID, 0, len(res.Accepted))
		for _, id := range res.Accepted {
			if _, ok := sent[id]; ok {
				acked = append(acked, id)
			}
		}
		n, err := e.store.MarkSyncedTx(tx, acked)
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
		out.Acked = int(n)

		for _, rej := range res.Rejected {
			row, ok := sent[rej.EventID]
			if !ok {
				e.logg.Warn(e.logg.WithField(ctx, "event_id", rej.EventID.String()), "rejection for event not in batch")
				continue
			}
			reason := rejectionReason(rej)
			frozen, err := e.store.MarkRejectedTx(tx, row.EventID, reason)
			if err != nil {
				return fmt.Errorf("mark rejected: %w", err)
			}
			if !frozen {
				continue
			}
			out.Rejected++

			conflict := models.LocalConflict{
				EventID:              row.EventID,
				EventType:            row.Type,
				Reason:               reason,
				RequiresManualReview: rej.RequiresManualReview,
			}
			if rej.ConflictID != nil {
				conflict.ID = *rej.ConflictID
			}
			if len(rej.ConflictingWith) > 0 {
				ref := strings.Join(rej.ConflictingWith, ",")
				conflict.ConflictingWith = &ref
			}
			created, err := e.conflictRepo.CreateTx(tx, conflict)
			if err != nil {
				return fmt.Errorf("create conflict: %w", err)
			}
			if created {
				out.ConflictsCreated++
			}
		}
		return nil
	})
	if err != nil {
		return Result{Sent: len(rows)}, err
	}

	if unresolved := out.Sent - out.Acked - out.Rejected; unresolved > 0 {
		e.logg.Debug(e.logg.WithField(ctx, "unprocessed", unresolved), "server left events unprocessed")
	}
	return out, nil
}

func rejectionReason(rej Rejection) string {
	reason := strings.TrimSpace(rej.Reason)
	if reason == "" {
		reason = "rejected by server"
	}
	if rej.Code != "" {
		return rej.Code + ": " + reason
	}
	return reason
}

// backoffFor doubles the base per attempt up to the configured ceiling.
func (e *Engine) backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxBackoff || d <= 0 {
			return e.cfg.MaxBackoff
		}
	}
	if d > e.cfg.MaxBackoff {
		return e.cfg.MaxBackoff
	}
	return d
}

func (e *Engine) refreshPending(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	stats, err := e.store.Stats(ctx)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "reading sync stats failed")
		return
	}
	e.metrics.SetPending(stats.Pending)
}

// ApplyRemote records authoritative events from the server in the local
// log and projects them. Invalid events are logged and dropped.
func (e *Engine) ApplyRemote(ctx context.Context, batch []events.Event) (int, error) {
	valid := make([]events.Event, 0, len(batch))
	for _, ev := range batch {
		if err := events.Validate(ev); err != nil {
			e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
				"event_id": ev.EventID.String(),
				"error":    err.Error(),
			}), "dropping invalid remote event")
			continue
		}
		valid = append(valid, ev)
	}
	if len(valid) == 0 {
		return 0, nil
	}

	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		for _, ev := range valid {
			if _, err := e.store.StoreRemoteTx(tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store remote events: %w", err)
	}
	if e.projector == nil {
		return 0, nil
	}
	return e.projector.ApplyEvents(ctx, valid)
}

// PullOnce fetches events other devices recorded since the stored
// checkpoint and applies them. The checkpoint only advances after the batch
// is stored locally.
func (e *Engine) PullOnce(ctx context.Context) (int, error) {
	if e.puller == nil {
		return 0, nil
	}
	deviceID := e.store.DeviceID()
	var cp models.SyncCheckpoint
	if err := e.db.DB().WithContext(ctx).Where("device_id = ?", deviceID).Limit(1).Find(&cp).Error; err != nil {
		return 0, fmt.Errorf("load pull checkpoint: %w", err)
	}

	res, err := e.puller.PullEvents(ctx, deviceID, cp.LastServerTime)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "pull events")
	}
	if len(res.Events) == 0 {
		return 0, nil
	}

	batch := make([]events.Event, 0, len(res.Events))
	for _, env := range res.Events {
		ev, err := env.Event()
		if err != nil {
			e.logg.Warn(e.logg.WithFields(ctx, map[string]any{
				"event_id": env.EventID.String(),
				"error":    err.Error(),
			}), "dropping undecodable remote event")
			continue
		}
		batch = append(batch, ev)
	}
	applied, err := e.ApplyRemote(ctx, batch)
	if err != nil {
		return applied, err
	}

	cp = models.SyncCheckpoint{DeviceID: deviceID, LastServerTime: max(res.LastServerTime, cp.LastServerTime)}
	if err := e.db.DB().WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&cp).Error; err != nil {
		return applied, fmt.Errorf("save pull checkpoint: %w", err)
	}
	e.logg.Info(e.logg.WithFields(ctx, map[string]any{
		"received": len(res.Events),
		"applied":  applied,
	}), "remote events pulled")
	return applied, nil
}

// Run syncs until ctx is cancelled. Failures back off exponentially with
// jitter; a full batch is followed immediately by the next one.
func (e *Engine) Run(ctx context.Context) error {
	backoff := e.newLoopBackoff()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait := e.cfg.PollInterval
		if e.connectivity == nil || e.connectivity.Online(ctx) {
			res, err := e.SyncOnce(ctx)
			if err == nil {
				if _, perr := e.PullOnce(ctx); perr != nil {
					e.logg.Error(ctx, "pulling remote events failed", perr)
				}
			}
			switch {
			case err != nil:
				next, stop := backoff.Next()
				if stop {
					next = e.cfg.MaxBackoff
				}
				wait = next
			case res.Sent >= e.cfg.BatchSize:
				backoff = e.newLoopBackoff()
				wait = 0
			default:
				backoff = e.newLoopBackoff()
			}
		}
		timer.Reset(wait)
	}
}

func (e *Engine) newLoopBackoff() retry.Backoff {
	return retry.WithJitterPercent(20,
		retry.WithCappedDuration(e.cfg.MaxBackoff, retry.NewExponential(e.cfg.PollInterval)))
}
