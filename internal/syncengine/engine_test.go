package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lacaja/possync/internal/conflicts"
	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/pkg/config"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/dbtest"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/metrics"
)

type scriptedTransport struct {
	mu       sync.Mutex
	calls    int
	requests []SubmitRequest
	respond  func(req SubmitRequest) (SubmitResult, error)
}

func (s *scriptedTransport) SubmitEvents(_ context.Context, req SubmitRequest) (SubmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	return s.respond(req)
}

type countingProcessor struct{ calls int }

func (c *countingProcessor) ProcessPendingConflicts(context.Context) (int, error) {
	c.calls++
	return 0, nil
}

type fakeProjector struct{ got []events.Event }

func (f *fakeProjector) ApplyEvents(_ context.Context, batch []events.Event) (int, error) {
	f.got = append(f.got, batch...)
	return len(batch), nil
}

type offline struct{}

func (offline) Online(context.Context) bool { return false }

var testNow = time.Date(2026, 10, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	client    *db.Client
	store     *eventstore.Store
	transport *scriptedTransport
	processor *countingProcessor
	projector *fakeProjector
	engine    *Engine
	registry  *prometheus.Registry
}

func newHarness(t *testing.T, respond func(SubmitRequest) (SubmitResult, error)) *harness {
	t.Helper()
	client := dbtest.Open(t)
	store, err := eventstore.NewService(eventstore.ServiceParams{
		DB:       client,
		StoreID:  uuid.New(),
		DeviceID: uuid.New(),
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)

	h := &harness{
		client:    client,
		store:     store,
		transport: &scriptedTransport{respond: respond},
		processor: &countingProcessor{},
		projector: &fakeProjector{},
		registry:  prometheus.NewRegistry(),
	}
	h.engine, err = NewEngine(EngineParams{
		DB:        client,
		Store:     store,
		Transport: h.transport,
		Projector: h.projector,
		Conflicts: h.processor,
		Metrics:   metrics.NewSyncMetrics(h.registry),
		Config: config.SyncConfig{
			BatchSize:          10,
			PollInterval:       time.Millisecond,
			MaxTransmitRetries: 2,
			RetryBase:          time.Millisecond,
			MaxBackoff:         time.Minute,
			ClientVersion:      "test",
		},
		Now: func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) enqueue(t *testing.T, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for i := 0; i < n; i++ {
		actor := events.Actor{UserID: uuid.New(), Role: enums.StoreRoleCashier}
		e, err := h.store.Enqueue(context.Background(), events.New(uuid.Nil, uuid.Nil, actor, 0, events.StockDeltaApplied{
			MovementID: uuid.New(),
			ProductID:  uuid.New(),
			QtyDelta:   decimal.NewFromInt(int64(i + 1)),
			Reason:     "restock",
		}))
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestSyncOnceAcksAndRejects(t *testing.T) {
	ctx := context.Background()
	conflictID := uuid.New()
	h := newHarness(t, func(req SubmitRequest) (SubmitResult, error) {
		return SubmitResult{
			Accepted: []uuid.UUID{req.Events[0].EventID, req.Events[2].EventID},
			Rejected: []Rejection{{
				EventID:         req.Events[1].EventID,
				Seq:             req.Events[1].Seq,
				Code:            "STOCK_NEGATIVE",
				Reason:          "insufficient stock",
				ConflictID:      &conflictID,
				ConflictingWith: []string{"movement-1", "movement-2"},
			}},
		}, nil
	})
	sent := h.enqueue(t, 3)

	res, err := h.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 3, Acked: 2, Rejected: 1, ConflictsCreated: 1}, res)
	assert.Equal(t, 1, h.processor.calls)

	req := h.transport.requests[0]
	assert.Equal(t, h.store.DeviceID(), req.DeviceID)
	for i, env := range req.Events {
		assert.Equal(t, int64(i+1), env.Seq)
	}

	row, err := h.store.Get(ctx, sent[1].EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusFailed, row.SyncStatus)

	conflict, err := conflicts.NewRepository(h.client.DB()).Get(ctx, conflictID)
	require.NoError(t, err)
	assert.Equal(t, sent[1].EventID, conflict.EventID)
	assert.Equal(t, "STOCK_NEGATIVE: insufficient stock", conflict.Reason)
	require.NotNil(t, conflict.ConflictingWith)
	assert.Equal(t, "movement-1,movement-2", *conflict.ConflictingWith)

	// frozen events are never retransmitted
	res, err = h.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	assert.Equal(t, 1, h.transport.calls)

	assert.Equal(t, float64(2), gaugeOrCounter(t, h.registry, "possync_sync_events_acked_total"))
	assert.Equal(t, float64(1), gaugeOrCounter(t, h.registry, "possync_sync_events_rejected_total"))
	assert.Equal(t, float64(0), gaugeOrCounter(t, h.registry, "possync_sync_pending_events"))
}

func TestSyncOnceTransientFailureBacksOff(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(SubmitRequest) (SubmitResult, error) {
		return SubmitResult{}, errors.New("connection refused")
	})
	sent := h.enqueue(t, 2)

	_, err := h.engine.SyncOnce(ctx)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 3, h.transport.calls)

	row, err := h.store.Get(ctx, sent[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusPending, row.SyncStatus)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, testNow.Add(time.Millisecond).UnixMilli(), row.NextAttemptAt)

	n, err := conflicts.NewRepository(h.client.DB()).CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.processor.calls)
}

func TestSyncOnceDoesNotRetryPermanentTransportError(t *testing.T) {
	h := newHarness(t, func(SubmitRequest) (SubmitResult, error) {
		return SubmitResult{}, pkgerrors.New(pkgerrors.CodeValidation, "bad batch")
	})
	h.enqueue(t, 1)

	_, err := h.engine.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, h.transport.calls)
}

func TestSyncOnceLeavesUnprocessedPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(req SubmitRequest) (SubmitResult, error) {
		return SubmitResult{Accepted: []uuid.UUID{req.Events[0].EventID, uuid.New()}}, nil
	})
	sent := h.enqueue(t, 2)

	res, err := h.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Acked)

	pending, err := h.store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, sent[1].EventID, pending[0].EventID)
}

func TestApplyRemoteStoresAndProjects(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	actor := events.Actor{UserID: uuid.New(), Role: enums.StoreRoleOwner}
	remote := events.New(h.store.StoreID(), uuid.New(), actor, testNow.UnixMilli(), events.CustomerCreated{
		CustomerID: uuid.New(),
		Name:       "Ana",
	})
	remote.Seq = 4
	invalid := events.New(h.store.StoreID(), uuid.New(), actor, testNow.UnixMilli(), events.CustomerCreated{})

	applied, err := h.engine.ApplyRemote(ctx, []events.Event{remote, invalid})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	require.Len(t, h.projector.got, 1)
	assert.Equal(t, remote.EventID, h.projector.got[0].EventID)

	row, err := h.store.Get(ctx, remote.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusSynced, row.SyncStatus)
}

func TestRunSkipsWhileOffline(t *testing.T) {
	h := newHarness(t, func(SubmitRequest) (SubmitResult, error) {
		return SubmitResult{}, nil
	})
	h.engine.connectivity = offline{}
	h.enqueue(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := h.engine.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, h.transport.calls)
}

func TestBackoffForIsCapped(t *testing.T) {
	e := &Engine{cfg: config.SyncConfig{RetryBase: time.Second, MaxBackoff: 10 * time.Second}}
	assert.Equal(t, time.Second, e.backoffFor(1))
	assert.Equal(t, 4*time.Second, e.backoffFor(3))
	assert.Equal(t, 10*time.Second, e.backoffFor(5))
	assert.Equal(t, 10*time.Second, e.backoffFor(80))
}

func gaugeOrCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

type fakePuller struct {
	since []int64
	pages []PullResult
}

func (f *fakePuller) PullEvents(_ context.Context, _ uuid.UUID, since int64) (PullResult, error) {
	f.since = append(f.since, since)
	if len(f.pages) == 0 {
		return PullResult{LastServerTime: since}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func TestPullOnceAppliesAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	other := uuid.New()
	actor := events.Actor{UserID: uuid.New(), Role: enums.StoreRoleCashier}

	var envs []events.Envelope
	for i := int64(1); i <= 2; i++ {
		e := events.New(h.store.StoreID(), other, actor, testNow.UnixMilli()+i, events.StockDeltaApplied{
			MovementID: uuid.New(),
			ProductID:  uuid.New(),
			QtyDelta:   decimal.NewFromInt(i),
			Reason:     "transfer",
		})
		e.Seq = i
		env, err := events.ToEnvelope(e)
		require.NoError(t, err)
		envs = append(envs, env)
	}
	puller := &fakePuller{pages: []PullResult{{Events: envs, LastServerTime: 500}}}
	h.engine.puller = puller

	applied, err := h.engine.PullOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Len(t, h.projector.got, 2)

	applied, err = h.engine.PullOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, []int64{0, 500}, puller.since)

	stored, err := h.store.All(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestKeepMineRetryRejectedAgainReopensConflict(t *testing.T) {
	ctx := context.Background()
	var issued []uuid.UUID
	h := newHarness(t, func(req SubmitRequest) (SubmitResult, error) {
		id := uuid.New()
		issued = append(issued, id)
		return SubmitResult{Rejected: []Rejection{{
			EventID:    req.Events[0].EventID,
			Seq:        req.Events[0].Seq,
			Code:       "STOCK_NEGATIVE",
			Reason:     "insufficient stock",
			ConflictID: &id,
		}}}, nil
	})
	sent := h.enqueue(t, 1)
	repo := conflicts.NewRepository(h.client.DB())

	res, err := h.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ConflictsCreated)

	// keep_mine: re-queue the event and close the conflict
	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := h.store.ResetToPendingTx(tx, sent[0].EventID); err != nil {
			return err
		}
		return conflicts.NewRepository(tx).MarkResolvedTx(tx, issued[0], enums.ResolutionKeepMine, testNow.UnixMilli())
	}))

	res, err = h.engine.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1, Rejected: 1, ConflictsCreated: 1}, res)
	require.Len(t, issued, 2)

	row, err := h.store.Get(ctx, sent[0].EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusFailed, row.SyncStatus)

	pending, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	reopened, err := repo.Get(ctx, issued[1])
	require.NoError(t, err)
	assert.Equal(t, enums.ConflictStatusPending, reopened.Status)
	assert.Equal(t, enums.ResolutionNone, reopened.Resolution)
	assert.Zero(t, reopened.ResolvedAt)

	_, err = repo.Get(ctx, issued[0])
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
