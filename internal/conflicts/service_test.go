package conflicts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/dbtest"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/pagination"
)

type countingCache struct{ calls int }

func (c *countingCache) InvalidateAll(context.Context) error {
	c.calls++
	return nil
}

type stubFetcher struct {
	state json.RawMessage
	err   error
}

func (f stubFetcher) FetchServerState(context.Context, models.LocalConflict, events.Envelope) (json.RawMessage, error) {
	return f.state, f.err
}

type recordingReporter struct {
	reported map[uuid.UUID]enums.ConflictResolution
}

func (r *recordingReporter) ReportResolution(_ context.Context, id uuid.UUID, res enums.ConflictResolution) error {
	if r.reported == nil {
		r.reported = map[uuid.UUID]enums.ConflictResolution{}
	}
	r.reported[id] = res
	return nil
}

type fixture struct {
	client   *db.Client
	store    *eventstore.Store
	svc      *Service
	cache    *countingCache
	reporter *recordingReporter
}

func newFixture(t *testing.T, fetcher ServerStateFetcher) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	store, err := eventstore.NewService(eventstore.ServiceParams{
		DB:       client,
		StoreID:  uuid.New(),
		DeviceID: uuid.New(),
	})
	require.NoError(t, err)

	cache := &countingCache{}
	reporter := &recordingReporter{}
	svc, err := NewService(ServiceParams{
		DB:       client,
		Events:   store,
		Cache:    cache,
		Fetcher:  fetcher,
		Reporter: reporter,
		Now:      func() time.Time { return time.UnixMilli(1_790_000_000_000) },
	})
	require.NoError(t, err)
	return &fixture{client: client, store: store, svc: svc, cache: cache, reporter: reporter}
}

// rejected enqueues an event and records a server rejection for it.
func (f *fixture) rejected(t *testing.T, manual bool) (events.Event, models.LocalConflict) {
	t.Helper()
	ctx := context.Background()
	actor := events.Actor{UserID: uuid.New(), Role: enums.StoreRoleOwner}
	e, err := f.store.Enqueue(ctx, events.New(uuid.Nil, uuid.Nil, actor, 0, events.PriceChanged{
		ProductID: uuid.New(),
		PriceBS:   decimal.NewFromInt(10),
		PriceUSD:  decimal.NewFromInt(1),
		Reason:    "manual",
	}))
	require.NoError(t, err)

	ref := "product:latest"
	conflict := models.LocalConflict{
		EventID:              e.EventID,
		EventType:            e.Type,
		Reason:               "price was changed on another device",
		ConflictingWith:      &ref,
		RequiresManualReview: manual,
	}
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := f.store.MarkRejectedTx(tx, e.EventID, conflict.Reason); err != nil {
			return err
		}
		created, err := f.svc.Repository().CreateTx(tx, conflict)
		require.True(t, created)
		return err
	}))

	pending, err := f.svc.ListPending(ctx, 0)
	require.NoError(t, err)
	for _, c := range pending {
		if c.EventID == e.EventID {
			return e, c
		}
	}
	t.Fatalf("conflict for %s not found", e.EventID)
	return events.Event{}, models.LocalConflict{}
}

func TestNewServiceRejectsMergeDefault(t *testing.T) {
	client := dbtest.Open(t)
	_, err := NewService(ServiceParams{
		DB:              client,
		Events:          &eventstore.Store{},
		DefaultStrategy: enums.ResolutionMerge,
	})
	require.Error(t, err)
}

func TestCreateIsOncePerEvent(t *testing.T) {
	f := newFixture(t, nil)
	e, _ := f.rejected(t, false)

	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		created, err := f.svc.Repository().CreateTx(tx, models.LocalConflict{
			EventID:   e.EventID,
			EventType: e.Type,
			Reason:    "again",
		})
		assert.False(t, created)
		return err
	}))

	n, err := f.svc.Repository().CountPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCreateReopensResolvedConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e, conflict := f.rejected(t, false)
	require.NoError(t, f.svc.ResolveConflict(ctx, conflict.ID, enums.ResolutionKeepMine))

	serverID := uuid.New()
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		created, err := f.svc.Repository().CreateTx(tx, models.LocalConflict{
			ID:        serverID,
			EventID:   e.EventID,
			EventType: e.Type,
			Reason:    "rejected again",
		})
		assert.True(t, created)
		return err
	}))

	reopened, err := f.svc.Repository().Get(ctx, serverID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConflictStatusPending, reopened.Status)
	assert.Equal(t, enums.ResolutionNone, reopened.Resolution)
	assert.Equal(t, "rejected again", reopened.Reason)
	assert.Zero(t, reopened.ResolvedAt)

	n, err := f.svc.Repository().CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTakeTheirsDiscardsEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e, conflict := f.rejected(t, false)

	require.NoError(t, f.svc.ResolveConflict(ctx, conflict.ID, enums.ResolutionTakeTheirs))

	row, err := f.store.Get(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusDiscarded, row.SyncStatus)
	require.NotNil(t, row.DiscardReason)
	assert.Contains(t, *row.DiscardReason, "take_theirs")

	pending, err := f.store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	resolved, err := f.svc.Repository().Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConflictStatusResolved, resolved.Status)
	assert.Equal(t, enums.ResolutionTakeTheirs, resolved.Resolution)
	assert.Equal(t, int64(1_790_000_000_000), resolved.ResolvedAt)
	assert.Equal(t, 1, f.cache.calls)
	assert.Equal(t, enums.ResolutionTakeTheirs, f.reporter.reported[conflict.ID])

	// the event cannot be brought back once discarded
	err = f.client.WithTx(ctx, func(tx *gorm.DB) error {
		return f.store.ResetToPendingTx(tx, e.EventID)
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestKeepMineRequeuesEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	e, conflict := f.rejected(t, false)

	require.NoError(t, f.svc.ResolveConflict(ctx, conflict.ID, enums.ResolutionKeepMine))

	pending, err := f.store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e.EventID, pending[0].EventID)
	assert.Zero(t, pending[0].Attempts)
}

func TestResolveTwiceIsStateConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, conflict := f.rejected(t, false)

	require.NoError(t, f.svc.ResolveConflict(ctx, conflict.ID, enums.ResolutionTakeTheirs))
	err := f.svc.ResolveConflict(ctx, conflict.ID, enums.ResolutionKeepMine)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 1, f.cache.calls)
}

func TestMergeIsNotImplemented(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, conflict := f.rejected(t, false)

	err := f.svc.ResolveConflict(ctx, conflict.ID, enums.ResolutionMerge)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotImplemented))

	still, err := f.svc.Repository().Get(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ConflictStatusPending, still.Status)
}

func TestProcessPendingSkipsManualReview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.rejected(t, false)
	f.rejected(t, false)
	_, manual := f.rejected(t, true)

	resolved, err := f.svc.ProcessPendingConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)

	pending, err := f.svc.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, manual.ID, pending[0].ID)
}

func TestGetConflictDetail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubFetcher{state: json.RawMessage(`{"price_bs":"12"}`)})
	e, conflict := f.rejected(t, false)

	detail, err := f.svc.GetConflictDetail(ctx, conflict.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.LocalEvent)
	assert.Equal(t, e.EventID, detail.LocalEvent.EventID)
	assert.JSONEq(t, `{"price_bs":"12"}`, string(detail.ServerState))
	assert.Empty(t, detail.ServerStateError)
}

func TestGetConflictDetailFetchFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubFetcher{err: errors.New("offline")})
	_, conflict := f.rejected(t, false)

	detail, err := f.svc.GetConflictDetail(ctx, conflict.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.ServerState)
	assert.Equal(t, "offline", detail.ServerStateError)

	_, err = f.svc.GetConflictDetail(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestListPendingPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, stubFetcher{})
	for i := 0; i < 3; i++ {
		f.rejected(t, false)
	}

	first, err := f.svc.ListPendingPage(ctx, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Conflicts, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.ListPendingPage(ctx, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Conflicts, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, c := range append(first.Conflicts, second.Conflicts...) {
		seen[c.ID] = true
	}
	assert.Len(t, seen, 3)

	_, err = f.svc.ListPendingPage(ctx, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
