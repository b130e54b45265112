package eventstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/dbtest"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
)

type recordingProjector struct {
	mu      sync.Mutex
	batches [][]events.Event
	err     error
}

func (p *recordingProjector) ApplyEvents(_ context.Context, batch []events.Event) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, batch)
	return len(batch), p.err
}

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t testing.TB, client *db.Client, projector Projector) *Store {
	t.Helper()
	store, err := NewService(ServiceParams{
		DB:        client,
		StoreID:   uuid.New(),
		DeviceID:  uuid.New(),
		Projector: projector,
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return store
}

func stockEvent(s *Store, qty int64) events.Event {
	actor := events.Actor{UserID: uuid.New(), Role: enums.StoreRoleCashier}
	return events.New(s.StoreID(), s.DeviceID(), actor, 0, events.StockDeltaApplied{
		MovementID: uuid.New(),
		ProductID:  uuid.New(),
		QtyDelta:   decimal.NewFromInt(qty),
		Reason:     "adjust",
	})
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)

	_, err = NewService(ServiceParams{DB: dbtest.Open(t), StoreID: uuid.New()})
	require.EqualError(t, err, "device id required")
}

func TestEnqueueAssignsConsecutiveSeqs(t *testing.T) {
	ctx := context.Background()
	projector := &recordingProjector{}
	store := newTestStore(t, dbtest.Open(t), projector)

	for want := int64(1); want <= 3; want++ {
		e, err := store.Enqueue(ctx, stockEvent(store, want))
		require.NoError(t, err)
		assert.Equal(t, want, e.Seq)
		assert.Equal(t, testNow.UnixMilli(), e.CreatedAt)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(3), stats.LastSeq)
	assert.Len(t, projector.batches, 3)
}

func TestEnqueueBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, dbtest.Open(t), nil)

	first := stockEvent(store, 1)
	_, err := store.Enqueue(ctx, first)
	require.NoError(t, err)

	// the second entry reuses an existing event id, so the whole batch rolls back
	dup := stockEvent(store, 2)
	dup.EventID = first.EventID
	_, err = store.EnqueueBatch(ctx, []events.Event{stockEvent(store, 3), dup})
	require.Error(t, err)
	assert.True(t, IsDuplicate(err))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.LastSeq)

	next, err := store.Enqueue(ctx, stockEvent(store, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Seq)
}

func TestEnqueueRejectsInvalidEvent(t *testing.T) {
	store := newTestStore(t, dbtest.Open(t), nil)

	e := stockEvent(store, 1)
	e.Payload = events.StockDeltaApplied{ProductID: uuid.New(), Reason: "adjust"}
	_, err := store.Enqueue(context.Background(), e)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEnqueueExplicitSeqMustBeNext(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, dbtest.Open(t), nil)

	e := stockEvent(store, 1)
	e.Seq = 1
	_, err := store.Enqueue(ctx, e)
	require.NoError(t, err)

	skip := stockEvent(store, 1)
	skip.Seq = 3
	_, err = store.Enqueue(ctx, skip)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestEnqueueProjectionFailureKeepsEvent(t *testing.T) {
	ctx := context.Background()
	projector := &recordingProjector{err: assert.AnError}
	store := newTestStore(t, dbtest.Open(t), projector)

	e, err := store.Enqueue(ctx, stockEvent(store, 1))
	require.NoError(t, err)

	row, err := store.Get(ctx, e.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusPending, row.SyncStatus)
}

func TestConcurrentEnqueueHasNoGapsOrDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, dbtest.Open(t), nil)

	const writers = 8
	const perWriter = 10
	var wg sync.WaitGroup
	seqs := make(chan int64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				e, err := store.Enqueue(ctx, stockEvent(store, 1))
				if err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
				seqs <- e.Seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		require.False(t, seen[seq], "duplicate seq %d", seq)
		seen[seq] = true
	}
	for seq := int64(1); seq <= writers*perWriter; seq++ {
		assert.True(t, seen[seq], "missing seq %d", seq)
	}
}

func TestPendingOrderAndBackoffWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, dbtest.Open(t), nil)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		e, err := store.Enqueue(ctx, stockEvent(store, 1))
		require.NoError(t, err)
		ids = append(ids, e.EventID)
	}

	require.NoError(t, store.MarkTransientFailure(ctx, ids[:1], "timeout", testNow.Add(time.Minute)))

	rows, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].Seq)
	assert.Equal(t, int64(3), rows[1].Seq)

	row, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, row.Attempts)
	assert.Equal(t, enums.SyncStatusPending, row.SyncStatus)
}

func TestLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	store := newTestStore(t, client, nil)

	accepted, err := store.Enqueue(ctx, stockEvent(store, 1))
	require.NoError(t, err)
	rejected, err := store.Enqueue(ctx, stockEvent(store, 1))
	require.NoError(t, err)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := store.MarkSyncedTx(tx, []uuid.UUID{accepted.EventID})
		require.Equal(t, int64(1), n)
		if err != nil {
			return err
		}
		ok, err := store.MarkRejectedTx(tx, rejected.EventID, "price mismatch")
		require.True(t, ok)
		return err
	}))

	// synced events never go back to pending
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		return store.ResetToPendingTx(tx, accepted.EventID)
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return store.ResetToPendingTx(tx, rejected.EventID)
	}))
	row, err := store.Get(ctx, rejected.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusPending, row.SyncStatus)
	assert.Nil(t, row.LastError)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return store.DiscardTx(tx, rejected.EventID, "take_theirs")
	}))
	row, err = store.Get(ctx, rejected.EventID)
	require.NoError(t, err)
	assert.Equal(t, enums.SyncStatusDiscarded, row.SyncStatus)

	// discarded events stay in the replay history
	replay, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, replay, 2)
	assert.Equal(t, accepted.EventID, replay[0].EventID)
	assert.Equal(t, rejected.EventID, replay[1].EventID)
}

func TestGetUnknownEvent(t *testing.T) {
	store := newTestStore(t, dbtest.Open(t), nil)
	_, err := store.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestStoreRemoteIgnoresKnownEvents(t *testing.T) {
	ctx := context.Background()
	client := dbtest.Open(t)
	store := newTestStore(t, client, nil)

	remote := stockEvent(store, 5)
	remote.DeviceID = uuid.New()
	remote.Seq = 9
	remote.CreatedAt = testNow.UnixMilli()

	for i, want := range []bool{true, false} {
		var inserted bool
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			inserted, err = store.StoreRemoteTx(tx, remote)
			return err
		}))
		assert.Equal(t, want, inserted, "attempt %d", i)
	}

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPropertySeqsAreGapFree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("batched enqueues yield 1..n without gaps", prop.ForAll(
		func(sizes []int) bool {
			store := newTestStore(t, dbtest.Open(t), nil)
			ctx := context.Background()
			var next int64 = 1
			for _, size := range sizes {
				batch := make([]events.Event, size)
				for i := range batch {
					batch[i] = stockEvent(store, 1)
				}
				out, err := store.EnqueueBatch(ctx, batch)
				if err != nil {
					return false
				}
				for _, e := range out {
					if e.Seq != next {
						return false
					}
					next++
				}
			}
			stats, err := store.Stats(ctx)
			return err == nil && stats.LastSeq == next-1
		},
		gen.SliceOfN(5, gen.IntRange(1, 4)),
	))

	properties.TestingRun(t)
}
