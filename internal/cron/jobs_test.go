package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacaja/possync/pkg/logger"
)

type fakeConflicts struct {
	resolved int
	err      error
	calls    int
}

func (f *fakeConflicts) ProcessPendingConflicts(context.Context) (int, error) {
	f.calls++
	return f.resolved, f.err
}

type fakePrefetcher struct {
	series []string
	min    int64
	err    error
}

func (f *fakePrefetcher) PrefetchForSeries(_ context.Context, series []string, minRemaining int64) error {
	f.series = series
	f.min = minRemaining
	return f.err
}

func TestConflictSweepJob(t *testing.T) {
	conflicts := &fakeConflicts{resolved: 3}
	job, err := NewConflictSweepJob(ConflictSweepJobParams{Logger: logger.Nop(), Conflicts: conflicts})
	require.NoError(t, err)
	assert.Equal(t, "conflict-sweep", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, conflicts.calls)

	conflicts.err = errors.New("db locked")
	assert.Error(t, job.Run(context.Background()))
}

func TestConflictSweepJobRequiresProcessor(t *testing.T) {
	_, err := NewConflictSweepJob(ConflictSweepJobParams{Logger: logger.Nop()})
	assert.Error(t, err)
}

func TestFiscalPrefetchJob(t *testing.T) {
	prefetcher := &fakePrefetcher{}
	job, err := NewFiscalPrefetchJob(FiscalPrefetchJobParams{
		Logger:       logger.Nop(),
		Allocator:    prefetcher,
		SeriesIDs:    []string{" F001 ", "", "B002"},
		MinRemaining: 20,
	})
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"F001", "B002"}, prefetcher.series)
	assert.Equal(t, int64(20), prefetcher.min)

	prefetcher.err = errors.New("offline")
	assert.Error(t, job.Run(context.Background()))
}

func TestFiscalPrefetchJobSkippedWithoutSeries(t *testing.T) {
	job, err := NewFiscalPrefetchJob(FiscalPrefetchJobParams{
		Logger:    logger.Nop(),
		Allocator: &fakePrefetcher{},
		SeriesIDs: []string{"  "},
	})
	require.NoError(t, err)
	assert.Nil(t, job)
}
