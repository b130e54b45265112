package fiscal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/lacaja/possync/pkg/config"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/logger"
	"github.com/lacaja/possync/pkg/metrics"
)

// Source tells where EnsureAvailability found capacity.
type Source string

const (
	SourceLocal    Source = "local"
	SourceReserved Source = "reserved"
	SourceNone     Source = "none"
)

type Availability struct {
	Available bool   `json:"available"`
	Remaining int64  `json:"remaining"`
	Source    Source `json:"source"`
}

type LocalStatus struct {
	SeriesID     string `json:"series_id"`
	ActiveLeases int    `json:"active_leases"`
	Remaining    int64  `json:"remaining"`
	Low          bool   `json:"low"`
}

type AllocatorParams struct {
	DB           *db.Client
	Transport    Transport
	Connectivity Connectivity
	Logger       *logger.Logger
	Metrics      *metrics.FiscalMetrics
	Config       config.FiscalConfig
	StoreID      uuid.UUID
	DeviceID     uuid.UUID
	Now          func() time.Time
}

// Allocator hands out fiscal numbers from leases held by this device.
type Allocator struct {
	repo         *Repository
	transport    Transport
	connectivity Connectivity
	logg         *logger.Logger
	metrics      *metrics.FiscalMetrics
	cfg          config.FiscalConfig
	storeID      uuid.UUID
	deviceID     uuid.UUID
	now          func() time.Time

	inflight   singleflight.Group
	background sync.WaitGroup
}

func NewAllocator(params AllocatorParams) (*Allocator, error) {
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
	cfg := params.Config
	if cfg.MinRemaining <= 0 {
		cfg.MinRemaining = 5
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = 5
	}
	if cfg.PrefetchRatio <= 0 || cfg.PrefetchRatio >= 1 {
		cfg.PrefetchRatio = 0.2
	}
	if cfg.ConsumeAttempts <= 0 {
		cfg.ConsumeAttempts = 5
	}
	return &Allocator{
		repo:         NewRepository(params.DB.DB()),
		transport:    params.Transport,
		connectivity: params.Connectivity,
		logg:         logg,
		metrics:      params.Metrics,
		cfg:          cfg,
		storeID:      params.StoreID,
		deviceID:     params.DeviceID,
		now:          now,
	}, nil
}

func (a *Allocator) Repository() *Repository {
	return a.repo
}

func (a *Allocator) key(series string) LeaseKey {
	return LeaseKey{StoreID: a.storeID, SeriesID: series, DeviceID: a.deviceID}
}

// ConsumeNext returns the next unused number of the series. It fails with
// FISCAL_EXHAUSTED when no lease can serve one, never reusing or skipping a
// number to make progress.
func (a *Allocator) ConsumeNext(ctx context.Context, series string) (int64, error) {
	series = strings.TrimSpace(series)
	if series == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "series id required")
	}
	ctx = a.logg.WithSeriesID(ctx, series)

	for attempt := 0; attempt < a.cfg.ConsumeAttempts; attempt++ {
		lease, err := a.bestLease(ctx, series)
		if err != nil {
			return 0, err
		}
		if lease == nil {
			avail, err := a.EnsureAvailability(ctx, series, 1)
			if err != nil {
				return 0, err
			}
			if !avail.Available {
				break
			}
			continue
		}

		next := lease.UsedUpTo + 1
		if next > lease.RangeEnd {
			a.logg.Warn(a.logg.WithField(ctx, "range_id", lease.ID), "fiscal range exhausted")
			if err := a.repo.MarkExhausted(ctx, lease.ID); err != nil {
				return 0, err
			}
			continue
		}

		ok, err := a.repo.Advance(ctx, lease.ID, lease.UsedUpTo, next, a.now().UnixMilli())
		if err != nil {
			return 0, err
		}
		if !ok {
			// lost the race or the lease expired underneath us
			continue
		}
		a.metrics.IncConsumed(series)
		a.maybePrefetch(ctx, series, *lease, next)
		return next, nil
	}

	a.metrics.IncExhausted(series)
	return 0, pkgerrors.New(pkgerrors.CodeFiscalExhausted, "no fiscal numbers available offline").
		WithDetails(map[string]any{"series_id": series})
}

func (a *Allocator) bestLease(ctx context.Context, series string) (*models.FiscalRange, error) {
	key := a.key(series)
	nowMs := a.now().UnixMilli()
	expired, err := a.repo.ExpireStale(ctx, key, nowMs)
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		a.logg.Warn(a.logg.WithField(ctx, "expired", expired), "fiscal ranges expired")
	}
	rows, err := a.repo.ListActive(ctx, key, nowMs)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (a *Allocator) maybePrefetch(ctx context.Context, series string, lease models.FiscalRange, consumed int64) {
	size := lease.Size()
	remaining := lease.RangeEnd - consumed
	if float64(remaining) >= float64(size)*a.cfg.PrefetchRatio {
		return
	}
	if !a.online(ctx) {
		return
	}
	want := max(a.cfg.MinRemaining, int64(math.Ceil(float64(size)*0.3)))

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		bg := context.WithoutCancel(ctx)
		if _, err := a.EnsureAvailability(bg, series, want); err != nil {
			a.logg.Warn(a.logg.WithField(bg, "error", err.Error()), "background fiscal prefetch failed")
		}
	}()
}

// Wait blocks until background prefetches started by ConsumeNext finish.
func (a *Allocator) Wait() {
	a.background.Wait()
}

// EnsureAvailability makes sure at least minRemaining numbers are leased
// locally, reserving from the server when online. Concurrent callers for the
// same series share a single reservation, and a caller that saw a short
// lease just before another reservation landed does not reserve again.
func (a *Allocator) EnsureAvailability(ctx context.Context, series string, minRemaining int64) (Availability, error) {
	minRemaining = max(1, minRemaining)
	status, err := a.GetLocalStatus(ctx, series)
	if err != nil {
		return Availability{}, err
	}
	if status.Remaining >= minRemaining {
		return Availability{Available: true, Remaining: status.Remaining, Source: SourceLocal}, nil
	}
	if a.transport == nil || !a.online(ctx) {
		return Availability{Available: status.Remaining > 0, Remaining: status.Remaining, Source: SourceNone}, nil
	}

	key := a.key(series)
	ch := a.inflight.DoChan(key.String(), func() (any, error) {
		return a.reserveIfShort(context.WithoutCancel(ctx), key, minRemaining)
	})
	select {
	case <-ctx.Done():
		return Availability{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
				"series_id": series,
				"error":     res.Err.Error(),
			}), "fiscal range reservation failed")
		}
	}

	after, err := a.GetLocalStatus(ctx, series)
	if err != nil {
		return Availability{}, err
	}
	source := SourceReserved
	if after.ActiveLeases == 0 {
		source = SourceNone
	}
	return Availability{Available: after.Remaining > 0, Remaining: after.Remaining, Source: source}, nil
}

// reserveIfShort re-reads the local status under the singleflight key and
// only reserves when the lease is still short.
func (a *Allocator) reserveIfShort(ctx context.Context, key LeaseKey, minRemaining int64) (*models.FiscalRange, error) {
	status, err := a.GetLocalStatus(ctx, key.SeriesID)
	if err != nil {
		return nil, err
	}
	if status.Remaining >= minRemaining {
		return nil, nil
	}
	return a.reserve(ctx, key)
}

// reserve asks the server for a new lease. When the server says one is
// already active, or the reservation fails, the active lease is hydrated.
func (a *Allocator) reserve(ctx context.Context, key LeaseKey) (*models.FiscalRange, error) {
	req := ReserveRequest{StoreID: key.StoreID, SeriesID: key.SeriesID, DeviceID: key.DeviceID}
	ctx = a.logg.WithSeriesID(ctx, key.SeriesID)

	grant, err := a.transport.ReserveRange(ctx, req)
	if err == nil {
		lease, err := a.adopt(ctx, req, grant, "granted")
		if err != nil {
			return nil, err
		}
		a.logg.Info(a.logg.WithFields(ctx, map[string]any{
			"range_start": lease.RangeStart,
			"range_end":   lease.RangeEnd,
		}), "fiscal range reserved")
		return lease, nil
	}

	if errors.Is(err, ErrActiveRangeExists) {
		a.logg.Warn(ctx, "server already holds an active range, hydrating")
	} else {
		a.logg.Warn(a.logg.WithField(ctx, "error", err.Error()), "fiscal range reservation failed, trying active range")
	}
	lease, herr := a.hydrate(ctx, req)
	if herr != nil {
		return nil, multierr.Append(err, herr)
	}
	if lease == nil {
		return nil, err
	}
	return lease, nil
}

func (a *Allocator) hydrate(ctx context.Context, req ReserveRequest) (*models.FiscalRange, error) {
	grant, err := a.transport.GetActiveRange(ctx, req)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, nil
	}
	return a.adopt(ctx, req, *grant, "hydrated")
}

func (a *Allocator) adopt(ctx context.Context, req ReserveRequest, grant Grant, outcome string) (*models.FiscalRange, error) {
	row, err := NormalizeGrant(req, grant, a.now())
	if err != nil {
		return nil, err
	}
	if row.StoreID != a.storeID || row.DeviceID != a.deviceID || row.SeriesID != req.SeriesID {
		return nil, pkgerrors.New(pkgerrors.CodeMalformedResponse, "fiscal range granted to another device").
			WithDetails(map[string]any{"range_id": row.ID, "series_id": row.SeriesID})
	}
	stored, err := a.repo.Adopt(ctx, row)
	if err != nil {
		return nil, err
	}
	a.metrics.IncReserved(req.SeriesID, outcome)
	return &stored, nil
}

// GetLocalStatus sums the remaining capacity of active, unexpired leases.
func (a *Allocator) GetLocalStatus(ctx context.Context, series string) (LocalStatus, error) {
	key := a.key(series)
	nowMs := a.now().UnixMilli()
	if _, err := a.repo.ExpireStale(ctx, key, nowMs); err != nil {
		return LocalStatus{}, err
	}
	rows, err := a.repo.ListActive(ctx, key, nowMs)
	if err != nil {
		return LocalStatus{}, err
	}
	status := LocalStatus{SeriesID: series, ActiveLeases: len(rows)}
	for _, row := range rows {
		status.Remaining += row.Remaining()
	}
	status.Low = status.Remaining < a.cfg.LowThreshold
	a.metrics.SetRemaining(series, status.Remaining)
	return status, nil
}

// PrefetchForSeries tops up every listed series while online. Failures for
// one series do not stop the others.
func (a *Allocator) PrefetchForSeries(ctx context.Context, series []string, minRemaining int64) error {
	seen := make(map[string]struct{}, len(series))
	unique := make([]string, 0, len(series))
	for _, s := range series {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		unique = append(unique, s)
	}
	if len(unique) == 0 || !a.online(ctx) {
		return nil
	}
	if minRemaining <= 0 {
		minRemaining = a.cfg.MinRemaining
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, s := range unique {
		wg.Add(1)
		go func(series string) {
			defer wg.Done()
			if _, err := a.EnsureAvailability(ctx, series, minRemaining); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("series %s: %w", series, err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errs
}

func (a *Allocator) online(ctx context.Context) bool {
	if a.connectivity == nil {
		return a.transport != nil
	}
	return a.connectivity.Online(ctx)
}
