package cron

import (
	"context"
	"fmt"
	"strings"

	"github.com/lacaja/possync/pkg/logger"
)

type fiscalPrefetcher interface {
	PrefetchForSeries(ctx context.Context, series []string, minRemaining int64) error
}

type FiscalPrefetchJobParams struct {
	Logger       *logger.Logger
	Allocator    fiscalPrefetcher
	SeriesIDs    []string
	MinRemaining int64
}

// NewFiscalPrefetchJob builds the job that tops up fiscal leases while the
// device is online. It returns a nil Job when no series are configured.
func NewFiscalPrefetchJob(params FiscalPrefetchJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("fiscal allocator required")
	}
	series := make([]string, 0, len(params.SeriesIDs))
	for _, id := range params.SeriesIDs {
		if id = strings.TrimSpace(id); id != "" {
			series = append(series, id)
		}
	}
	if len(series) == 0 {
		return nil, nil
	}
	minRemaining := params.MinRemaining
	if minRemaining <= 0 {
		minRemaining = 1
	}
	return &fiscalPrefetchJob{
		logg:         params.Logger,
		allocator:    params.Allocator,
		series:       series,
		minRemaining: minRemaining,
	}, nil
}

type fiscalPrefetchJob struct {
	logg         *logger.Logger
	allocator    fiscalPrefetcher
	series       []string
	minRemaining int64
}

func (j *fiscalPrefetchJob) Name() string { return "fiscal-prefetch" }

func (j *fiscalPrefetchJob) Run(ctx context.Context) error {
	if err := j.allocator.PrefetchForSeries(ctx, j.series, j.minRemaining); err != nil {
		return fmt.Errorf("fiscal prefetch: %w", err)
	}
	j.logg.Debug(j.logg.WithFields(ctx, map[string]any{
		"series":        strings.Join(j.series, ","),
		"min_remaining": j.minRemaining,
	}), "fiscal leases checked")
	return nil
}
