package cron

import (
	"context"
	"fmt"

	"github.com/lacaja/possync/pkg/logger"
)

type conflictProcessor interface {
	ProcessPendingConflicts(ctx context.Context) (int, error)
}

type ConflictSweepJobParams struct {
	Logger    *logger.Logger
	Conflicts conflictProcessor
}

// NewConflictSweepJob builds the job that auto-resolves pending conflicts
// left behind by sync runs that happened while the processor was failing.
func NewConflictSweepJob(params ConflictSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Conflicts == nil {
		return nil, fmt.Errorf("conflict processor required")
	}
	return &conflictSweepJob{logg: params.Logger, conflicts: params.Conflicts}, nil
}

type conflictSweepJob struct {
	logg      *logger.Logger
	conflicts conflictProcessor
}

func (j *conflictSweepJob) Name() string { return "conflict-sweep" }

func (j *conflictSweepJob) Run(ctx context.Context) error {
	resolved, err := j.conflicts.ProcessPendingConflicts(ctx)
	if resolved > 0 {
		j.logg.Info(j.logg.WithField(ctx, "resolved", resolved), "pending conflicts resolved")
	}
	if err != nil {
		return fmt.Errorf("conflict sweep: %w", err)
	}
	return nil
}
