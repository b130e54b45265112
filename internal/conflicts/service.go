package conflicts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/db/models"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/events"
	"github.com/lacaja/possync/pkg/logger"
	"github.com/lacaja/possync/pkg/pagination"
)

// EventLog is the slice of the event store conflict resolution mutates.
type EventLog interface {
	Get(ctx context.Context, eventID uuid.UUID) (models.LocalEvent, error)
	DiscardTx(tx *gorm.DB, eventID uuid.UUID, reason string) error
	ResetToPendingTx(tx *gorm.DB, eventID uuid.UUID) error
}

// CacheInvalidator drops every coarse read cache.
type CacheInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

// ServerStateFetcher loads the authoritative view of the entity a conflict
// refers to.
type ServerStateFetcher interface {
	FetchServerState(ctx context.Context, conflict models.LocalConflict, event events.Envelope) (json.RawMessage, error)
}

// ResolutionReporter tells the server how a conflict was settled.
type ResolutionReporter interface {
	ReportResolution(ctx context.Context, conflictID uuid.UUID, resolution enums.ConflictResolution) error
}

type ServiceParams struct {
	DB              *db.Client
	Logger          *logger.Logger
	Events          EventLog
	Cache           CacheInvalidator
	Fetcher         ServerStateFetcher
	Reporter        ResolutionReporter
	DefaultStrategy enums.ConflictResolution
	Now             func() time.Time
}

type Service struct {
	db       *db.Client
	repo     *Repository
	logg     *logger.Logger
	events   EventLog
	cache    CacheInvalidator
	fetcher  ServerStateFetcher
	reporter ResolutionReporter
	strategy enums.ConflictResolution
	now      func() time.Time
}

// Page is one slice of the pending conflict list.
type Page struct {
	Conflicts  []models.LocalConflict `json:"conflicts"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Detail is the read-only bundle shown to a reviewer.
type Detail struct {
	Conflict         models.LocalConflict `json:"conflict"`
	LocalEvent       *events.Envelope     `json:"local_event,omitempty"`
	ServerState      json.RawMessage      `json:"server_state,omitempty"`
	ServerStateError string               `json:"server_state_error,omitempty"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event log required")
	}
	strategy := params.DefaultStrategy
	if strategy == "" {
		strategy = enums.ResolutionTakeTheirs
	}
	if strategy != enums.ResolutionTakeTheirs && strategy != enums.ResolutionKeepMine {
		return nil, fmt.Errorf("default strategy must be keep_mine or take_theirs, got %q", strategy)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:       params.DB,
		repo:     NewRepository(params.DB.DB()),
		logg:     logg,
		events:   params.Events,
		cache:    params.Cache,
		fetcher:  params.Fetcher,
		reporter: params.Reporter,
		strategy: strategy,
		now:      now,
	}, nil
}

func (s *Service) Repository() *Repository {
	return s.repo
}

func (s *Service) DefaultStrategy() enums.ConflictResolution {
	return s.strategy
}

// ProcessPendingConflicts resolves every pending conflict with the default
// strategy. Conflicts flagged for manual review are left alone. Failures of
// individual conflicts are collected and do not stop the sweep.
func (s *Service) ProcessPendingConflicts(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list pending conflicts: %w", err)
	}

	var (
		resolved int
		errs     error
	)
	for _, conflict := range pending {
		if conflict.RequiresManualReview {
			continue
		}
		if err := s.ResolveConflict(ctx, conflict.ID, s.strategy); err != nil {
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"conflict_id": conflict.ID.String(),
				"event_id":    conflict.EventID.String(),
			}), "conflict resolution failed", err)
			errs = multierr.Append(errs, fmt.Errorf("conflict %s: %w", conflict.ID, err))
			continue
		}
		resolved++
	}

	if resolved > 0 {
		s.logg.Info(s.logg.WithField(ctx, "resolved", resolved), "pending conflicts resolved")
	}
	return resolved, errs
}

// ResolveConflict applies strategy to the conflict's originating event and
// closes the conflict in the same transaction.
func (s *Service) ResolveConflict(ctx context.Context, conflictID uuid.UUID, strategy enums.ConflictResolution) error {
	switch strategy {
	case enums.ResolutionTakeTheirs, enums.ResolutionKeepMine:
	case enums.ResolutionMerge:
		return pkgerrors.New(pkgerrors.CodeNotImplemented, "merge conflict resolution is not supported")
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid conflict resolution %q", strategy))
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"conflict_id": conflictID.String(),
		"resolution":  strategy.String(),
	})

	var conflict models.LocalConflict
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		conflict, err = s.repo.GetTx(tx, conflictID)
		if err != nil {
			return err
		}
		if conflict.Status != enums.ConflictStatusPending {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "conflict already resolved").
				WithDetails(map[string]any{"conflict_id": conflictID.String()})
		}

		switch strategy {
		case enums.ResolutionTakeTheirs:
			reason := fmt.Sprintf("conflict %s resolved take_theirs: %s", conflict.ID, conflict.Reason)
			if err := s.events.DiscardTx(tx, conflict.EventID, reason); err != nil {
				return err
			}
		case enums.ResolutionKeepMine:
			if err := s.events.ResetToPendingTx(tx, conflict.EventID); err != nil {
				return err
			}
		}
		return s.repo.MarkResolvedTx(tx, conflict.ID, strategy, s.now().UnixMilli())
	})
	if err != nil {
		return err
	}

	if strategy == enums.ResolutionKeepMine {
		// the server deduplicates on event_id, so the retry may be rejected again
		s.logg.Warn(s.logg.WithField(ctx, "event_id", conflict.EventID.String()), "event requeued with its original id")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cache invalidation after resolution failed")
		}
	}
	if s.reporter != nil {
		if err := s.reporter.ReportResolution(ctx, conflict.ID, strategy); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "reporting resolution to server failed")
		}
	}

	s.logg.Info(ctx, "conflict resolved")
	return nil
}

// GetConflictDetail assembles the conflict, its local event and, when a
// fetcher is wired, the server's current state. A failed fetch is reported
// in the detail rather than as an error.
func (s *Service) GetConflictDetail(ctx context.Context, conflictID uuid.UUID) (Detail, error) {
	conflict, err := s.repo.Get(ctx, conflictID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{Conflict: conflict}

	row, err := s.events.Get(ctx, conflict.EventID)
	switch {
	case err == nil:
		env := row.Envelope()
		detail.LocalEvent = &env
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
	default:
		return Detail{}, err
	}

	if s.fetcher != nil && detail.LocalEvent != nil {
		state, err := s.fetcher.FetchServerState(ctx, conflict, *detail.LocalEvent)
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"conflict_id": conflict.ID.String(),
				"error":       err.Error(),
			}), "server state unavailable")
			detail.ServerStateError = err.Error()
		} else {
			detail.ServerState = state
		}
	}
	return detail, nil
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]models.LocalConflict, error) {
	return s.repo.ListPending(ctx, limit)
}

// ListPendingPage pages through unresolved conflicts for a reviewer.
func (s *Service) ListPendingPage(ctx context.Context, params pagination.Params) (Page, error) {
	rows, next, err := s.repo.ListPendingPage(ctx, params)
	if err != nil {
		return Page{}, err
	}
	page := Page{Conflicts: rows}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}
