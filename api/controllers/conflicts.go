package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lacaja/possync/api/responses"
	"github.com/lacaja/possync/api/validators"
	"github.com/lacaja/possync/internal/conflicts"
	"github.com/lacaja/possync/pkg/enums"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/logger"
	"github.com/lacaja/possync/pkg/pagination"
)

type ConflictService interface {
	ListPendingPage(ctx context.Context, params pagination.Params) (conflicts.Page, error)
	GetConflictDetail(ctx context.Context, conflictID uuid.UUID) (conflicts.Detail, error)
	ResolveConflict(ctx context.Context, conflictID uuid.UUID, strategy enums.ConflictResolution) error
}

type resolveConflictRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=keep_mine take_theirs merge"`
}

func ListConflicts(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListPendingPage(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		})
		if err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending conflicts")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func ConflictDetail(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conflictID, err := validators.ParseUUID(chi.URLParam(r, "conflictId"), "conflict id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetConflictDetail(r.Context(), conflictID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// ResolveConflict applies a reviewer's decision to a pending conflict.
func ResolveConflict(svc ConflictService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conflictID, err := validators.ParseUUID(chi.URLParam(r, "conflictId"), "conflict id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveConflictRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		strategy, err := enums.ParseConflictResolution(req.Resolution)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid resolution"))
			return
		}
		if err := svc.ResolveConflict(r.Context(), conflictID, strategy); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"conflict_id": conflictID.String(),
			"resolution":  string(strategy),
		})
	}
}
