package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lacaja/possync/api/responses"
	"github.com/lacaja/possync/internal/fiscal"
	pkgerrors "github.com/lacaja/possync/pkg/errors"
	"github.com/lacaja/possync/pkg/logger"
)

type FiscalStatusSource interface {
	GetLocalStatus(ctx context.Context, series string) (fiscal.LocalStatus, error)
}

func FiscalStatus(src FiscalStatusSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		series := strings.TrimSpace(chi.URLParam(r, "seriesId"))
		if series == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "series id is required"))
			return
		}
		status, err := src.GetLocalStatus(r.Context(), series)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
