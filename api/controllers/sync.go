package controllers

import (
	"context"
	"net/http"

	"github.com/lacaja/possync/api/responses"
	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/internal/syncengine"
	"github.com/lacaja/possync/pkg/logger"
)

type StatsSource interface {
	Stats(ctx context.Context) (eventstore.Stats, error)
}

type Syncer interface {
	SyncOnce(ctx context.Context) (syncengine.Result, error)
}

func SyncStatus(stats StatsSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := stats.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, out)
	}
}

// SyncNow runs one push pass and reports its outcome.
func SyncNow(engine Syncer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := engine.SyncOnce(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}
