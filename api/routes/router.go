package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lacaja/possync/api/controllers"
	"github.com/lacaja/possync/api/middleware"
	"github.com/lacaja/possync/pkg/logger"
)

// RouterParams carries everything the local status surface reads from.
// Redis and Fiscal may be nil.
type RouterParams struct {
	Logger    *logger.Logger
	DB        controllers.Pinger
	Redis     controllers.Pinger
	Stats     controllers.StatsSource
	Sync      controllers.Syncer
	Conflicts controllers.ConflictService
	Fiscal    controllers.FiscalStatusSource
	Gatherer  prometheus.Gatherer
}

// NewRouter builds the device-local status API.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(p.Logger),
		middleware.RequestID(p.Logger),
		middleware.Logging(p.Logger),
	)

	r.Get("/healthz", controllers.HealthReady(p.Logger, p.DB, p.Redis))
	r.Get("/livez", controllers.HealthLive())

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/sync", func(r chi.Router) {
		r.Get("/status", controllers.SyncStatus(p.Stats, p.Logger))
		r.Post("/now", controllers.SyncNow(p.Sync, p.Logger))
	})

	r.Route("/conflicts", func(r chi.Router) {
		r.Get("/", controllers.ListConflicts(p.Conflicts, p.Logger))
		r.Get("/{conflictId}", controllers.ConflictDetail(p.Conflicts, p.Logger))
		r.Post("/{conflictId}/resolve", controllers.ResolveConflict(p.Conflicts, p.Logger))
	})

	if p.Fiscal != nil {
		r.Get("/fiscal/{seriesId}/status", controllers.FiscalStatus(p.Fiscal, p.Logger))
	}
	return r
}
