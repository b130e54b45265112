package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lacaja/possync/api/controllers"
	"github.com/lacaja/possync/api/routes"
	"github.com/lacaja/possync/internal/conflicts"
	"github.com/lacaja/possync/internal/cron"
	"github.com/lacaja/possync/internal/eventstore"
	"github.com/lacaja/possync/internal/fiscal"
	"github.com/lacaja/possync/internal/projection"
	"github.com/lacaja/possync/internal/syncengine"
	"github.com/lacaja/possync/pkg/apiclient"
	"github.com/lacaja/possync/pkg/cache"
	"github.com/lacaja/possync/pkg/config"
	"github.com/lacaja/possync/pkg/db"
	"github.com/lacaja/possync/pkg/enums"
	"github.com/lacaja/possync/pkg/logger"
	"github.com/lacaja/possync/pkg/metrics"
	"github.com/lacaja/possync/pkg/migrate"
	"github.com/lacaja/possync/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	replay := flag.Bool("replay", false, "rebuild read models from the local event log before starting")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "syncd"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "syncd",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	storeID, deviceID, err := cfg.Device.Identity()
	requireResource(context.Background(), logg, "device identity", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"store_id":  storeID.String(),
		"device_id": deviceID.String(),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	requireResource(ctx, logg, "migrations", migrate.MaybeRun(ctx, cfg, logg, dbClient))

	var (
		backend     cache.Backend
		redisClient *redis.Client
		redisPinger controllers.Pinger
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		requireResource(ctx, logg, "redis", err)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		backend = redisClient
		redisPinger = redisClient
	} else {
		backend = cache.NewMemoryBackend()
	}
	readCache := cache.New(backend, cfg.Redis.CacheTTL, logg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server, err := apiclient.NewFromConfig(cfg.Server)
	requireResource(ctx, logg, "server client", err)

	projector, err := projection.NewManager(projection.ManagerParams{
		DB:      dbClient,
		Logger:  logg,
		Cache:   readCache,
		Metrics: metrics.NewProjectionMetrics(registry),
	})
	requireResource(ctx, logg, "projection manager", err)

	store, err := eventstore.NewService(eventstore.ServiceParams{
		DB:        dbClient,
		Logger:    logg,
		StoreID:   storeID,
		DeviceID:  deviceID,
		Projector: projector,
	})
	requireResource(ctx, logg, "event store", err)

	if *replay {
		applied, err := projector.Replay(ctx, store)
		requireResource(ctx, logg, "projection replay", err)
		logg.Info(logg.WithField(ctx, "applied", applied), "read models rebuilt")
	}

	conflictSvc, err := conflicts.NewService(conflicts.ServiceParams{
		DB:              dbClient,
		Logger:          logg,
		Events:          store,
		Cache:           readCache,
		Fetcher:         server,
		Reporter:        server,
		DefaultStrategy: enums.ConflictResolution(cfg.Conflicts.DefaultStrategy),
	})
	requireResource(ctx, logg, "conflict service", err)

	allocator, err := fiscal.NewAllocator(fiscal.AllocatorParams{
		DB:           dbClient,
		Transport:    server,
		Connectivity: server,
		Logger:       logg,
		Metrics:      metrics.NewFiscalMetrics(registry),
		Config:       cfg.Fiscal,
		StoreID:      storeID,
		DeviceID:     deviceID,
	})
	requireResource(ctx, logg, "fiscal allocator", err)
	defer allocator.Wait()

	engineParams := syncengine.EngineParams{
		DB:           dbClient,
		Store:        store,
		Transport:    server,
		Puller:       server,
		Projector:    projector,
		Connectivity: server,
		Logger:       logg,
		Metrics:      metrics.NewSyncMetrics(registry),
		Config:       cfg.Sync,
	}
	if cfg.Conflicts.AutoResolve {
		engineParams.Conflicts = conflictSvc
	}
	engine, err := syncengine.NewEngine(engineParams)
	requireResource(ctx, logg, "sync engine", err)

	jobs, err := newJobService(cfg, logg, redisClient, registry, conflictSvc, allocator, deviceID.String())
	requireResource(ctx, logg, "job service", err)

	httpServer := &http.Server{
		Addr: cfg.Status.Addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Logger:    logg,
			DB:        dbClient,
			Redis:     redisPinger,
			Stats:     store,
			Sync:      engine,
			Conflicts: conflictSvc,
			Fiscal:    allocator,
			Gatherer:  registry,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "sync loop stopped unexpectedly", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := jobs.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "job runner stopped unexpectedly", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		logg.Info(logg.WithField(ctx, "addr", cfg.Status.Addr), "status server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "status server stopped unexpectedly", err)
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info(ctx, "syncd shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "status server shutdown failed", err)
	}
	wg.Wait()
}

func newJobService(
	cfg *config.Config,
	logg *logger.Logger,
	redisClient *redis.Client,
	reg prometheus.Registerer,
	conflictSvc *conflicts.Service,
	allocator *fiscal.Allocator,
	deviceID string,
) (*cron.Service, error) {
	var lock cron.Lock = cron.NewLocalLock(cfg.Jobs.LockTTL)
	if redisClient != nil {
		redisLock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cfg.Jobs.LockKey, deviceID), cfg.Jobs.LockTTL)
		if err != nil {
			return nil, err
		}
		lock = redisLock
	}

	registry := cron.NewRegistry()
	if cfg.Conflicts.AutoResolve {
		sweep, err := cron.NewConflictSweepJob(cron.ConflictSweepJobParams{Logger: logg, Conflicts: conflictSvc})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(sweep); err != nil {
			return nil, err
		}
	}
	prefetch, err := cron.NewFiscalPrefetchJob(cron.FiscalPrefetchJobParams{
		Logger:       logg,
		Allocator:    allocator,
		SeriesIDs:    cfg.Fiscal.SeriesIDs,
		MinRemaining: cfg.Fiscal.MinRemaining,
	})
	if err != nil {
		return nil, err
	}
	if prefetch != nil {
		if err := registry.Register(prefetch); err != nil {
			return nil, err
		}
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(reg),
		Interval: cfg.Jobs.Interval,
	})
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
