// Package app wires the configured backends into a running scheduling
// service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fieldops/fsd/api"
	"github.com/fieldops/fsd/config"
	"github.com/fieldops/fsd/core/calendar"
	"github.com/fieldops/fsd/core/capacity"
	coregeo "github.com/fieldops/fsd/core/geo"
	"github.com/fieldops/fsd/core/policy"
	"github.com/fieldops/fsd/core/route"
	"github.com/fieldops/fsd/core/scheduler"
	"github.com/fieldops/fsd/core/scheduler/audit"
	"github.com/fieldops/fsd/core/slot"
	corestore "github.com/fieldops/fsd/core/store"
	"github.com/fieldops/fsd/infra/cache"
	infracal "github.com/fieldops/fsd/infra/calendar"
	infrageo "github.com/fieldops/fsd/infra/geo"
	"github.com/fieldops/fsd/infra/logger"
	"github.com/fieldops/fsd/infra/metrics"
	"github.com/fieldops/fsd/infra/notify"
	infrastore "github.com/fieldops/fsd/infra/store"
	"github.com/fieldops/fsd/internal/eventbus"
)

// Service holds the wired scheduling stack.
type Service struct {
	Store     corestore.Store
	Scheduler *scheduler.Scheduler
	Geocoder  coregeo.Geocoder
	bus       *eventbus.Bus
	handler   *api.Handler
	audit     audit.LogStore
	httpAddr  string
	shutdown  time.Duration
	log       logger.Logger
	closers   []func() error
}

// New builds the Service from the configuration. Construction connects to
// every configured backend and fails fast when one is unreachable.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.New("service")
	svc := &Service{
		httpAddr: cfg.HTTP.Addr,
		shutdown: time.Duration(cfg.HTTP.ShutdownTimeout) * time.Second,
		log:      log,
	}

	// Persistence
	var st corestore.Store
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := infrastore.NewPostgres(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		if cfg.Store.InitSchema {
			if err := pg.InitSchema(ctx); err != nil {
				return nil, fmt.Errorf("init schema: %w", err)
			}
		}
		svc.closers = append(svc.closers, pg.Close)
		st = pg
	default:
		st = corestore.NewMemoryStore()
	}
	svc.Store = st

	// Distance estimates
	var distCache coregeo.DistanceCache
	switch cfg.Distance.Cache {
	case "redis":
		rc, err := cache.NewRedisCache(cfg.Distance.RedisAddr, cfg.Distance.RedisPassword, cfg.Distance.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis distance cache: %w", err)
		}
		svc.closers = append(svc.closers, rc.Close)
		distCache = rc
	default:
		distCache = coregeo.NewMemoryCache()
	}
	travel := coregeo.NewEstimator(distCache, logger.New("geo"))

	// Geocoding
	if cfg.Geocoder.BaseURL != "" {
		svc.Geocoder = infrageo.NewHTTPGeocoder(cfg.Geocoder.BaseURL, cfg.Geocoder.APIKey,
			cfg.Geocoder.Country, logger.New("geocoder"))
	} else {
		svc.Geocoder = coregeo.NopGeocoder{}
	}

	// External calendar
	var provider calendar.Provider = calendar.NopProvider{}
	if cfg.Calendar.BaseURL != "" {
		provider = infracal.NewHTTPProvider(cfg.Calendar.BaseURL, cfg.Calendar.APIKey, logger.New("calendar"))
	}
	merger := calendar.NewMerger(st, provider, logger.New("calendar"))

	// Audit trail
	var auditLog audit.LogStore
	var err error
	switch cfg.Audit.Backend {
	case "sqlite":
		auditLog, err = audit.NewSQLiteStore(cfg.Audit.Path)
	case "none":
		auditLog = audit.NopStore{}
	default:
		auditLog, err = audit.NewRotatingJSONLStore(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups)
	}
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	svc.audit = auditLog
	svc.closers = append(svc.closers, auditLog.Close)

	// Metrics
	sink, err := metrics.NewSink(ctx, cfg.Metrics, logger.New("metrics"))
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	svc.closers = append(svc.closers, sink.Close)

	// Notifications
	var notifier scheduler.Notifier = scheduler.NopNotifier{}
	if cfg.Notify.Enabled {
		mq, err := notify.NewMQTTNotifier(cfg.Notify.MQTT, logger.New("notify"))
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		svc.closers = append(svc.closers, func() error { mq.Close(); return nil })
		notifier = mq
	}

	// Core pipeline
	planner := capacity.NewPlanner(st, logger.New("capacity"))
	engine := policy.NewEngine(st, travel, planner, logger.New("policy"))
	finder := slot.NewFinder(st, merger, logger.New("slot"))
	recommender := policy.NewRecommender(st, merger, travel, logger.New("recommender"))
	optimizer := route.NewOptimizer(st, travel, logger.New("route"))

	svc.bus = eventbus.New()
	optimizer.Bus = svc.bus
	sched := scheduler.New(st, engine, finder, planner, auditLog, svc.bus, sink, notifier, logger.New("scheduler"))
	sched.CandidateLimit = cfg.Scheduling.CandidateLimit
	sched.HorizonDays = cfg.Scheduling.HorizonDays
	sched.Geocoder = svc.Geocoder
	svc.Scheduler = sched

	svc.handler = api.New(st, sched, finder, engine, recommender, planner, optimizer,
		auditLog, svc.bus, logger.New("api"), cfg.HTTP.AuthToken)
	return svc, nil
}

// Run serves the HTTP API until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.httpAddr, Handler: s.handler.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("http api listening on %s", s.httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases every backend the service connected to.
func (s *Service) Close() error {
	if s.bus != nil {
		s.bus.Close()
	}
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
