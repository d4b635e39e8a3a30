package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/facilityops/backend/internal/config"
	"github.com/facilityops/backend/internal/db"
	"github.com/facilityops/backend/internal/escalate"
	"github.com/facilityops/backend/internal/events"
	httpapi "github.com/facilityops/backend/internal/http"
	"github.com/facilityops/backend/internal/schedule"
	"github.com/facilityops/backend/internal/sla"
	"github.com/facilityops/backend/internal/workorder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "facility-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	lib, err := sla.LoadLibrary(cfg.PolicyFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("failed to load policy library")
	}

	notifier := &events.LogNotifier{Logger: logger}
	scheduler := schedule.NewScheduler(store, notifier, lib, logger)
	registry := workorder.NewRegistry(store, lib, logger)
	engine := &escalate.Engine{
		Registry: registry,
		Library:  lib,
		Notifier: notifier,
		Auditor:  store,
		Logger:   logger,
	}

	if err := rebuildState(ctx, store, scheduler, registry, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to rebuild state from db")
	}

	sweeper := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	_, err = sweeper.AddFunc(cfg.SweepSpec, func() {
		tickCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		summary := engine.Tick(tickCtx, time.Now().UTC())
		logger.Debug().
			Int("evaluated", summary.Evaluated).
			Int("escalations", summary.Escalations).
			Int("breaches", summary.Breaches).
			Int("failures", summary.Failures).
			Msg("sla sweep")
	})
	if err != nil {
		logger.Fatal().Err(err).Str("spec", cfg.SweepSpec).Msg("invalid sweep schedule")
	}
	sweeper.Start()

	router := httpapi.Router(cfg, store, scheduler, registry, engine, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sweepCtx := sweeper.Stop()
	<-sweepCtx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}

// rebuildState reloads resources, confirmed bookings and active work items so
// the in-memory calendar and registry match the store after a restart.
func rebuildState(ctx context.Context, store *db.Store, scheduler *schedule.Scheduler, registry *workorder.Registry, logger zerolog.Logger) error {
	resources, err := store.ListResources(ctx)
	if err != nil {
		return err
	}
	for _, res := range resources {
		if err := scheduler.AddResource(res); err != nil {
			logger.Warn().Err(err).Str("resource_id", res.ID).Msg("skipping stored resource")
		}
	}

	bookings, err := store.ListConfirmedBookings(ctx)
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if err := scheduler.Restore(b); err != nil {
			logger.Warn().Err(err).Str("booking_id", b.ID).Msg("skipping stored booking")
		}
	}

	items, err := store.ListActiveWorkItems(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		registry.Restore(it)
	}

	logger.Info().
		Int("resources", len(resources)).
		Int("bookings", len(bookings)).
		Int("work_items", len(items)).
		Msg("state rebuilt")
	return nil
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
