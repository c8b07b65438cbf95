package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jonboulle/clockwork"

	httpadapter "github.com/stratuscast/gridgen/internal/adapter/http"
	kafkaadapter "github.com/stratuscast/gridgen/internal/adapter/kafka"
	"github.com/stratuscast/gridgen/internal/artifact"
	"github.com/stratuscast/gridgen/internal/config"
	"github.com/stratuscast/gridgen/internal/fetch"
	"github.com/stratuscast/gridgen/internal/nwp"
	"github.com/stratuscast/gridgen/internal/observability"
	"github.com/stratuscast/gridgen/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	registry, err := buildRegistry(cfg)
	if err != nil {
		logger.Error("failed to build registry", "error", err)
		os.Exit(1)
	}

	store, err := artifact.NewStore(cfg.ArtifactDir, logger)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	region := fetch.Region{
		North: cfg.RegionNorth,
		South: cfg.RegionSouth,
		West:  cfg.RegionWest,
		East:  cfg.RegionEast,
	}
	decoder := fetch.NewWGrib2Decoder(os.Getenv("WGRIB2_PATH"))
	fetcher := fetch.NewNOMADSFetcher(cfg.NOMADSBaseURL, decoder, region, cfg.FetchTimeout, logger)

	// Artifact event publishing (feature-flagged via KAFKA_BROKERS / EVENTS_ENABLED).
	var events scheduler.Publisher
	var eventsCloser interface{ Close() error }
	if cfg.EventsEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		events = writer
		eventsCloser = writer
		logger.Info("artifact events enabled", "topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("artifact events disabled")
	}

	sched := scheduler.New(
		registry,
		fetcher,
		artifact.NewFieldWriter(store),
		store,
		events,
		nil, // live memory stats
		clockwork.NewRealClock(),
		logger,
		metrics,
		scheduler.Options{
			Variables:       cfg.Variables,
			WorkersOverride: cfg.WorkerPoolOverride,
			MaxDuration:     cfg.MaxDuration(),
			CheckInterval:   cfg.CheckInterval(),
			RetainRuns:      cfg.RetainRuns,
			Parallel:        cfg.ParallelModels,
			Progressive:     cfg.Progressive,
		},
	)

	srv := httpadapter.NewServer(cfg.HTTPAddr, sched, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run one cycle at startup, then on the cron cadence. Overlapping
	// cycles are pointless (the second would find everything pending or
	// in flight), so the scheduler job is singleton-flagged.
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	_, err = cron.Every(cfg.CycleIntervalMinutes).Minutes().Do(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := sched.RunCycle(ctx); err != nil {
			logger.Error("generation cycle failed", "error", err)
		}
	})
	if err != nil {
		logger.Error("failed to schedule generation cycles", "error", err)
		os.Exit(1)
	}
	cron.StartAsync()

	<-ctx.Done()
	logger.Info("shutting down")

	cron.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if eventsCloser != nil {
		if err := eventsCloser.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// buildRegistry applies the configured model enablement on top of the
// built-in capability tables.
func buildRegistry(cfg *config.Config) (*nwp.Registry, error) {
	models := nwp.DefaultModels()
	for i := range models {
		models[i].Enabled = slices.Contains(cfg.Models, models[i].ID)
	}
	return nwp.NewRegistry(models, nwp.DefaultVariables(), nwp.DefaultAliases())
}
