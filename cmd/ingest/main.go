// Command ingest syncs station readings from the upstream open-data API into
// the ground-truth store, once or on a schedule.
//
// Usage:
//
//	go run ./cmd/ingest -once
//	go run ./cmd/ingest            # sync now, then every INGEST_INTERVAL
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/airshed/aod-calibration-service/internal/adapter/cpcb"
	"github.com/airshed/aod-calibration-service/internal/adapter/sqlite"
	"github.com/airshed/aod-calibration-service/internal/config"
	"github.com/airshed/aod-calibration-service/internal/ingest"
	"github.com/airshed/aod-calibration-service/internal/observability"
)

func main() {
	once := flag.Bool("once", false, "run a single sync and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client, err := cpcb.New(cpcb.Config{
		BaseURL:  cfg.StationAPIBaseURL,
		APIKey:   cfg.StationAPIKey,
		PageSize: cfg.StationPageSize,
		Timeout:  cfg.StationAPITimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to build station API client", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ingestor := ingest.New(client, db, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if _, err := ingestor.Sync(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	// First sync immediately, then on the configured interval.
	if _, err := ingestor.Sync(ctx); err != nil {
		logger.Warn("initial sync failed, continuing on schedule", "error", err)
	}

	scheduler := gocron.NewScheduler(time.UTC)
	_, err = scheduler.Every(cfg.IngestInterval).Do(func() {
		syncCtx, cancel := context.WithTimeout(ctx, cfg.IngestInterval)
		defer cancel()
		ingestor.Sync(syncCtx) //nolint:errcheck // logged and counted inside
	})
	if err != nil {
		logger.Error("failed to schedule sync", "error", err)
		os.Exit(1)
	}
	scheduler.StartAsync()
	logger.Info("ingest scheduler started", "interval", cfg.IngestInterval)

	<-ctx.Done()
	logger.Info("shutting down")
	scheduler.Stop()
	logger.Info("shutdown complete")
}
