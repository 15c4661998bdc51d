// Command api serves the calibration HTTP API. Model artifacts are loaded
// once at startup; a tier whose artifacts are missing or corrupt is served
// as unavailable rather than failing the boot.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/airshed/aod-calibration-service/internal/adapter/http"
	"github.com/airshed/aod-calibration-service/internal/adapter/modelstore"
	"github.com/airshed/aod-calibration-service/internal/calibrate"
	"github.com/airshed/aod-calibration-service/internal/config"
	"github.com/airshed/aod-calibration-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := modelstore.New(cfg.ModelDir)
	if err != nil {
		logger.Error("failed to open model store", "dir", cfg.ModelDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := calibrate.NewRegistry(store, logger, metrics)
	registry.LoadAll(ctx)

	dispatcher := calibrate.NewDispatcher(registry, logger, metrics)
	for tier, check := range dispatcher.SelfTest(ctx) {
		if check.Err == nil {
			logger.Info("startup self-test passed", "tier", tier, "value", check.Result.Value)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, dispatcher, registry, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
