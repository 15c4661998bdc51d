// Command train fits calibration artifacts from the labeled readings in the
// ground-truth store and writes them to the model store.
//
// Usage:
//
//	go run ./cmd/train -tier all
//	go run ./cmd/train -tier ensemble
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/airshed/aod-calibration-service/internal/adapter/modelstore"
	"github.com/airshed/aod-calibration-service/internal/adapter/sqlite"
	"github.com/airshed/aod-calibration-service/internal/config"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/observability"
	"github.com/airshed/aod-calibration-service/internal/train"
)

func main() {
	tierFlag := flag.String("tier", "all", "tier to train: basic, ensemble, advanced, or all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg)

	if code := run(cfg, logger, *tierFlag); code != 0 {
		os.Exit(code)
	}
}

func run(cfg *config.Config, logger *slog.Logger, tierFlag string) int {
	ctx := context.Background()

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		return 1
	}
	defer db.Close()

	store, err := modelstore.New(cfg.ModelDir)
	if err != nil {
		logger.Error("failed to open model store", "dir", cfg.ModelDir, "error", err)
		return 1
	}

	readings, err := db.TrainingReadings(ctx)
	if err != nil {
		logger.Error("failed to load training readings", "error", err)
		return 1
	}
	logger.Info("loaded training readings", "count", len(readings))

	trainer := train.NewTrainer(store, logger)
	runs := map[string]func(context.Context, []domain.Reading) (train.Report, error){
		"basic":    trainer.TrainBasic,
		"ensemble": trainer.TrainEnsemble,
		"advanced": trainer.TrainAdvanced,
	}

	var tiers []string
	if tierFlag == "all" {
		tiers = []string{"basic", "ensemble", "advanced"}
	} else {
		if _, ok := runs[tierFlag]; !ok {
			logger.Error("unknown tier", "tier", tierFlag)
			return 1
		}
		tiers = []string{tierFlag}
	}

	failed := false
	for _, tier := range tiers {
		report, err := runs[tier](ctx, readings)
		if err != nil {
			logger.Error("training failed", "tier", tier, "error", err)
			failed = true
			continue
		}
		fmt.Printf("%-8s  rows=%d  r2=%.4f  mae=%.2f\n", tier, report.Rows, report.Score.R2, report.Score.MAE)
		for name, w := range report.Weights {
			fmt.Printf("          member %-6s  weight=%.3f  r2=%.4f\n", name, w, report.MemberScores[name].R2)
		}
	}
	if failed {
		return 1
	}
	return 0
}
