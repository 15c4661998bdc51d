// Package ingest pages station readings out of the upstream API and into the
// ground-truth store. One Sync walks the full dataset; the ingest command
// schedules Syncs on an interval.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/airshed/aod-calibration-service/internal/adapter/cpcb"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/observability"
)

// Fetcher pulls one page of upstream readings.
type Fetcher interface {
	FetchPage(ctx context.Context, offset int) (cpcb.Page, error)
	PageSize() int
}

// Upserter persists a batch of readings.
type Upserter interface {
	UpsertReadings(ctx context.Context, readings []domain.Reading) (int, error)
}

// Ingestor drives the fetch-upsert loop.
type Ingestor struct {
	fetcher Fetcher
	store   Upserter
	logger  *slog.Logger
	metrics *observability.Metrics
}

func New(fetcher Fetcher, store Upserter, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	return &Ingestor{fetcher: fetcher, store: store, logger: logger, metrics: metrics}
}

// Stats summarizes one sync pass.
type Stats struct {
	Pages    int
	Fetched  int
	Upserted int
}

// Sync walks the upstream dataset page by page until the reported total is
// reached or a page comes back empty. A failed page aborts the pass; rows
// already upserted stay committed, and the next pass re-walks from offset 0,
// which the upsert keys make safe.
func (in *Ingestor) Sync(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats, err := in.sync(ctx)
	in.metrics.IngestSyncDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		in.metrics.IngestErrors.Inc()
		in.logger.Error("ingest sync failed", "pages", stats.Pages, "fetched", stats.Fetched, "error", err)
		return stats, err
	}
	in.logger.Info("ingest sync complete",
		"pages", stats.Pages, "fetched", stats.Fetched, "upserted", stats.Upserted,
		"duration", time.Since(start))
	return stats, nil
}

func (in *Ingestor) sync(ctx context.Context) (Stats, error) {
	var stats Stats
	offset := 0

	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		page, err := in.fetcher.FetchPage(ctx, offset)
		if err != nil {
			return stats, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		stats.Pages++
		stats.Fetched += len(page.Readings)
		in.metrics.ReadingsFetched.Add(float64(len(page.Readings)))

		if len(page.Readings) > 0 {
			n, err := in.store.UpsertReadings(ctx, page.Readings)
			if err != nil {
				return stats, fmt.Errorf("upsert page at offset %d: %w", offset, err)
			}
			stats.Upserted += n
			in.metrics.ReadingsUpserted.Add(float64(n))
		}

		offset += in.fetcher.PageSize()
		if len(page.Readings) == 0 || offset >= page.Total {
			return stats, nil
		}
	}
}
