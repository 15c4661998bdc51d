package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// calibration service and its ingestion sidecar.
type Metrics struct {
	CalibrationsTotal   *prometheus.CounterVec   // labels: tier, outcome={ok,error}
	CalibrationDuration *prometheus.HistogramVec // labels: tier
	ModelLoaded         *prometheus.GaugeVec     // labels: tier; 1 when the tier's artifacts decoded
	SelfTestFailures    prometheus.Counter

	// Ingestion metrics.
	ReadingsFetched    prometheus.Counter
	ReadingsUpserted   prometheus.Counter
	IngestErrors       prometheus.Counter
	IngestSyncDuration prometheus.Histogram
}

// NewMetrics creates and registers all service metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CalibrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aod_calibration",
			Name:      "calibrations_total",
			Help:      "Calibration requests by tier and outcome.",
		}, []string{"tier", "outcome"}),
		CalibrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aod_calibration",
			Name:      "calibration_duration_seconds",
			Help:      "Duration of one calibration, feature derivation included.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"tier"}),
		ModelLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aod_calibration",
			Name:      "model_loaded",
			Help:      "1 when the tier's artifacts loaded and decoded, 0 otherwise.",
		}, []string{"tier"}),
		SelfTestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aod_calibration",
			Name:      "self_test_failures_total",
			Help:      "Startup and on-demand self-test failures per tier attempt.",
		}),
		ReadingsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aod_calibration",
			Name:      "ingest_readings_fetched_total",
			Help:      "Station readings fetched from the upstream API.",
		}),
		ReadingsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aod_calibration",
			Name:      "ingest_readings_upserted_total",
			Help:      "Station readings written to the ground-truth store.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aod_calibration",
			Name:      "ingest_errors_total",
			Help:      "Failed page fetches or store writes during ingestion.",
		}),
		IngestSyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aod_calibration",
			Name:      "ingest_sync_duration_seconds",
			Help:      "Duration of a complete ingestion sync.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}

	prometheus.MustRegister(
		m.CalibrationsTotal,
		m.CalibrationDuration,
		m.ModelLoaded,
		m.SelfTestFailures,
		m.ReadingsFetched,
		m.ReadingsUpserted,
		m.IngestErrors,
		m.IngestSyncDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with unregistered collectors to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CalibrationsTotal:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "aod_calibration", Name: "calibrations_total"}, []string{"tier", "outcome"}),
		CalibrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "aod_calibration", Name: "calibration_duration_seconds"}, []string{"tier"}),
		ModelLoaded:         prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: "aod_calibration", Name: "model_loaded"}, []string{"tier"}),
		SelfTestFailures:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "aod_calibration", Name: "self_test_failures_total"}),
		ReadingsFetched:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "aod_calibration", Name: "ingest_readings_fetched_total"}),
		ReadingsUpserted:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "aod_calibration", Name: "ingest_readings_upserted_total"}),
		IngestErrors:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "aod_calibration", Name: "ingest_errors_total"}),
		IngestSyncDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "aod_calibration", Name: "ingest_sync_duration_seconds"}),
	}
}
