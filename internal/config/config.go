package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
// One Config type serves every command; each command validates the subset it
// actually needs beyond the shared checks here.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// ModelDir is the filesystem model store holding tier artifacts.
	ModelDir string

	// DatabasePath is the sqlite ground-truth store.
	DatabasePath string

	// Station API (CPCB-style open data endpoint) settings for ingestion.
	StationAPIBaseURL string
	StationAPIKey     string
	StationPageSize   int
	StationAPITimeout time.Duration
	IngestInterval    time.Duration
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	apiTimeout, err := parseDuration("STATION_API_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	ingestInterval, err := parseDuration("INGEST_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	pageSize, err := parseInt("STATION_PAGE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ModelDir:     envOrDefault("MODEL_DIR", "models"),
		DatabasePath: envOrDefault("DATABASE_PATH", "calibration.db"),

		StationAPIBaseURL: envOrDefault("STATION_API_URL", "https://api.data.gov.in/resource/3b01bcb8-0b14-4abf-b6f2-c1bfd384ba69"),
		StationAPIKey:     os.Getenv("STATION_API_KEY"),
		StationPageSize:   pageSize,
		StationAPITimeout: apiTimeout,
		IngestInterval:    ingestInterval,
	}

	if cfg.ModelDir == "" {
		return nil, errors.New("MODEL_DIR is required")
	}
	if cfg.DatabasePath == "" {
		return nil, errors.New("DATABASE_PATH is required")
	}
	if cfg.StationPageSize <= 0 {
		return nil, errors.New("STATION_PAGE_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDuration(key, def string) (time.Duration, error) {
	s := envOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}
