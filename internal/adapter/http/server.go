// Package http exposes the calibration API plus health, readiness, and
// metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airshed/aod-calibration-service/internal/calibrate"
	"github.com/airshed/aod-calibration-service/internal/domain"
	"github.com/airshed/aod-calibration-service/internal/model"
)

// Calibrator is the calibration engine the API fronts.
type Calibrator interface {
	Calibrate(ctx context.Context, obs domain.Observation, forced domain.Tier) (calibrate.Result, error)
	SelfTest(ctx context.Context) map[domain.Tier]calibrate.TierCheck
	CheckReadiness(ctx context.Context) error
}

// ModelCatalog reports which tiers are loaded and their diagnostics.
type ModelCatalog interface {
	Available(tier domain.Tier) bool
	BestTier() domain.Tier
	AdvancedFeatures() []string
	EnsembleInfo() (model.Info, bool)
}

// Server exposes the calibration API over HTTP.
type Server struct {
	httpServer *http.Server
	calibrator Calibrator
	catalog    ModelCatalog
	logger     *slog.Logger
	validate   *validator.Validate
}

// NewServer wires the router. Routes:
//
//	POST /calibrate          calibrate with the best available tier
//	POST /calibrate/{tier}   calibrate with a specific tier
//	GET  /health             tier availability summary
//	GET  /models/info        loaded model diagnostics
//	GET  /test               run the canonical self-test
//	GET  /healthz            liveness
//	GET  /readyz             readiness
//	GET  /metrics            prometheus metrics
func NewServer(addr string, calibrator Calibrator, catalog ModelCatalog, logger *slog.Logger) *Server {
	s := &Server{
		calibrator: calibrator,
		catalog:    catalog,
		logger:     logger,
		validate:   validator.New(),
	}

	r := mux.NewRouter()
	r.Use(s.requestLogging)

	r.HandleFunc("/calibrate", s.handleCalibrate).Methods(http.MethodPost)
	r.HandleFunc("/calibrate/{tier}", s.handleCalibrateForced).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/models/info", s.handleModelsInfo).Methods(http.MethodGet)
	r.HandleFunc("/test", s.handleSelfTest).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadiness).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type calibrateRequest struct {
	AOD       *float64 `json:"satellite_aod" validate:"required"`
	MinTemp   *float64 `json:"min_temp" validate:"required"`
	MaxTemp   *float64 `json:"max_temp" validate:"required"`
	Rainfall  *float64 `json:"rainfall" validate:"required"`
	Humidity  *float64 `json:"humidity"`
	Timestamp string   `json:"timestamp"`
}

type calibrateResponse struct {
	PM25            float64            `json:"calibrated_pm25"`
	Source          string             `json:"source"`
	ModelVersion    string             `json:"model_version"`
	Confidence      string             `json:"confidence"`
	EnsembleWeights map[string]float64 `json:"ensemble_weights,omitempty"`
	FeaturesUsed    int                `json:"features_used,omitempty"`
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	s.calibrateWith(w, r, "")
}

func (s *Server) handleCalibrateForced(w http.ResponseWriter, r *http.Request) {
	tier, err := domain.ParseTier(mux.Vars(r)["tier"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.calibrateWith(w, r, tier)
}

func (s *Server) calibrateWith(w http.ResponseWriter, r *http.Request, forced domain.Tier) {
	obs, err := s.decodeObservation(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.calibrator.Calibrate(r.Context(), obs, forced)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(result))
}

func (s *Server) decodeObservation(r *http.Request) (domain.Observation, error) {
	var req calibrateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return domain.Observation{}, errors.New("request body is not valid JSON")
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Observation{}, errors.New("satellite_aod, min_temp, max_temp, and rainfall are required")
	}

	obs := domain.Observation{
		AOD:      *req.AOD,
		MinTemp:  *req.MinTemp,
		MaxTemp:  *req.MaxTemp,
		Rainfall: *req.Rainfall,
		Humidity: req.Humidity,
	}
	if req.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return domain.Observation{}, errors.New("timestamp must be RFC 3339")
		}
		obs.Timestamp = ts
	}
	if err := obs.Validate(); err != nil {
		return domain.Observation{}, err
	}
	return obs, nil
}

func toResponse(result calibrate.Result) calibrateResponse {
	return calibrateResponse{
		PM25:            result.Value,
		Source:          result.Tier.Source(),
		ModelVersion:    result.Version,
		Confidence:      result.Confidence,
		EnsembleWeights: result.EnsembleWeights,
		FeaturesUsed:    result.FeaturesUsed,
	}
}

// statusFor maps calibration errors to HTTP statuses: invalid input is the
// caller's fault, an unloaded tier is a capacity condition, and a failure
// inside a loaded tier is ours.
func statusFor(err error) int {
	var unavailable *domain.TierUnavailableError
	switch {
	case errors.Is(err, domain.ErrInvalidObservation):
		return http.StatusBadRequest
	case errors.As(err, &unavailable), errors.Is(err, domain.ErrNoModelAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tiers := map[string]bool{}
	for _, tier := range []domain.Tier{domain.TierBasic, domain.TierEnsemble, domain.TierAdvanced} {
		tiers[string(tier)] = s.catalog.Available(tier)
	}

	status := "healthy"
	best := s.catalog.BestTier()
	if best == domain.TierNone {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"default_model":    string(best),
		"models_available": tiers,
	})
}

var tierDescriptions = map[domain.Tier]string{
	domain.TierBasic:    "gradient-boosted regressor on the raw AOD/weather 4-tuple",
	domain.TierEnsemble: "performance-weighted blend of independently trained regressors",
	domain.TierAdvanced: "gradient-boosted regressor on the full engineered feature set",
}

func (s *Server) handleModelsInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"default_model": string(s.catalog.BestTier()),
	}
	for _, tier := range []domain.Tier{domain.TierBasic, domain.TierEnsemble, domain.TierAdvanced} {
		entry := map[string]any{
			"available":     s.catalog.Available(tier),
			"model_version": tier.ModelVersion(),
			"confidence":    tier.Confidence(),
			"description":   tierDescriptions[tier],
		}
		switch tier {
		case domain.TierEnsemble:
			if ensembleInfo, ok := s.catalog.EnsembleInfo(); ok {
				entry["weights"] = ensembleInfo.Weights
				entry["models"] = ensembleInfo.Members
				if ensembleInfo.Scores != nil {
					entry["scores"] = ensembleInfo.Scores
				}
			}
		case domain.TierAdvanced:
			if features := s.catalog.AdvancedFeatures(); features != nil {
				entry["features"] = features
				entry["feature_count"] = len(features)
			}
		}
		info[string(tier)] = entry
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSelfTest(w http.ResponseWriter, r *http.Request) {
	checks := s.calibrator.SelfTest(r.Context())

	results := map[string]any{}
	passed := true
	for tier, check := range checks {
		if check.Err != nil {
			passed = false
			results[string(tier)] = map[string]string{"status": "failed", "error": check.Err.Error()}
			continue
		}
		results[string(tier)] = map[string]any{
			"status":          "ok",
			"calibrated_pm25": check.Result.Value,
		}
	}

	status := "passed"
	if !passed {
		status = "failed"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"input":   calibrate.CanonicalObservation(),
		"results": results,
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.calibrator.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogging tags each request with an ID and logs its outcome.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Info("request handled",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
