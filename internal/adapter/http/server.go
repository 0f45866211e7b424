// Package http exposes the operational endpoints and a thin JSON surface over
// the risk engine. The product API layer lives elsewhere; this surface serves
// health probes, metrics, the manual ingestion trigger, and direct engine
// queries.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/risk"
	"github.com/breathsafe/airquality-core/internal/store"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// IngestTrigger requests an on-demand ingestion cycle.
type IngestTrigger interface {
	TriggerNow()
}

// RiskScorer is the server's view of the risk engine.
type RiskScorer interface {
	RiskSeries(ctx context.Context, city string, days int, user domain.UserContext) ([]risk.AlgorithmRisk, error)
	HealthScores(ctx context.Context, city string, user domain.UserContext) ([]domain.DomainHealthScore, []string, error)
}

// Server exposes health, readiness, metrics, trigger, and scoring routes.
type Server struct {
	httpServer *http.Server
	ready      ReadinessChecker
	trigger    IngestTrigger
	scorer     RiskScorer
	logger     *slog.Logger
}

// NewServer creates the HTTP server and wires its routes.
func NewServer(addr string, ready ReadinessChecker, trigger IngestTrigger, scorer RiskScorer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ready:   ready,
		trigger: trigger,
		scorer:  scorer,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/v1/ingest/run", s.handleIngestRun)
	mux.HandleFunc("GET /api/v1/risk", s.handleRisk)
	mux.HandleFunc("GET /api/v1/health-score", s.handleHealthScore)

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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleIngestRun(w http.ResponseWriter, _ *http.Request) {
	s.trigger.TriggerNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cycle requested"})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	days := intQuery(r, "days", 7)
	user, err := userFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	series, err := s.scorer.RiskSeries(r.Context(), city, days, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"city":       city,
		"days":       days,
		"algorithms": series,
	})
}

func (s *Server) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	user, err := userFromQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	scores, recommendations, err := s.scorer.HealthScores(r.Context(), city, user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"city":                 city,
		"scores":               scores,
		"recommendations":      recommendations,
		"achievable_reduction": risk.AchievableReduction(user),
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownCity), errors.Is(err, domain.ErrUnknownAlgorithm):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNoMeasurements):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// userFromQuery builds a UserContext from query parameters. Age is required;
// everything else has dashboard defaults.
func userFromQuery(r *http.Request) (domain.UserContext, error) {
	q := r.URL.Query()
	age, err := strconv.Atoi(q.Get("age"))
	if err != nil || age < 0 {
		return domain.UserContext{}, errors.New("age is required and must be a non-negative integer")
	}
	return domain.UserContext{
		City:               q.Get("city"),
		Age:                age,
		BaseRiskLevel:      intQuery(r, "base_risk_level", 5),
		HasHVAC:            q.Get("hvac") == "true",
		HasAirPurifier:     q.Get("purifier") == "true",
		WindowsOpen:        q.Get("windows_open") == "true",
		NonToxicProducts:   q.Get("non_toxic_products") == "true",
		RecentFilterChange: q.Get("recent_filter_change") == "true",
		ActivityLevel:      intQuery(r, "activity_level", 5),
		SleepLevel:         intQuery(r, "sleep_level", 3),
		AnxietyLevel:       intQuery(r, "anxiety_level", 5),
	}, nil
}

func intQuery(r *http.Request, key string, fallback int) int {
	if s := r.URL.Query().Get(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
