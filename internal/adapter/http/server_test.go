package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/risk"
	"github.com/breathsafe/airquality-core/internal/store"
)

type fakeReadiness struct{ err error }

func (f *fakeReadiness) CheckReadiness(context.Context) error { return f.err }

type fakeTrigger struct{ called bool }

func (f *fakeTrigger) TriggerNow() { f.called = true }

type fakeScorer struct {
	riskErr  error
	scoreErr error
	lastUser domain.UserContext
	lastCity string
	lastDays int
}

func (f *fakeScorer) RiskSeries(_ context.Context, city string, days int, user domain.UserContext) ([]risk.AlgorithmRisk, error) {
	f.lastCity, f.lastDays, f.lastUser = city, days, user
	if f.riskErr != nil {
		return nil, f.riskErr
	}
	return []risk.AlgorithmRisk{{
		Algorithm: domain.AlgorithmDefinition{Code: "respiratory_daily"},
		Points:    []domain.RiskPoint{{Score: 1.2}},
	}}, nil
}

func (f *fakeScorer) HealthScores(_ context.Context, city string, user domain.UserContext) ([]domain.DomainHealthScore, []string, error) {
	f.lastCity, f.lastUser = city, user
	if f.scoreErr != nil {
		return nil, nil, f.scoreErr
	}
	return []domain.DomainHealthScore{{Domain: domain.DomainRespiratory, Score: 42}},
		[]string{"Add a HEPA air purifier"}, nil
}

func newTestServer(ready *fakeReadiness, trigger *fakeTrigger, scorer *fakeScorer) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(":0", ready, trigger, scorer, logger)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, &fakeScorer{})
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	ready := &fakeReadiness{err: errors.New("no cycle yet")}
	s := newTestServer(ready, &fakeTrigger{}, &fakeScorer{})

	rec := doRequest(t, s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready.err = nil
	rec = doRequest(t, s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestRun(t *testing.T) {
	trigger := &fakeTrigger{}
	s := newTestServer(&fakeReadiness{}, trigger, &fakeScorer{})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/ingest/run")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, trigger.called)
}

func TestRisk_HappyPath(t *testing.T) {
	scorer := &fakeScorer{}
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, scorer)

	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/risk?city=Toronto&days=30&age=42&hvac=true&activity_level=7")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "Toronto", scorer.lastCity)
	assert.Equal(t, 30, scorer.lastDays)
	assert.Equal(t, 42, scorer.lastUser.Age)
	assert.True(t, scorer.lastUser.HasHVAC)
	assert.Equal(t, 7, scorer.lastUser.ActivityLevel)

	var body struct {
		City       string          `json:"city"`
		Days       int             `json:"days"`
		Algorithms json.RawMessage `json:"algorithms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Toronto", body.City)
	assert.Equal(t, 30, body.Days)
	assert.NotEmpty(t, body.Algorithms)
}

func TestRisk_DefaultsApplied(t *testing.T) {
	scorer := &fakeScorer{}
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, scorer)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/risk?city=Toronto&age=30")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 7, scorer.lastDays)
	assert.Equal(t, 5, scorer.lastUser.BaseRiskLevel)
	assert.Equal(t, 5, scorer.lastUser.ActivityLevel)
	assert.Equal(t, 3, scorer.lastUser.SleepLevel)
}

func TestRisk_AgeRequired(t *testing.T) {
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, &fakeScorer{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/risk?city=Toronto")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/api/v1/risk?city=Toronto&age=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRisk_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown city", domain.ErrUnknownCity, http.StatusBadRequest},
		{"unknown algorithm", domain.ErrUnknownAlgorithm, http.StatusBadRequest},
		{"no measurements", store.ErrNoMeasurements, http.StatusNotFound},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, &fakeScorer{riskErr: tc.err})
			rec := doRequest(t, s, http.MethodGet, "/api/v1/risk?city=Atlantis&age=30")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHealthScore(t *testing.T) {
	scorer := &fakeScorer{}
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, scorer)

	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/health-score?city=Toronto&age=70&purifier=true")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Scores              json.RawMessage `json:"scores"`
		Recommendations     []string        `json:"recommendations"`
		AchievableReduction json.RawMessage `json:"achievable_reduction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Scores)
	assert.Equal(t, []string{"Add a HEPA air purifier"}, body.Recommendations)
	assert.NotEmpty(t, body.AchievableReduction)
	assert.True(t, scorer.lastUser.HasAirPurifier)
}

func TestHealthScore_NoData(t *testing.T) {
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, &fakeScorer{scoreErr: store.ErrNoMeasurements})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/health-score?city=Toronto&age=30")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&fakeReadiness{}, &fakeTrigger{}, &fakeScorer{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/ingest/run")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
