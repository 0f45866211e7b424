package risk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/breathsafe/airquality-core/internal/domain"
	"github.com/breathsafe/airquality-core/internal/observability"
	"github.com/breathsafe/airquality-core/internal/store"
)

// Engine is the constructed analysis facade: it holds the supported city set,
// guideline constants, stores, and the algorithm registry, and serves
// (city, days, user) queries. It is pure apart from reading the store and the
// clock for window boundaries, so it is safe to share across requests.
type Engine struct {
	cities       map[string]struct{}
	guidelines   Guidelines
	measurements store.MeasurementStore
	registry     *Registry
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// EngineParams collects the Engine's dependencies.
type EngineParams struct {
	Cities       []string
	Guidelines   Guidelines
	Measurements store.MeasurementStore
	Registry     *Registry
	Clock        clockwork.Clock
	Logger       *slog.Logger
	Metrics      *observability.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(p EngineParams) *Engine {
	cities := make(map[string]struct{}, len(p.Cities))
	for _, c := range p.Cities {
		cities[c] = struct{}{}
	}
	return &Engine{
		cities:       cities,
		guidelines:   p.Guidelines,
		measurements: p.Measurements,
		registry:     p.Registry,
		clock:        p.Clock,
		logger:       p.Logger,
		metrics:      p.Metrics,
	}
}

// Registry exposes the algorithm registry for refresh scheduling.
func (e *Engine) Registry() *Registry { return e.registry }

// AlgorithmRisk pairs an algorithm with its scored series.
type AlgorithmRisk struct {
	Algorithm domain.AlgorithmDefinition `json:"algorithm"`
	Points    []domain.RiskPoint         `json:"points"`
}

// RiskSeries scores the trailing days of a city's measurements under every
// algorithm the user is eligible for. An unknown city is a caller error; a
// thin or empty series is not, it just yields fewer (or no) points.
func (e *Engine) RiskSeries(ctx context.Context, city string, days int, user domain.UserContext) ([]AlgorithmRisk, error) {
	if err := e.checkCity(city); err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1")
	}
	e.metrics.ScoreRequests.WithLabelValues("risk").Inc()

	series, err := e.measurements.Series(ctx, city, days, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("load series for %s: %w", city, err)
	}

	eligible := e.registry.Eligible(user.Age)
	out := make([]AlgorithmRisk, 0, len(eligible))
	for _, def := range eligible {
		points, err := Score(def, series, user)
		if err != nil {
			return nil, err
		}
		out = append(out, AlgorithmRisk{Algorithm: def, Points: points})
	}
	return out, nil
}

// ScoreAlgorithm scores a single named algorithm over the trailing window.
// Unknown codes and ineligible users are caller errors.
func (e *Engine) ScoreAlgorithm(ctx context.Context, code, city string, days int, user domain.UserContext) ([]domain.RiskPoint, error) {
	if err := e.checkCity(city); err != nil {
		return nil, err
	}
	def, err := e.registry.Get(code)
	if err != nil {
		return nil, err
	}
	if !def.EligibleFor(user.Age) {
		return nil, fmt.Errorf("algorithm %s: user age %d not eligible", code, user.Age)
	}
	e.metrics.ScoreRequests.WithLabelValues("risk").Inc()

	series, err := e.measurements.Series(ctx, city, days, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("load series for %s: %w", city, err)
	}
	return Score(def, series, user)
}

// HealthScores computes composite domain scores and recommendations from the
// city's latest measurement.
func (e *Engine) HealthScores(ctx context.Context, city string, user domain.UserContext) ([]domain.DomainHealthScore, []string, error) {
	if err := e.checkCity(city); err != nil {
		return nil, nil, err
	}
	e.metrics.ScoreRequests.WithLabelValues("health").Inc()

	latest, err := e.measurements.Latest(ctx, city)
	if err != nil {
		return nil, nil, fmt.Errorf("latest measurement for %s: %w", city, err)
	}

	scores := ScoreDomains(latest, user, e.guidelines)
	return scores, Recommendations(scores), nil
}

func (e *Engine) checkCity(city string) error {
	if _, ok := e.cities[city]; !ok {
		return fmt.Errorf("%s: %w", city, domain.ErrUnknownCity)
	}
	return nil
}
