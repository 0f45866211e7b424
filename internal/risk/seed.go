package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/breathsafe/airquality-core/internal/domain"
)

// LoadSeedFile reads algorithm definitions from a YAML file, used to populate
// an empty algorithms table on first start.
func LoadSeedFile(path string) ([]domain.AlgorithmDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read algorithm seed: %w", err)
	}
	var doc struct {
		Algorithms []domain.AlgorithmDefinition `yaml:"algorithms"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse algorithm seed: %w", err)
	}
	for _, d := range doc.Algorithms {
		if d.Code == "" || d.PeriodDays < 1 || d.Threshold <= 0 {
			return nil, fmt.Errorf("algorithm seed %q: code, period_days and threshold are required", d.Code)
		}
	}
	return doc.Algorithms, nil
}

// DefaultSeed returns the built-in algorithm catalog, used when no seed file
// is configured and the algorithms table is empty.
func DefaultSeed() []domain.AlgorithmDefinition {
	return []domain.AlgorithmDefinition{
		{
			Code:        "anxiety_weekly",
			Description: "Weekly anxiety risk from short-term PM2.5 exposure",
			PeriodDays:  7,
			Threshold:   5,
			BaseRatio:   1.14,
			Strategy:    domain.StrategyLinearRatio,
			Pollutant:   domain.PollutantPM25,
		},
		{
			Code:        "respiratory_daily",
			Description: "Daily respiratory irritation risk against the WHO 24h PM2.5 guideline",
			PeriodDays:  1,
			Threshold:   15,
			BaseRatio:   1.0,
			Strategy:    domain.StrategyLinearRatio,
			Pollutant:   domain.PollutantPM25,
		},
		{
			Code:        "cardio_monthly",
			Description: "Monthly cardiovascular strain for middle-aged adults",
			PeriodDays:  30,
			Threshold:   10,
			BaseRatio:   1.25,
			Strategy:    domain.StrategyLinearRatio,
			Pollutant:   domain.PollutantPM25,
			AgeMin:      domain.Int(40),
			AgeMax:      domain.Int(64),
		},
		{
			Code:        "cognitive_decline_65",
			Description: "Long-exposure cognitive decline risk for seniors",
			PeriodDays:  30,
			Threshold:   10,
			BaseRatio:   1.0,
			Strategy:    domain.StrategyExponential,
			Pollutant:   domain.PollutantPM25,
			AgeGroup:    domain.AgeGroupSenior,
		},
		{
			Code:        "coarse_particle_weekly",
			Description: "Weekly coarse-particle exposure against the WHO 24h PM10 guideline",
			PeriodDays:  7,
			Threshold:   45,
			BaseRatio:   1.0,
			Strategy:    domain.StrategyLinearRatio,
			Pollutant:   domain.PollutantPM10,
		},
	}
}
