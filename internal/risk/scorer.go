package risk

import (
	"fmt"
	"math"

	"github.com/breathsafe/airquality-core/internal/domain"
)

// UserModifier scales a linear-ratio score by the user's base risk level.
// Level 5 is neutral; each unit above or below shifts the score by 10%.
func UserModifier(baseRiskLevel int) float64 {
	return 1 + float64(baseRiskLevel-5)*0.1
}

// Score evaluates one algorithm over a measurement series, ascending by time.
// The rolling average is computed first and then adjusted to indoor-equivalent
// exposure; device effectiveness is constant, so the order only matters when
// flags change mid-series, which the engine does not model. Points whose
// window holds no data are skipped rather than scored as zero.
func Score(def domain.AlgorithmDefinition, series []domain.Measurement, user domain.UserContext) ([]domain.RiskPoint, error) {
	if def.Threshold <= 0 {
		return nil, fmt.Errorf("algorithm %s: threshold must be positive", def.Code)
	}

	flags := DeviceFlags{HasHVAC: user.HasHVAC, HasAirPurifier: user.HasAirPurifier}
	points := make([]domain.RiskPoint, 0, len(series))

	for i := range series {
		avg, ok := RollingAverage(series, i, def.PeriodDays, def.Pollutant)
		if !ok {
			continue
		}
		adjusted := AdjustIndoor(avg, flags)

		var score float64
		switch def.Strategy {
		case domain.StrategyExponential:
			score = exponentialScore(adjusted, def.Threshold)
		default:
			score = linearRatioScore(adjusted, def.Threshold, def.BaseRatio, UserModifier(user.BaseRiskLevel))
		}

		raw := avg
		if v := series[i].Value(def.Pollutant); v != nil {
			raw = *v
		}
		points = append(points, domain.RiskPoint{
			Timestamp:      series[i].ObservedAt,
			RawValue:       raw,
			RollingAverage: avg,
			AdjustedValue:  adjusted,
			Score:          score,
		})
	}
	return points, nil
}

func linearRatioScore(adjusted, threshold, baseRatio, modifier float64) float64 {
	return (adjusted / threshold) * baseRatio * modifier
}

// exponentialScore grows log-linearly above the threshold; below it the score
// is the plain ratio. Used by the cognitive and long-exposure algorithm
// family.
func exponentialScore(adjusted, threshold float64) float64 {
	base := adjusted / threshold
	if adjusted > threshold {
		return base * (1 + math.Log10(adjusted/threshold))
	}
	return base
}
