package risk

import "github.com/breathsafe/airquality-core/internal/domain"

// Guidelines are the WHO reference concentrations used as piecewise
// breakpoints in health scoring. Injected from config, never hard-coded at
// call sites.
type Guidelines struct {
	PM25Daily    float64 // 24-hour guideline, µg/m³
	PM25LongTerm float64 // annual guideline, µg/m³
	PM10Daily    float64 // 24-hour guideline, µg/m³
}

// Domain score shape: a base offset per domain, a weighted piecewise
// pollutant load, then lifestyle adjustments. Exposure below the guideline
// accrues points linearly; exposure above it accrues at a steeper slope.
const (
	respiratoryBase    = 20.0
	cardiovascularBase = 15.0
	sleepBase          = 25.0

	pm25GuidelinePoints = 25.0 // points at exactly the PM2.5 guideline
	pm25ExcessSlope     = 1.5  // points per µg/m³ above it
	pm10GuidelinePoints = 15.0
	pm10ExcessSlope     = 0.75
)

// ScoreDomains computes the normalized 0-100 health scores for each domain
// from the latest measurement and the user's lifestyle attributes. Absent
// pollutants contribute nothing. All scores are clamped to [0, 100].
func ScoreDomains(latest domain.Measurement, user domain.UserContext, g Guidelines) []domain.DomainHealthScore {
	load := pollutantLoad(latest, g)
	poorSleep := float64(5 - clampInt(user.SleepLevel, 1, 5))
	activity := float64(clampInt(user.ActivityLevel, 1, 10))
	anxiety := float64(clampInt(user.AnxietyLevel, 1, 10))

	respiratory := respiratoryBase + load - activity*1.2 + poorSleep*2
	cardiovascular := cardiovascularBase + load*0.8 - activity*1.0 + poorSleep*1.5
	sleep := sleepBase + load*0.6 + anxiety*1.5 + poorSleep*3

	return []domain.DomainHealthScore{
		domainScore(domain.DomainRespiratory, respiratory),
		domainScore(domain.DomainCardiovascular, cardiovascular),
		domainScore(domain.DomainSleep, sleep),
	}
}

// Recommendations returns one targeted recommendation per High domain, or a
// fixed default list when nothing is High.
func Recommendations(scores []domain.DomainHealthScore) []string {
	var out []string
	for _, s := range scores {
		if s.Level != domain.LevelHigh {
			continue
		}
		switch s.Domain {
		case domain.DomainRespiratory:
			out = append(out, "Run an air purifier in your main living space to ease respiratory strain.")
		case domain.DomainCardiovascular:
			out = append(out, "Move workouts indoors until outdoor air quality improves.")
		case domain.DomainSleep:
			out = append(out, "Ventilate your bedroom in the evening when outdoor levels drop.")
		}
	}
	if len(out) == 0 {
		return []string{
			"Keep windows closed during high-traffic hours.",
			"Replace HVAC filters on schedule.",
			"Check the daily air quality index before outdoor activity.",
		}
	}
	return out
}

func pollutantLoad(m domain.Measurement, g Guidelines) float64 {
	var load float64
	if m.PM25 != nil {
		load += piecewise(*m.PM25, g.PM25Daily, pm25GuidelinePoints, pm25ExcessSlope)
	}
	if m.PM10 != nil {
		load += piecewise(*m.PM10, g.PM10Daily, pm10GuidelinePoints, pm10ExcessSlope)
	}
	return load
}

func piecewise(value, guideline, guidelinePoints, excessSlope float64) float64 {
	if value <= 0 {
		return 0
	}
	if value <= guideline {
		return value / guideline * guidelinePoints
	}
	return guidelinePoints + (value-guideline)*excessSlope
}

func domainScore(name string, score float64) domain.DomainHealthScore {
	score = clampFloat(score, 0, 100)
	return domain.DomainHealthScore{
		Domain: name,
		Score:  score,
		Level:  classify(score),
	}
}

func classify(score float64) string {
	switch {
	case score >= 80:
		return domain.LevelHigh
	case score >= 50:
		return domain.LevelModerate
	default:
		return domain.LevelLow
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
