// Package risk turns stored pollutant series into time-windowed,
// indoor-adjusted, age-filtered health-risk scores.
package risk

import "github.com/breathsafe/airquality-core/internal/domain"

// RollingAverage computes the trailing mean of a pollutant over the
// periodDays most recent points up to and including index. A short history is
// not an error: the window simply shrinks. Absent readings are skipped; when
// every reading in the window is absent the second return is false, which
// downstream scoring must treat as "insufficient data", never as zero
// exposure.
func RollingAverage(series []domain.Measurement, index, periodDays int, pollutant domain.Pollutant) (float64, bool) {
	if index < 0 || index >= len(series) || periodDays < 1 {
		return 0, false
	}

	start := index - periodDays + 1
	if start < 0 {
		start = 0
	}

	var sum float64
	var n int
	for i := start; i <= index; i++ {
		if v := series[i].Value(pollutant); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
