package domain

import "time"

// Measurement is one day's pollutant reading for a city. Pollutant fields are
// pointers because the provider may omit any of them; nil means "not
// reported", which downstream averaging must skip rather than treat as zero.
type Measurement struct {
	City            string    `json:"city"`
	ObservedAt      time.Time `json:"observed_at"`
	PM25            *float64  `json:"pm25,omitempty"`
	PM10            *float64  `json:"pm10,omitempty"`
	O3              *float64  `json:"o3,omitempty"`
	CO              *float64  `json:"co,omitempty"`
	NO2             *float64  `json:"no2,omitempty"`
	SO2             *float64  `json:"so2,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
	AirQualityIndex *float64  `json:"aqi,omitempty"`
	StationID       string    `json:"station_id,omitempty"`
}

// Pollutant names a measurement field that can feed the scoring path.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantPM10 Pollutant = "pm10"
	PollutantO3   Pollutant = "o3"
	PollutantCO   Pollutant = "co"
	PollutantNO2  Pollutant = "no2"
	PollutantSO2  Pollutant = "so2"
)

// Value returns the reading for the given pollutant, or nil when absent.
func (m Measurement) Value(p Pollutant) *float64 {
	switch p {
	case PollutantPM25:
		return m.PM25
	case PollutantPM10:
		return m.PM10
	case PollutantO3:
		return m.O3
	case PollutantCO:
		return m.CO
	case PollutantNO2:
		return m.NO2
	case PollutantSO2:
		return m.SO2
	default:
		return nil
	}
}

// Reportable reports whether the measurement carries at least one of the
// fields the dashboard can chart (PM2.5, PM10, or the overall index).
// Non-reportable measurements are rejected by ingestion and filtered out by
// the store gateway.
func (m Measurement) Reportable() bool {
	return m.PM25 != nil || m.PM10 != nil || m.AirQualityIndex != nil
}

// DateKey returns the UTC calendar date of ObservedAt in YYYY-MM-DD form.
// Together with City it is the measurement's identity for dedupe.
func (m Measurement) DateKey() string {
	return m.ObservedAt.UTC().Format(DateLayout)
}

// DateLayout is the canonical format for the date part of the dedupe key.
const DateLayout = "2006-01-02"

// Float returns a pointer to v. Convenience for building measurements with
// optional fields.
func Float(v float64) *float64 { return &v }
