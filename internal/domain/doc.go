// Package domain models pollutant measurements and health-risk scoring inputs.
//
// # Data Source
//
// Measurements originate from a city-keyed air quality HTTP API. The provider
// returns instantaneous per-pollutant concentrations (PM2.5, PM10, O3, CO,
// NO2, SO2) plus an overall air quality index. Any pollutant may be missing
// from a response; a missing field is a valid reading, not an error, and is
// represented as a nil pointer so it can never be confused with a true zero
// concentration.
//
// # Identity and Dedupe
//
// A measurement is identified by (city, UTC date of ObservedAt). Re-ingesting
// the same city/date upserts rather than duplicates, which makes both the
// twice-daily polling cycle and historical backfill replay-safe.
//
// # Scoring Model
//
// Risk scoring runs entirely on persisted measurements and never touches the
// network. A pollutant series is reduced to a trailing rolling average,
// adjusted from outdoor to indoor-equivalent exposure, and evaluated by a
// named algorithm (linear-ratio or exponential-above-threshold). Composite
// 0-100 health scores per domain (respiratory, cardiovascular, sleep) use the
// WHO 24-hour guidelines as piecewise breakpoints:
//
//	PM2.5:  15 µg/m³ (24h), 10 µg/m³ long-term for long-exposure algorithms
//	PM10:   45 µg/m³ (24h)
//
// Scoring is deterministic: the same (series, definition, user context)
// triple always yields the same scores.
package domain
