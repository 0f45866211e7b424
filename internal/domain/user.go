package domain

import "time"

// UserContext carries the per-request user attributes that parameterize
// scoring. It is supplied by the caller on every request and never persisted
// by the engine.
type UserContext struct {
	City               string `json:"city"`
	Age                int    `json:"age"`
	BaseRiskLevel      int    `json:"base_risk_level"` // 1-10, 5 is neutral
	HasHVAC            bool   `json:"has_hvac"`
	HasAirPurifier     bool   `json:"has_air_purifier"`
	WindowsOpen        bool   `json:"windows_open"`
	NonToxicProducts   bool   `json:"non_toxic_products"`
	RecentFilterChange bool   `json:"recent_filter_change"`
	ActivityLevel      int    `json:"activity_level"` // 1-10
	SleepLevel         int    `json:"sleep_level"`    // 1-5, 5 is best
	AnxietyLevel       int    `json:"anxiety_level"`  // 1-10
}

// RiskPoint is one scored point of a pollutant series under a single
// algorithm. Ephemeral output; never persisted.
type RiskPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	RawValue       float64   `json:"raw_value"`
	RollingAverage float64   `json:"rolling_average"`
	AdjustedValue  float64   `json:"adjusted_value"`
	Score          float64   `json:"score"`
}

// Health score domains.
const (
	DomainRespiratory    = "respiratory"
	DomainCardiovascular = "cardiovascular"
	DomainSleep          = "sleep"
)

// Health score levels, classified from the 0-100 score.
const (
	LevelLow      = "Low"
	LevelModerate = "Moderate"
	LevelHigh     = "High"
)

// DomainHealthScore is a normalized 0-100 score for one health domain.
type DomainHealthScore struct {
	Domain string  `json:"domain"`
	Score  float64 `json:"score"`
	Level  string  `json:"level"`
}
