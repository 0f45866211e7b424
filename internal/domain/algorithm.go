package domain

// Scoring strategy identifiers stored on an algorithm definition.
const (
	StrategyLinearRatio = "linear_ratio"
	StrategyExponential = "exponential"
)

// AgeGroupSenior marks algorithms restricted to users aged 65 and over.
const AgeGroupSenior = "65+"

// AlgorithmDefinition describes one named risk algorithm: its rolling window,
// scoring constants, evaluation strategy, and age eligibility. Definitions
// are loaded from the store and are read-only to the scoring engine.
type AlgorithmDefinition struct {
	Code        string    `json:"code" yaml:"code"`
	Description string    `json:"description" yaml:"description"`
	PeriodDays  int       `json:"period_days" yaml:"period_days"`
	Threshold   float64   `json:"threshold" yaml:"threshold"`
	BaseRatio   float64   `json:"base_ratio" yaml:"base_ratio"`
	Strategy    string    `json:"strategy" yaml:"strategy"`
	Pollutant   Pollutant `json:"pollutant" yaml:"pollutant"`

	// Age eligibility. AgeGroup takes the coarse "65+" form; AgeMin/AgeMax
	// express an inclusive range. Neither set means eligible for all ages.
	AgeGroup string `json:"age_group,omitempty" yaml:"age_group,omitempty"`
	AgeMin   *int   `json:"age_min,omitempty" yaml:"age_min,omitempty"`
	AgeMax   *int   `json:"age_max,omitempty" yaml:"age_max,omitempty"`
}

// EligibleFor reports whether a user of the given age may be scored by this
// algorithm.
func (d AlgorithmDefinition) EligibleFor(age int) bool {
	if d.AgeGroup == AgeGroupSenior && age < 65 {
		return false
	}
	if d.AgeMin != nil && d.AgeMax != nil {
		return age >= *d.AgeMin && age <= *d.AgeMax
	}
	if d.AgeMin != nil {
		return age >= *d.AgeMin
	}
	if d.AgeMax != nil {
		return age <= *d.AgeMax
	}
	return true
}

// Int returns a pointer to v. Convenience for age bounds.
func Int(v int) *int { return &v }
