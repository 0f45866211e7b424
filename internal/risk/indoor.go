package risk

import "github.com/breathsafe/airquality-core/internal/domain"

// Indoor adjustment factors. Outdoor air loses 30% moving indoors; devices
// reduce the indoor value further. HVAC and purifier together apply a flat
// combined factor, not the product of the individual factors — the two
// systems overlap in what they capture.
const (
	baseIndoorFactor     = 0.7
	hvacFactor           = 0.8
	purifierFactor       = 0.6
	combinedDeviceFactor = 0.4
)

// Achievable behavioral reductions in percentage points, used only by the
// improvement calculator, never by the risk-scoring path.
const (
	closeWindowsReduction     = 10.0
	nonToxicProductsReduction = 8.0
	filterChangeReduction     = 15.0
)

// DeviceFlags select which filtration devices the user runs.
type DeviceFlags struct {
	HasHVAC        bool
	HasAirPurifier bool
}

// AdjustIndoor converts an outdoor pollutant value to its indoor-equivalent
// exposure. The base reduction is applied once; device modifiers apply to the
// indoor value.
func AdjustIndoor(outdoor float64, flags DeviceFlags) float64 {
	indoor := outdoor * baseIndoorFactor
	switch {
	case flags.HasHVAC && flags.HasAirPurifier:
		return indoor * combinedDeviceFactor
	case flags.HasHVAC:
		return indoor * hvacFactor
	case flags.HasAirPurifier:
		return indoor * purifierFactor
	default:
		return indoor
	}
}

// AchievableReduction totals the percentage-point exposure reduction the user
// could still unlock through behavior: closing open windows, switching to
// non-toxic products, changing the filter. It is a separate path from
// AdjustIndoor and must not feed the risk score.
func AchievableReduction(user domain.UserContext) float64 {
	var total float64
	if user.WindowsOpen {
		total += closeWindowsReduction
	}
	if !user.NonToxicProducts {
		total += nonToxicProductsReduction
	}
	if !user.RecentFilterChange {
		total += filterChangeReduction
	}
	return total
}
