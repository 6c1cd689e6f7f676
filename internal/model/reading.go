package model

import "time"

// Parameter identifies a water-quality parameter measured in a tank.
type Parameter string

const (
	ParameterPH              Parameter = "ph"
	ParameterDissolvedOxygen Parameter = "dissolved_oxygen"
	ParameterSalinity        Parameter = "salinity"
	ParameterAmmonia         Parameter = "ammonia"
	ParameterTemperature     Parameter = "temperature"
	ParameterWaterLevel      Parameter = "water_level"
	ParameterTDS             Parameter = "tds"
	ParameterTurbidity       Parameter = "turbidity"
)

// ParameterOrder is the fixed order in which parameters are evaluated.
// Tie-breaking between alerts of equal severity follows this order.
var ParameterOrder = []Parameter{
	ParameterPH,
	ParameterDissolvedOxygen,
	ParameterSalinity,
	ParameterAmmonia,
	ParameterTemperature,
	ParameterWaterLevel,
	ParameterTDS,
	ParameterTurbidity,
}

// DisplayName returns the human-readable parameter name used in alert messages.
func (p Parameter) DisplayName() string {
	switch p {
	case ParameterPH:
		return "pH"
	case ParameterDissolvedOxygen:
		return "Dissolved oxygen"
	case ParameterSalinity:
		return "Salinity"
	case ParameterAmmonia:
		return "Ammonia"
	case ParameterTemperature:
		return "Temperature"
	case ParameterWaterLevel:
		return "Water level"
	case ParameterTDS:
		return "TDS"
	case ParameterTurbidity:
		return "Turbidity"
	}
	return string(p)
}

// Unit returns the measurement unit for the parameter.
func (p Parameter) Unit() string {
	switch p {
	case ParameterPH:
		return "pH"
	case ParameterDissolvedOxygen:
		return "mg/L"
	case ParameterSalinity:
		return "ppt"
	case ParameterAmmonia:
		return "ppm"
	case ParameterTemperature:
		return "°C"
	case ParameterWaterLevel:
		return "cm"
	case ParameterTDS:
		return "ppm"
	case ParameterTurbidity:
		return "NTU"
	}
	return ""
}

// Reading is one timestamped snapshot of tank water-quality parameters.
// Every parameter is optional; a sensor that is absent or offline simply
// leaves its field nil. Readings are immutable once emitted.
type Reading struct {
	TankID          string    `json:"tank_id"`
	Timestamp       time.Time `json:"timestamp"`
	PH              *float64  `json:"ph,omitempty"`
	DissolvedOxygen *float64  `json:"dissolved_oxygen,omitempty"`
	Salinity        *float64  `json:"salinity,omitempty"`
	Ammonia         *float64  `json:"ammonia,omitempty"`
	Temperature     *float64  `json:"temperature,omitempty"`
	WaterLevel      *float64  `json:"water_level,omitempty"`
	TDS             *float64  `json:"tds,omitempty"`
	Turbidity       *float64  `json:"turbidity,omitempty"`
}

// Value returns the measured value for a parameter and whether it is present.
func (r Reading) Value(p Parameter) (float64, bool) {
	var v *float64
	switch p {
	case ParameterPH:
		v = r.PH
	case ParameterDissolvedOxygen:
		v = r.DissolvedOxygen
	case ParameterSalinity:
		v = r.Salinity
	case ParameterAmmonia:
		v = r.Ammonia
	case ParameterTemperature:
		v = r.Temperature
	case ParameterWaterLevel:
		v = r.WaterLevel
	case ParameterTDS:
		v = r.TDS
	case ParameterTurbidity:
		v = r.Turbidity
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Float returns a pointer to v. Convenience for building readings.
func Float(v float64) *float64 {
	return &v
}
