// Package evaluator classifies water-quality readings against configured
// thresholds. Evaluation is pure: no state, no side effects, no errors.
package evaluator

import (
	"fmt"

	"github.com/aquamesh/tankguard/internal/model"
)

// rule describes which bounds apply to a parameter and how a violation is
// classified. Severity is fixed per parameter regardless of magnitude.
type rule struct {
	checkMin bool
	checkMax bool
	severity model.AlertSeverity
}

var rules = map[model.Parameter]rule{
	model.ParameterPH:              {checkMin: true, checkMax: true, severity: model.AlertSeverityWarning},
	model.ParameterDissolvedOxygen: {checkMin: true, severity: model.AlertSeverityCritical},
	model.ParameterSalinity:        {checkMin: true, checkMax: true, severity: model.AlertSeverityWarning},
	model.ParameterAmmonia:         {checkMax: true, severity: model.AlertSeverityCritical},
	model.ParameterTemperature:     {checkMin: true, checkMax: true, severity: model.AlertSeverityWarning},
	model.ParameterWaterLevel:      {checkMin: true, checkMax: true, severity: model.AlertSeverityWarning},
	model.ParameterTDS:             {checkMin: true, checkMax: true, severity: model.AlertSeverityWarning},
	model.ParameterTurbidity:       {checkMax: true, severity: model.AlertSeverityWarning},
}

// EvaluateAll examines every parameter present in the reading, in the fixed
// parameter order, and returns one alert per violated rule. Parameters
// absent from the reading or without a configured limit are skipped.
func EvaluateAll(reading model.Reading, thresholds model.Thresholds) []model.Alert {
	var alerts []model.Alert

	for _, p := range model.ParameterOrder {
		value, present := reading.Value(p)
		if !present {
			continue
		}

		limit, ok := thresholds.Limit(p)
		if !ok {
			continue
		}

		r := rules[p]
		var msg string
		switch {
		case r.checkMin && limit.Min != nil && value < *limit.Min:
			msg = fmt.Sprintf("%s %.2f %s below minimum %.2f %s",
				p.DisplayName(), value, p.Unit(), *limit.Min, p.Unit())
		case r.checkMax && limit.Max != nil && value > *limit.Max:
			msg = fmt.Sprintf("%s %.2f %s above maximum %.2f %s",
				p.DisplayName(), value, p.Unit(), *limit.Max, p.Unit())
		default:
			continue
		}

		alerts = append(alerts, model.Alert{
			ID:        model.AlertID(reading.TankID, p, ""),
			TankID:    reading.TankID,
			Parameter: p,
			Severity:  r.severity,
			Message:   msg,
			CreatedAt: reading.Timestamp,
		})
	}

	return alerts
}

// Evaluate returns the single most severe alert for the reading, or nil if
// no rule is violated. Ties are broken by the fixed parameter order, which
// EvaluateAll already emits in.
func Evaluate(reading model.Reading, thresholds model.Thresholds) *model.Alert {
	alerts := EvaluateAll(reading, thresholds)
	if len(alerts) == 0 {
		return nil
	}

	top := alerts[0]
	for _, a := range alerts[1:] {
		if a.Severity > top.Severity {
			top = a
		}
	}
	return &top
}
