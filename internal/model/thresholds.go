package model

import "fmt"

// Limit is a per-parameter acceptable range. Either bound may be nil for
// single-bound rules (e.g. ammonia has only a maximum).
type Limit struct {
	Min *float64 `json:"min,omitempty" mapstructure:"min"`
	Max *float64 `json:"max,omitempty" mapstructure:"max"`
}

// Thresholds holds the configured limits for one tank.
type Thresholds struct {
	TankID string              `json:"tank_id"`
	Limits map[Parameter]Limit `json:"limits"`
}

// Limit returns the configured limit for a parameter, if any.
func (t Thresholds) Limit(p Parameter) (Limit, bool) {
	l, ok := t.Limits[p]
	return l, ok
}

// Validate checks the min <= max invariant for every ranged parameter.
// Invalid thresholds are a configuration error and must be rejected before
// they ever reach evaluation.
func (t Thresholds) Validate() error {
	for p, l := range t.Limits {
		if l.Min != nil && l.Max != nil && *l.Min > *l.Max {
			return fmt.Errorf("invalid threshold for %s: min %.2f > max %.2f", p, *l.Min, *l.Max)
		}
	}
	return nil
}
