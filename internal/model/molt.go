package model

import (
	"fmt"
	"time"
)

// MoltState represents a stage in the crustacean molting lifecycle.
// The lifecycle is linear with a single branch back to none:
// none → premolt → ecdysis → postmolt_risk → postmolt_safe → none.
type MoltState string

const (
	MoltStateNone         MoltState = "none"
	MoltStatePremolt      MoltState = "premolt"
	MoltStateEcdysis      MoltState = "ecdysis"
	MoltStatePostmoltRisk MoltState = "postmolt_risk"
	MoltStatePostmoltSafe MoltState = "postmolt_safe"
)

// Valid reports whether the state is one of the known lifecycle stages.
func (s MoltState) Valid() bool {
	switch s {
	case MoltStateNone, MoltStatePremolt, MoltStateEcdysis,
		MoltStatePostmoltRisk, MoltStatePostmoltSafe:
		return true
	}
	return false
}

// RiskSeverity derives the alert severity for a lifecycle state. Ecdysis
// and the immediate post-molt window are the vulnerable periods.
func (s MoltState) RiskSeverity() AlertSeverity {
	switch s {
	case MoltStateEcdysis, MoltStatePostmoltRisk:
		return AlertSeverityCritical
	case MoltStatePremolt, MoltStatePostmoltSafe:
		return AlertSeverityWarning
	}
	return AlertSeverityInfo
}

// CriticalTier reports whether the state requires the shorter re-evaluation
// interval.
func (s MoltState) CriticalTier() bool {
	return s == MoltStateEcdysis || s == MoltStatePostmoltRisk
}

// MoltEvent is a single observation emitted by the molt detection source.
// Events are consumed exactly once and deduplicated by ID.
type MoltEvent struct {
	ID         string     `json:"id"`
	TankID     string     `json:"tank_id"`
	SubjectID  string     `json:"subject_id"`
	State      MoltState  `json:"state"`
	Confidence float64    `json:"confidence"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Evidence   []string   `json:"evidence,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// Validate rejects malformed events: unknown states, confidence outside
// [0,1], or an end time before the start time.
func (e MoltEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("molt event missing id")
	}
	if !e.State.Valid() {
		return fmt.Errorf("unknown molt state %q", e.State)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("confidence %.2f outside [0,1]", e.Confidence)
	}
	if e.EndedAt != nil && e.EndedAt.Before(e.StartedAt) {
		return fmt.Errorf("event end %s before start %s", e.EndedAt, e.StartedAt)
	}
	return nil
}

// MoltRiskSnapshot is the current derived view of a tank's molt lifecycle.
// It is mutated only by the risk engine and re-derived on every tick or
// event.
type MoltRiskSnapshot struct {
	TankID         string         `json:"tank_id"`
	State          MoltState      `json:"state"`
	Risk           AlertSeverity  `json:"risk"`
	RemainingCare  *time.Duration `json:"remaining_care,omitempty"`
	LastTransition time.Time      `json:"last_transition"`
}
