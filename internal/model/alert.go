package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AlertSeverity represents the severity level of an alert. Severities are
// totally ordered: Info < Warning < Critical.
type AlertSeverity int

const (
	AlertSeverityInfo AlertSeverity = iota
	AlertSeverityWarning
	AlertSeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case AlertSeverityInfo:
		return "info"
	case AlertSeverityWarning:
		return "warning"
	case AlertSeverityCritical:
		return "critical"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// MarshalJSON encodes the severity as its string name.
func (s AlertSeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity from its string name.
func (s *AlertSeverity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "info":
		*s = AlertSeverityInfo
	case "warning":
		*s = AlertSeverityWarning
	case "critical":
		*s = AlertSeverityCritical
	default:
		return fmt.Errorf("unknown alert severity %q", name)
	}
	return nil
}

// ParameterMoltRisk is the notification slot used for molt-risk alerts.
// It shares the Alert shape with water-quality parameters so the dispatcher
// treats both uniformly.
const ParameterMoltRisk Parameter = "molt_risk"

// Alert is a classified violation of a threshold, or of molt risk, at a
// point in time. Two alerts with the same ID represent the same occurrence
// and must not be notified twice.
type Alert struct {
	ID        string        `json:"id"`
	TankID    string        `json:"tank_id"`
	Parameter Parameter     `json:"parameter"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// AlertID builds the stable identity for a condition. The same condition
// re-evaluated while it persists yields the same ID, which is what the
// dispatcher's dedup set keys on.
func AlertID(tankID string, p Parameter, qualifier string) string {
	if qualifier == "" {
		return fmt.Sprintf("%s:%s", tankID, p)
	}
	return fmt.Sprintf("%s:%s:%s", tankID, p, qualifier)
}
