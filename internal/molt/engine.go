// Package molt implements the per-tank molting lifecycle state machine.
// Detected events and wall-clock ticks drive transitions through
// none → premolt → ecdysis → postmolt_risk → postmolt_safe → none.
package molt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

// Config holds the governing time constants and confidence thresholds.
type Config struct {
	// HighRiskWindow is the post-ecdysis period spent in postmolt_risk.
	HighRiskWindow time.Duration `mapstructure:"high_risk_window"`
	// RemainingWindow is the postmolt_safe period after the high-risk
	// window; the total care window is their sum.
	RemainingWindow time.Duration `mapstructure:"remaining_window"`
	// MaxEcdysisDuration is the longest an ecdysis event is expected to
	// stay open before it is flagged as an anomaly.
	MaxEcdysisDuration time.Duration `mapstructure:"max_ecdysis_duration"`
	// MinConfidence is the floor below which a detection is recorded for
	// manual review but never applied to state.
	MinConfidence float64 `mapstructure:"min_confidence"`
	// HighConfidence is the level at or above which a detection is applied
	// without annotation.
	HighConfidence float64 `mapstructure:"high_confidence"`
	// StandardInterval is the re-evaluation cadence outside the vulnerable
	// states; CriticalInterval applies during ecdysis and postmolt_risk.
	StandardInterval time.Duration `mapstructure:"standard_interval"`
	CriticalInterval time.Duration `mapstructure:"critical_interval"`
	// EventDedupCapacity bounds the applied event-ID set; the oldest
	// entries are evicted first once it is full.
	EventDedupCapacity int `mapstructure:"event_dedup_capacity"`
}

// DefaultConfig returns the documented defaults: 6h high risk, 66h
// remainder (72h total), 8h maximum ecdysis.
func DefaultConfig() Config {
	return Config{
		HighRiskWindow:     6 * time.Hour,
		RemainingWindow:    66 * time.Hour,
		MaxEcdysisDuration: 8 * time.Hour,
		MinConfidence:      0.4,
		HighConfidence:     0.75,
		StandardInterval:   5 * time.Minute,
		CriticalInterval:   30 * time.Second,
		EventDedupCapacity: 1024,
	}
}

// Validate fails fast on configuration that would make the state machine
// unsound.
func (c Config) Validate() error {
	if c.HighRiskWindow <= 0 || c.RemainingWindow <= 0 {
		return fmt.Errorf("care windows must be positive")
	}
	if c.MaxEcdysisDuration <= 0 {
		return fmt.Errorf("max ecdysis duration must be positive")
	}
	if c.MinConfidence < 0 || c.HighConfidence > 1 || c.MinConfidence > c.HighConfidence {
		return fmt.Errorf("confidence thresholds must satisfy 0 <= min <= high <= 1")
	}
	if c.StandardInterval <= 0 || c.CriticalInterval <= 0 {
		return fmt.Errorf("tick intervals must be positive")
	}
	if c.EventDedupCapacity <= 0 {
		return fmt.Errorf("event dedup capacity must be positive")
	}
	return nil
}

// TotalWindow is the full post-molt care window.
func (c Config) TotalWindow() time.Duration {
	return c.HighRiskWindow + c.RemainingWindow
}

// Reviewer records events that need a human look: detections below the
// confidence floor and ecdysis events that overran their expected duration.
type Reviewer interface {
	RecordEvent(ctx context.Context, reason string, event model.MoltEvent) error
}

// RiskEngine is the per-tank lifecycle state machine. All mutation is
// serialized behind a single mutex; the tank monitor additionally feeds it
// from one goroutine, so events and ticks apply strictly in arrival order.
type RiskEngine struct {
	logger   *zap.Logger
	cfg      Config
	reviewer Reviewer
	now      func() time.Time

	mu             sync.Mutex
	tankID         string
	snapshot       model.MoltRiskSnapshot
	applied        map[string]struct{}
	appliedOrder   []string
	cycle          int
	lastEcdysisEnd *time.Time
	openEcdysis    *model.MoltEvent
	overrunFlagged bool
	lowConfidence  bool
}

// NewRiskEngine creates an engine for one tank. The reviewer may be nil if
// flagged events are only logged.
func NewRiskEngine(tankID string, cfg Config, reviewer Reviewer, logger *zap.Logger) (*RiskEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid molt config: %w", err)
	}
	return &RiskEngine{
		logger:   logger.Named("molt-engine").With(zap.String("tank_id", tankID)),
		cfg:      cfg,
		reviewer: reviewer,
		now:      time.Now,
		tankID:   tankID,
		applied:  make(map[string]struct{}),
		snapshot: model.MoltRiskSnapshot{
			TankID: tankID,
			State:  model.MoltStateNone,
			Risk:   model.AlertSeverityInfo,
		},
	}, nil
}

// Snapshot returns the current derived view of the lifecycle.
func (e *RiskEngine) Snapshot() model.MoltRiskSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// TickInterval returns the re-evaluation interval for the current risk
// tier.
func (e *RiskEngine) TickInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snapshot.State.CriticalTier() {
		return e.cfg.CriticalInterval
	}
	return e.cfg.StandardInterval
}

// ApplyEvent feeds one detected event into the state machine. Malformed
// events are rejected with an error and leave state untouched. Replayed
// event IDs and sub-threshold detections return the unchanged snapshot and
// no alert. Otherwise the returned alert carries the derived risk for the
// new state.
func (e *RiskEngine) ApplyEvent(ctx context.Context, event model.MoltEvent) (model.MoltRiskSnapshot, *model.Alert, error) {
	if err := event.Validate(); err != nil {
		e.logger.Warn("Rejected malformed molt event",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return e.Snapshot(), nil, fmt.Errorf("invalid molt event: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.applied[event.ID]; seen {
		e.logger.Debug("Ignoring replayed molt event", zap.String("event_id", event.ID))
		return e.snapshot, nil, nil
	}
	e.rememberEvent(event.ID)

	if event.Confidence < e.cfg.MinConfidence {
		e.logger.Info("Detection below confidence floor, flagged for review",
			zap.String("event_id", event.ID),
			zap.Float64("confidence", event.Confidence))
		e.record(ctx, "low_confidence", event)
		return e.snapshot, nil, nil
	}

	// A premolt or ecdysis detection arriving outside its own cycle starts
	// a new one. Alert identities carry the cycle, so a fresh occurrence of
	// a state is never deduplicated against the previous cycle's
	// notifications.
	switch event.State {
	case model.MoltStatePremolt:
		if e.snapshot.State != model.MoltStatePremolt {
			e.cycle++
		}
	case model.MoltStateEcdysis:
		if e.snapshot.State != model.MoltStatePremolt && e.snapshot.State != model.MoltStateEcdysis {
			e.cycle++
		}
	}

	now := e.now()
	e.lowConfidence = event.Confidence < e.cfg.HighConfidence
	e.transition(event.State, now)

	switch event.State {
	case model.MoltStateEcdysis:
		e.overrunFlagged = false
		if event.EndedAt != nil {
			end := *event.EndedAt
			e.lastEcdysisEnd = &end
			e.openEcdysis = nil
			// Shedding already concluded; enter the care window right away.
			e.applyWindow(now)
		} else {
			ev := event
			e.openEcdysis = &ev
		}
	case model.MoltStateNone, model.MoltStatePremolt:
		// A new cycle invalidates the previous ecdysis anchor.
		e.lastEcdysisEnd = nil
		e.openEcdysis = nil
	}

	e.refreshWindow(now)

	e.logger.Info("Applied molt event",
		zap.String("event_id", event.ID),
		zap.String("state", string(e.snapshot.State)),
		zap.Float64("confidence", event.Confidence))

	return e.snapshot, e.riskAlert(), nil
}

// Tick re-evaluates the time-driven transitions. The returned alert is nil
// while the lifecycle is idle.
func (e *RiskEngine) Tick(ctx context.Context) (model.MoltRiskSnapshot, *model.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()

	// An ecdysis event still open past its expected duration is an anomaly
	// worth surfacing once, but it never forces a transition.
	if e.openEcdysis != nil && !e.overrunFlagged &&
		now.Sub(e.openEcdysis.StartedAt) > e.cfg.MaxEcdysisDuration {
		e.overrunFlagged = true
		e.logger.Warn("Ecdysis exceeded expected duration",
			zap.String("event_id", e.openEcdysis.ID),
			zap.Duration("elapsed", now.Sub(e.openEcdysis.StartedAt)))
		e.record(ctx, "ecdysis_overrun", *e.openEcdysis)
	}

	e.applyWindow(now)
	e.refreshWindow(now)
	return e.snapshot, e.riskAlert()
}

// applyWindow runs the time-driven transitions anchored to the most recent
// ecdysis end. A newer event that moved the machine elsewhere (premolt, an
// open ecdysis) clears or outranks the anchor, so a stale tick never
// reverts it.
func (e *RiskEngine) applyWindow(now time.Time) {
	if e.lastEcdysisEnd == nil || e.openEcdysis != nil {
		return
	}
	switch e.snapshot.State {
	case model.MoltStateEcdysis, model.MoltStatePostmoltRisk, model.MoltStatePostmoltSafe:
	default:
		return
	}

	elapsed := now.Sub(*e.lastEcdysisEnd)
	switch {
	case elapsed < e.cfg.HighRiskWindow:
		e.transition(model.MoltStatePostmoltRisk, now)
	case elapsed < e.cfg.TotalWindow():
		e.transition(model.MoltStatePostmoltSafe, now)
	default:
		e.transition(model.MoltStateNone, now)
		e.lastEcdysisEnd = nil
		e.lowConfidence = false
	}
}

// transition moves to the target state if it differs, stamping the change.
func (e *RiskEngine) transition(state model.MoltState, now time.Time) {
	if e.snapshot.State == state {
		e.snapshot.Risk = state.RiskSeverity()
		return
	}
	e.logger.Info("Molt state transition",
		zap.String("from", string(e.snapshot.State)),
		zap.String("to", string(state)))
	e.snapshot.State = state
	e.snapshot.Risk = state.RiskSeverity()
	e.snapshot.LastTransition = now
}

// refreshWindow recomputes the remaining care window, clamped to zero.
// It is nil while idle or when no ecdysis end is known.
func (e *RiskEngine) refreshWindow(now time.Time) {
	if e.lastEcdysisEnd == nil || e.snapshot.State == model.MoltStateNone {
		e.snapshot.RemainingCare = nil
		return
	}

	elapsed := now.Sub(*e.lastEcdysisEnd)
	var boundary time.Duration
	switch e.snapshot.State {
	case model.MoltStatePostmoltRisk:
		boundary = e.cfg.HighRiskWindow
	case model.MoltStatePostmoltSafe:
		boundary = e.cfg.TotalWindow()
	default:
		e.snapshot.RemainingCare = nil
		return
	}

	remaining := boundary - elapsed
	if remaining < 0 {
		remaining = 0
	}
	e.snapshot.RemainingCare = &remaining
}

// riskAlert builds the molt-risk alert for the current state, or nil while
// idle. The alert ID is keyed on the cycle and state: each lifecycle stage
// is one notifiable occurrence, and the same stage in a later cycle is a
// distinct one.
func (e *RiskEngine) riskAlert() *model.Alert {
	state := e.snapshot.State
	if state == model.MoltStateNone {
		return nil
	}

	msg := fmt.Sprintf("Molt risk: subject in %s", state)
	if e.snapshot.RemainingCare != nil {
		msg = fmt.Sprintf("%s, %s of care window remaining", msg, e.snapshot.RemainingCare.Round(time.Minute))
	}
	if e.lowConfidence {
		msg += " (low-confidence detection)"
	}

	return &model.Alert{
		ID:        model.AlertID(e.tankID, model.ParameterMoltRisk, fmt.Sprintf("%s:%d", state, e.cycle)),
		TankID:    e.tankID,
		Parameter: model.ParameterMoltRisk,
		Severity:  state.RiskSeverity(),
		Message:   msg,
		CreatedAt: e.now(),
	}
}

// rememberEvent adds an event ID to the bounded applied set, evicting
// oldest first.
func (e *RiskEngine) rememberEvent(id string) {
	if len(e.appliedOrder) >= e.cfg.EventDedupCapacity {
		oldest := e.appliedOrder[0]
		e.appliedOrder = e.appliedOrder[1:]
		delete(e.applied, oldest)
	}
	e.applied[id] = struct{}{}
	e.appliedOrder = append(e.appliedOrder, id)
}

// record hands a flagged event to the reviewer, tolerating its absence and
// its failures.
func (e *RiskEngine) record(ctx context.Context, reason string, event model.MoltEvent) {
	if e.reviewer == nil {
		return
	}
	if err := e.reviewer.RecordEvent(ctx, reason, event); err != nil {
		e.logger.Error("Failed to record event for review",
			zap.String("event_id", event.ID),
			zap.String("reason", reason),
			zap.Error(err))
	}
}
