// Package monitor runs the per-tank processing loop: telemetry readings,
// molt observations and wall-clock ticks merged into one ordered sequence,
// evaluated strictly sequentially.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/dispatch"
	"github.com/aquamesh/tankguard/internal/evaluator"
	"github.com/aquamesh/tankguard/internal/model"
	"github.com/aquamesh/tankguard/internal/molt"
	"github.com/aquamesh/tankguard/internal/source"
	"github.com/aquamesh/tankguard/internal/thresholds"
)

// TankMonitor is the single-writer worker for one tank. No two updates for
// the same tank execute concurrently; tanks are independent of each other.
type TankMonitor struct {
	logger     *zap.Logger
	tankID     string
	telemetry  source.TelemetrySource
	events     source.MoltObservationSource
	thresholds thresholds.Store
	engine     *molt.RiskEngine
	dispatcher *dispatch.Dispatcher

	mu        sync.RWMutex
	latest    *model.Reading
	violating map[model.Parameter]struct{}
}

// NewTankMonitor wires a monitor for one tank.
func NewTankMonitor(
	tankID string,
	telemetry source.TelemetrySource,
	events source.MoltObservationSource,
	store thresholds.Store,
	engine *molt.RiskEngine,
	dispatcher *dispatch.Dispatcher,
	logger *zap.Logger,
) *TankMonitor {
	return &TankMonitor{
		logger:     logger.Named("tank-monitor").With(zap.String("tank_id", tankID)),
		tankID:     tankID,
		telemetry:  telemetry,
		events:     events,
		thresholds: store,
		engine:     engine,
		dispatcher: dispatcher,
		violating:  make(map[model.Parameter]struct{}),
	}
}

// Run processes the merged input sequence until ctx is cancelled. Any
// in-flight evaluation completes before teardown; on the way out the
// tank's notifications are cleared.
func (m *TankMonitor) Run(ctx context.Context) error {
	current, err := m.thresholds.Current(m.tankID)
	if err != nil {
		return fmt.Errorf("tank %s: %w", m.tankID, err)
	}

	readings, stopReadings, err := m.telemetry.SubscribeReadings(ctx, m.tankID)
	if err != nil {
		return fmt.Errorf("tank %s: %w", m.tankID, err)
	}
	defer stopReadings()

	events, stopEvents, err := m.events.SubscribeEvents(ctx, m.tankID)
	if err != nil {
		return fmt.Errorf("tank %s: %w", m.tankID, err)
	}
	defer stopEvents()

	updates, stopUpdates, err := m.thresholds.Watch(ctx, m.tankID)
	if err != nil {
		return fmt.Errorf("tank %s: %w", m.tankID, err)
	}
	defer stopUpdates()

	timer := time.NewTimer(m.engine.TickInterval())
	defer timer.Stop()

	m.logger.Info("Tank monitor started")

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return nil

		case reading := <-readings:
			m.handleReading(ctx, reading, current)

		case event := <-events:
			m.handleEvent(ctx, event)
			// The risk tier, and with it the tick cadence, may have
			// changed.
			resetTimer(timer, m.engine.TickInterval())

		case current = <-updates:
			m.logger.Info("Thresholds refreshed")

		case <-timer.C:
			m.handleTick(ctx)
			timer.Reset(m.engine.TickInterval())
		}
	}
}

// LatestReading returns the most recent reading processed, if any.
func (m *TankMonitor) LatestReading() (model.Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return model.Reading{}, false
	}
	return *m.latest, true
}

// RiskSnapshot returns the current molt-risk view for the tank.
func (m *TankMonitor) RiskSnapshot() model.MoltRiskSnapshot {
	return m.engine.Snapshot()
}

// CurrentSeverity returns the notified severity for one parameter.
func (m *TankMonitor) CurrentSeverity(parameter model.Parameter) model.AlertSeverity {
	return m.dispatcher.CurrentSeverity(m.tankID, parameter)
}

func (m *TankMonitor) handleReading(ctx context.Context, reading model.Reading, current model.Thresholds) {
	alerts := evaluator.EvaluateAll(reading, current)
	m.dispatcher.Submit(ctx, alerts)

	next := make(map[model.Parameter]struct{}, len(alerts))
	for _, a := range alerts {
		next[a.Parameter] = struct{}{}
	}

	m.mu.Lock()
	m.latest = &reading
	previous := m.violating
	m.violating = next
	m.mu.Unlock()

	// Conditions that stopped violating get their notification slot
	// cleared.
	for p := range previous {
		if _, still := next[p]; !still {
			m.dispatcher.Resolve(ctx, m.tankID, p)
		}
	}
}

func (m *TankMonitor) handleEvent(ctx context.Context, event model.MoltEvent) {
	before := m.engine.Snapshot().State
	snapshot, alert, err := m.engine.ApplyEvent(ctx, event)
	if err != nil {
		// Already logged by the engine; state is unchanged.
		return
	}
	m.afterRiskChange(ctx, before, snapshot, alert)
}

func (m *TankMonitor) handleTick(ctx context.Context) {
	before := m.engine.Snapshot().State
	snapshot, alert := m.engine.Tick(ctx)
	m.afterRiskChange(ctx, before, snapshot, alert)
}

// afterRiskChange forwards the molt-risk alert and resolves the molt slot
// when the lifecycle returns to idle.
func (m *TankMonitor) afterRiskChange(ctx context.Context, before model.MoltState, snapshot model.MoltRiskSnapshot, alert *model.Alert) {
	if alert != nil {
		m.dispatcher.Submit(ctx, []model.Alert{*alert})
		return
	}
	if before != model.MoltStateNone && snapshot.State == model.MoltStateNone {
		m.dispatcher.Resolve(ctx, m.tankID, model.ParameterMoltRisk)
	}
}

// teardown clears the tank's notifications once the loop has drained.
func (m *TankMonitor) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.dispatcher.ClearTank(ctx, m.tankID)
	m.logger.Info("Tank monitor stopped")
}

// resetTimer safely rearms a timer with a new duration.
func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
