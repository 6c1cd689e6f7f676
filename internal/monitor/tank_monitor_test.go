package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/dispatch"
	"github.com/aquamesh/tankguard/internal/model"
	"github.com/aquamesh/tankguard/internal/molt"
	"github.com/aquamesh/tankguard/internal/notify"
	"github.com/aquamesh/tankguard/internal/source"
	"github.com/aquamesh/tankguard/internal/testutil"
	"github.com/aquamesh/tankguard/internal/thresholds"
)

func testThresholds(tankID string) model.Thresholds {
	return model.Thresholds{
		TankID: tankID,
		Limits: map[model.Parameter]model.Limit{
			model.ParameterPH:              {Min: model.Float(7.0), Max: model.Float(8.5)},
			model.ParameterDissolvedOxygen: {Min: model.Float(5.0)},
			model.ParameterAmmonia:         {Max: model.Float(0.25)},
		},
	}
}

// startMonitor wires a full monitor pipeline for one tank against an
// embedded JetStream server. The returned stop cancels the monitor and
// waits for it to drain; the server itself lives until test cleanup.
func startMonitor(t *testing.T, tankID string) (nats.JetStreamContext, *TankMonitor, func()) {
	t.Helper()

	_, js, cleanup := testutil.StartJetStream(t)
	t.Cleanup(cleanup)
	logger := zap.NewNop()

	src, err := source.NewNATSSource(js, logger)
	require.NoError(t, err)

	notifier, err := notify.NewNATSNotifier(js, logger)
	require.NoError(t, err)

	dispatcher, err := dispatch.NewDispatcher(notifier, dispatch.DefaultConfig(), logger)
	require.NoError(t, err)

	engine, err := molt.NewRiskEngine(tankID, molt.DefaultConfig(), nil, logger)
	require.NoError(t, err)

	store, err := thresholds.NewMemoryStore([]model.Thresholds{testThresholds(tankID)}, logger)
	require.NoError(t, err)

	mon := NewTankMonitor(tankID, src, src, store, engine, dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("monitor did not stop")
		}
	}
	return js, mon, stop
}

func TestTankMonitor_ReadingToAlert(t *testing.T) {
	js, mon, stop := startMonitor(t, "tank-1")
	defer stop()

	testutil.PublishJSON(t, js, "telemetry.reading.tank-1", model.Reading{
		TankID:    "tank-1",
		Timestamp: time.Now().UTC(),
		Ammonia:   model.Float(1.2),
	})

	var alert model.Alert
	testutil.WaitForMessage(t, js, "alert.notify.critical", 5*time.Second, &alert)
	assert.Equal(t, model.AlertID("tank-1", model.ParameterAmmonia, ""), alert.ID)
	assert.Equal(t, model.AlertSeverityCritical, alert.Severity)

	require.Eventually(t, func() bool {
		_, ok := mon.LatestReading()
		return ok
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, model.AlertSeverityCritical, mon.CurrentSeverity(model.ParameterAmmonia))
}

func TestTankMonitor_RecoveryClearsAlert(t *testing.T) {
	js, mon, stop := startMonitor(t, "tank-1")
	defer stop()

	testutil.PublishJSON(t, js, "telemetry.reading.tank-1", model.Reading{
		TankID:    "tank-1",
		Timestamp: time.Now().UTC(),
		Ammonia:   model.Float(1.2),
	})
	testutil.WaitForMessage(t, js, "alert.notify.critical", 5*time.Second, nil)

	testutil.PublishJSON(t, js, "telemetry.reading.tank-1", model.Reading{
		TankID:    "tank-1",
		Timestamp: time.Now().UTC(),
		Ammonia:   model.Float(0.05),
	})
	testutil.WaitForMessage(t, js, "alert.clear.tank-1.ammonia", 5*time.Second, nil)

	require.Eventually(t, func() bool {
		return mon.CurrentSeverity(model.ParameterAmmonia) == model.AlertSeverityInfo
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTankMonitor_MoltEventRaisesRisk(t *testing.T) {
	js, mon, stop := startMonitor(t, "tank-1")
	defer stop()

	testutil.PublishJSON(t, js, "molt.event.tank-1", model.MoltEvent{
		ID:         uuid.New().String(),
		TankID:     "tank-1",
		SubjectID:  "crab-7",
		State:      model.MoltStatePremolt,
		Confidence: 0.95,
		StartedAt:  time.Now().UTC(),
	})

	var alert model.Alert
	testutil.WaitForMessage(t, js, "alert.notify.warning", 5*time.Second, &alert)
	assert.Equal(t, model.ParameterMoltRisk, alert.Parameter)

	require.Eventually(t, func() bool {
		return mon.RiskSnapshot().State == model.MoltStatePremolt
	}, 2*time.Second, 20*time.Millisecond)
}

func TestTankMonitor_ShutdownClearsTank(t *testing.T) {
	js, _, stop := startMonitor(t, "tank-1")

	testutil.PublishJSON(t, js, "telemetry.reading.tank-1", model.Reading{
		TankID:    "tank-1",
		Timestamp: time.Now().UTC(),
		PH:        model.Float(6.0),
	})
	testutil.WaitForMessage(t, js, "alert.notify.warning", 5*time.Second, nil)

	stop()
	// The clear is captured by the ALERTS stream, so a late subscriber
	// still sees it.
	testutil.WaitForMessage(t, js, "alert.clear.tank-1.all", 5*time.Second, nil)
}
