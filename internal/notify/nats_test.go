package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
	"github.com/aquamesh/tankguard/internal/testutil"
)

func TestNATSNotifier_Show(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	notifier, err := NewNATSNotifier(js, zap.NewNop())
	require.NoError(t, err)

	alert := model.Alert{
		ID:        model.AlertID("tank-1", model.ParameterAmmonia, ""),
		TankID:    "tank-1",
		Parameter: model.ParameterAmmonia,
		Severity:  model.AlertSeverityCritical,
		Message:   "Ammonia 1.20 ppm above maximum 0.25 ppm",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, notifier.Show(context.Background(), alert))

	var got model.Alert
	testutil.WaitForMessage(t, js, "alert.notify.critical", 2*time.Second, &got)
	assert.Equal(t, alert.ID, got.ID)
	assert.Equal(t, model.AlertSeverityCritical, got.Severity)
	assert.Equal(t, alert.Message, got.Message)
}

func TestNATSNotifier_SeveritySubjects(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	notifier, err := NewNATSNotifier(js, zap.NewNop())
	require.NoError(t, err)

	warn := model.Alert{
		ID:        model.AlertID("tank-1", model.ParameterPH, ""),
		TankID:    "tank-1",
		Parameter: model.ParameterPH,
		Severity:  model.AlertSeverityWarning,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, notifier.Show(context.Background(), warn))

	var got model.Alert
	testutil.WaitForMessage(t, js, "alert.notify.warning", 2*time.Second, &got)
	assert.Equal(t, warn.ID, got.ID)
}

func TestNATSNotifier_Clear(t *testing.T) {
	js, cleanup := testutil.SetupJetStream(t)
	defer cleanup()

	notifier, err := NewNATSNotifier(js, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, notifier.Clear(context.Background(), "tank-1", model.ParameterPH))
	testutil.WaitForMessage(t, js, "alert.clear.tank-1.ph", 2*time.Second, nil)

	require.NoError(t, notifier.ClearAll(context.Background(), "tank-1"))
	testutil.WaitForMessage(t, js, "alert.clear.tank-1.all", 2*time.Second, nil)
}
