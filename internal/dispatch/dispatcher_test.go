package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

// fakeNotifier records calls and can be told to fail.
type fakeNotifier struct {
	mu      sync.Mutex
	shown   []model.Alert
	cleared []string
	fail    error
}

func (n *fakeNotifier) Show(_ context.Context, alert model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.shown = append(n.shown, alert)
	return nil
}

func (n *fakeNotifier) Clear(_ context.Context, tankID string, parameter model.Parameter) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.cleared = append(n.cleared, fmt.Sprintf("%s/%s", tankID, parameter))
	return nil
}

func (n *fakeNotifier) ClearAll(_ context.Context, tankID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.cleared = append(n.cleared, tankID+"/all")
	return nil
}

func (n *fakeNotifier) shownIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, len(n.shown))
	for i, a := range n.shown {
		ids[i] = a.ID
	}
	return ids
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *fakeNotifier, *time.Time) {
	t.Helper()

	notifier := &fakeNotifier{}
	d, err := NewDispatcher(notifier, cfg, zap.NewNop())
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, notifier, &now
}

func warningAlert(id string) model.Alert {
	return model.Alert{
		ID:        id,
		TankID:    "tank-1",
		Parameter: model.ParameterPH,
		Severity:  model.AlertSeverityWarning,
		Message:   "pH out of range",
		CreatedAt: time.Now(),
	}
}

func criticalAlert(id string) model.Alert {
	return model.Alert{
		ID:        id,
		TankID:    "tank-1",
		Parameter: model.ParameterAmmonia,
		Severity:  model.AlertSeverityCritical,
		Message:   "Ammonia above maximum",
		CreatedAt: time.Now(),
	}
}

func TestDispatcher_DedupByID(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	alert := criticalAlert("tank-1:ammonia")
	d.Submit(ctx, []model.Alert{alert})
	d.Submit(ctx, []model.Alert{alert})

	assert.Equal(t, []string{"tank-1:ammonia"}, notifier.shownIDs())
}

func TestDispatcher_SeverityDescendingOrder(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	d.Submit(ctx, []model.Alert{
		warningAlert("tank-1:ph"),
		criticalAlert("tank-1:ammonia"),
	})

	ids := notifier.shownIDs()
	require.Len(t, ids, 2)
	assert.Equal(t, "tank-1:ammonia", ids[0], "critical must be notified first")
	assert.Equal(t, "tank-1:ph", ids[1])
}

func TestDispatcher_CooldownSuppressesWarnings(t *testing.T) {
	d, notifier, now := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	d.Submit(ctx, []model.Alert{warningAlert("tank-1:ph")})
	require.Len(t, notifier.shownIDs(), 1)

	// Second warning inside the cooldown: deferred.
	*now = now.Add(time.Minute)
	second := warningAlert("tank-1:temperature")
	second.Parameter = model.ParameterTemperature
	d.Submit(ctx, []model.Alert{second})
	assert.Len(t, notifier.shownIDs(), 1)

	// A critical in the same window is notified regardless.
	*now = now.Add(time.Minute)
	d.Submit(ctx, []model.Alert{criticalAlert("tank-1:ammonia")})
	assert.Len(t, notifier.shownIDs(), 2)

	// Once the cooldown elapses the deferred warning goes out on the next
	// batch.
	*now = now.Add(DefaultConfig().Cooldown + time.Second)
	d.Submit(ctx, []model.Alert{second})
	assert.Len(t, notifier.shownIDs(), 3)
}

func TestDispatcher_NotifierFailureDoesNotStopBatch(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	notifier.fail = errors.New("permission denied")
	d.Submit(ctx, []model.Alert{criticalAlert("tank-1:ammonia")})
	assert.Empty(t, notifier.shownIDs())

	// The failed ID was not recorded, so the next submission re-attempts.
	notifier.fail = nil
	d.Submit(ctx, []model.Alert{criticalAlert("tank-1:ammonia")})
	assert.Equal(t, []string{"tank-1:ammonia"}, notifier.shownIDs())
}

func TestDispatcher_Resolve(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	alert := criticalAlert("tank-1:ammonia")
	d.Submit(ctx, []model.Alert{alert})
	assert.Equal(t, model.AlertSeverityCritical, d.CurrentSeverity("tank-1", model.ParameterAmmonia))

	d.Resolve(ctx, "tank-1", model.ParameterAmmonia)
	assert.Equal(t, []string{"tank-1/ammonia"}, notifier.cleared)
	assert.Equal(t, model.AlertSeverityInfo, d.CurrentSeverity("tank-1", model.ParameterAmmonia))

	// The ID was evicted, so a recurrence notifies again.
	d.Submit(ctx, []model.Alert{alert})
	assert.Len(t, notifier.shownIDs(), 2)

	// Resolving a parameter that was never alerted is a no-op.
	d.Resolve(ctx, "tank-1", model.ParameterTurbidity)
	assert.Len(t, notifier.cleared, 1)
}

func TestDispatcher_Reset(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	d.Submit(ctx, []model.Alert{criticalAlert("tank-1:ammonia")})
	d.Reset()

	assert.Equal(t, model.AlertSeverityInfo, d.CurrentSeverity("tank-1", model.ParameterAmmonia))

	d.Submit(ctx, []model.Alert{criticalAlert("tank-1:ammonia")})
	assert.Len(t, notifier.shownIDs(), 2)
}

func TestDispatcher_DedupCapacityEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupCapacity = 2
	d, notifier, _ := newTestDispatcher(t, cfg)
	ctx := context.Background()

	a := criticalAlert("tank-1:a")
	b := criticalAlert("tank-1:b")
	c := criticalAlert("tank-1:c")

	d.Submit(ctx, []model.Alert{a})
	d.Submit(ctx, []model.Alert{b})
	d.Submit(ctx, []model.Alert{c}) // evicts a, oldest first

	// a was evicted, so it can be notified again; c is still deduped.
	d.Submit(ctx, []model.Alert{a})
	d.Submit(ctx, []model.Alert{c})
	assert.Equal(t, []string{"tank-1:a", "tank-1:b", "tank-1:c", "tank-1:a"}, notifier.shownIDs())
}

func TestDispatcher_ClearTank(t *testing.T) {
	d, notifier, _ := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	d.Submit(ctx, []model.Alert{criticalAlert("tank-1:ammonia")})
	d.ClearTank(ctx, "tank-1")

	assert.Contains(t, notifier.cleared, "tank-1/all")
	assert.Equal(t, model.AlertSeverityInfo, d.CurrentSeverity("tank-1", model.ParameterAmmonia))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Cooldown = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.DedupCapacity = 0
	assert.Error(t, bad.Validate())
}
