package thresholds

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
	"github.com/aquamesh/tankguard/internal/testutil"
)

func seedThresholds() []model.Thresholds {
	return []model.Thresholds{{
		TankID: "tank-1",
		Limits: map[model.Parameter]model.Limit{
			model.ParameterPH:      {Min: model.Float(7.0), Max: model.Float(8.5)},
			model.ParameterAmmonia: {Max: model.Float(0.5)},
		},
	}}
}

func TestMemoryStore_Current(t *testing.T) {
	store, err := NewMemoryStore(seedThresholds(), zap.NewNop())
	require.NoError(t, err)

	current, err := store.Current("tank-1")
	require.NoError(t, err)
	assert.Equal(t, "tank-1", current.TankID)

	_, err = store.Current("tank-9")
	assert.Error(t, err)
}

func TestMemoryStore_RejectsInvalidSeed(t *testing.T) {
	bad := []model.Thresholds{{
		TankID: "tank-1",
		Limits: map[model.Parameter]model.Limit{
			model.ParameterPH: {Min: model.Float(9.0), Max: model.Float(7.0)},
		},
	}}

	_, err := NewMemoryStore(bad, zap.NewNop())
	assert.Error(t, err)
}

func TestMemoryStore_SetNotifiesWatchers(t *testing.T) {
	store, err := NewMemoryStore(seedThresholds(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, stop, err := store.Watch(ctx, "tank-1")
	require.NoError(t, err)
	defer stop()

	next := seedThresholds()[0]
	next.Limits[model.ParameterPH] = model.Limit{Min: model.Float(6.8), Max: model.Float(8.2)}
	require.NoError(t, store.Set(next))

	select {
	case got := <-updates:
		assert.Equal(t, 6.8, *got.Limits[model.ParameterPH].Min)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for thresholds update")
	}
}

func TestMemoryStore_SetRejectsInvalidKeepsPrevious(t *testing.T) {
	store, err := NewMemoryStore(seedThresholds(), zap.NewNop())
	require.NoError(t, err)

	bad := model.Thresholds{
		TankID: "tank-1",
		Limits: map[model.Parameter]model.Limit{
			model.ParameterPH: {Min: model.Float(9.0), Max: model.Float(7.0)},
		},
	}
	assert.Error(t, store.Set(bad))

	current, err := store.Current("tank-1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, *current.Limits[model.ParameterPH].Min)
}

func TestNATSStore_LiveUpdates(t *testing.T) {
	nc, _, cleanup := testutil.StartJetStream(t)
	defer cleanup()

	store, err := NewNATSStore(nc, seedThresholds(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, stop, err := store.Watch(ctx, "tank-1")
	require.NoError(t, err)
	defer stop()

	next := model.Thresholds{
		TankID: "tank-1",
		Limits: map[model.Parameter]model.Limit{
			model.ParameterAmmonia: {Max: model.Float(0.25)},
		},
	}
	data, err := json.Marshal(next)
	require.NoError(t, err)
	require.NoError(t, nc.Publish("thresholds.update.tank-1", data))

	select {
	case got := <-updates:
		assert.Equal(t, 0.25, *got.Limits[model.ParameterAmmonia].Max)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for live thresholds update")
	}

	current, err := store.Current("tank-1")
	require.NoError(t, err)
	assert.Equal(t, 0.25, *current.Limits[model.ParameterAmmonia].Max)
}
