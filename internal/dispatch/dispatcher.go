// Package dispatch forwards alerts to a notifier with deduplication and
// cooldown throttling. Critical alerts always pass; everything else is
// rate-limited so an unstable sensor cannot flood the operator.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
	"github.com/aquamesh/tankguard/internal/notify"
)

// Config holds dispatcher tuning.
type Config struct {
	// Cooldown is the minimum time between two non-critical notifications.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// DedupCapacity bounds the notified-set; the oldest entries are evicted
	// first once it is full.
	DedupCapacity int `mapstructure:"dedup_capacity"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Cooldown:      5 * time.Minute,
		DedupCapacity: 256,
	}
}

// Validate fails fast on unusable tuning.
func (c Config) Validate() error {
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive")
	}
	if c.DedupCapacity <= 0 {
		return fmt.Errorf("dedup capacity must be positive")
	}
	return nil
}

// Dispatcher is the single consumer of evaluator and molt-risk alerts for
// a monitoring session. The notified-set and severity view are owned
// exclusively by it; callers interact only through the documented methods.
type Dispatcher struct {
	logger   *zap.Logger
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time

	mu            sync.Mutex
	notified      map[string]struct{}
	notifiedOrder []string
	lastNotified  time.Time
	severities    map[string]model.AlertSeverity // tankID:parameter → severity
}

// NewDispatcher creates a dispatcher forwarding to the given notifier.
func NewDispatcher(notifier notify.Notifier, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatch config: %w", err)
	}
	return &Dispatcher{
		logger:     logger.Named("dispatcher"),
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
		notified:   make(map[string]struct{}),
		severities: make(map[string]model.AlertSeverity),
	}, nil
}

// Submit processes one batch of alerts in severity-descending order.
// Already-notified IDs are skipped, critical alerts bypass the cooldown,
// and a notifier failure is logged without stopping the batch.
func (d *Dispatcher) Submit(ctx context.Context, alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}

	batch := make([]model.Alert, len(alerts))
	copy(batch, alerts)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Severity > batch[j].Severity
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, alert := range batch {
		if _, seen := d.notified[alert.ID]; seen {
			continue
		}

		now := d.now()
		if alert.Severity < model.AlertSeverityCritical &&
			!d.lastNotified.IsZero() && now.Sub(d.lastNotified) < d.cfg.Cooldown {
			// Deferred: the ID stays out of the notified-set, so the next
			// batch re-attempts naturally if the condition persists.
			d.logger.Debug("Alert deferred by cooldown",
				zap.String("alert_id", alert.ID),
				zap.String("severity", alert.Severity.String()))
			continue
		}

		if err := d.notifier.Show(ctx, alert); err != nil {
			d.logger.Error("Failed to dispatch alert",
				zap.String("alert_id", alert.ID),
				zap.String("severity", alert.Severity.String()),
				zap.Error(err))
			continue
		}

		d.remember(alert.ID)
		d.lastNotified = now
		d.severities[severityKey(alert.TankID, alert.Parameter)] = alert.Severity

		d.logger.Info("Alert dispatched",
			zap.String("alert_id", alert.ID),
			zap.String("tank_id", alert.TankID),
			zap.String("parameter", string(alert.Parameter)),
			zap.String("severity", alert.Severity.String()))
	}
}

// Resolve clears the notification slot for a parameter whose condition no
// longer holds and evicts its IDs from the notified-set.
func (d *Dispatcher) Resolve(ctx context.Context, tankID string, parameter model.Parameter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := severityKey(tankID, parameter)
	if _, alerted := d.severities[key]; !alerted {
		return
	}
	delete(d.severities, key)
	d.evictMatching(func(id string) bool {
		return id == key || strings.HasPrefix(id, key+":")
	})

	if err := d.notifier.Clear(ctx, tankID, parameter); err != nil {
		d.logger.Error("Failed to clear notification",
			zap.String("tank_id", tankID),
			zap.String("parameter", string(parameter)),
			zap.Error(err))
		return
	}

	d.logger.Info("Alert resolved",
		zap.String("tank_id", tankID),
		zap.String("parameter", string(parameter)))
}

// ClearTank clears every notification for a tank and drops its dedup state.
// Used when monitoring for the tank stops.
func (d *Dispatcher) ClearTank(ctx context.Context, tankID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.evictMatching(func(id string) bool {
		return strings.HasPrefix(id, tankID+":")
	})
	for key := range d.severities {
		if strings.HasPrefix(key, tankID+":") {
			delete(d.severities, key)
		}
	}

	if err := d.notifier.ClearAll(ctx, tankID); err != nil {
		d.logger.Error("Failed to clear tank notifications",
			zap.String("tank_id", tankID),
			zap.Error(err))
	}
}

// Reset drops all dedup and severity state.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.notified = make(map[string]struct{})
	d.notifiedOrder = d.notifiedOrder[:0]
	d.severities = make(map[string]model.AlertSeverity)
	d.lastNotified = time.Time{}
	d.logger.Info("Dispatcher state reset")
}

// CurrentSeverity returns the last notified, unresolved severity for a
// parameter. Info means nothing is currently alerted.
func (d *Dispatcher) CurrentSeverity(tankID string, parameter model.Parameter) model.AlertSeverity {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.severities[severityKey(tankID, parameter)]; ok {
		return s
	}
	return model.AlertSeverityInfo
}

// remember adds an ID to the bounded notified-set, evicting oldest first.
func (d *Dispatcher) remember(id string) {
	if len(d.notifiedOrder) >= d.cfg.DedupCapacity {
		oldest := d.notifiedOrder[0]
		d.notifiedOrder = d.notifiedOrder[1:]
		delete(d.notified, oldest)
	}
	d.notified[id] = struct{}{}
	d.notifiedOrder = append(d.notifiedOrder, id)
}

// evictMatching removes every notified ID the predicate selects.
func (d *Dispatcher) evictMatching(match func(string) bool) {
	kept := d.notifiedOrder[:0]
	for _, id := range d.notifiedOrder {
		if match(id) {
			delete(d.notified, id)
			continue
		}
		kept = append(kept, id)
	}
	d.notifiedOrder = kept
}

func severityKey(tankID string, parameter model.Parameter) string {
	return fmt.Sprintf("%s:%s", tankID, parameter)
}
