package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// HealthSnapshot is the periodic health publication for the monitoring
// process.
type HealthSnapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUUsage         float64   `json:"cpu_usage"`
	MemoryUsage      float64   `json:"memory_usage"`
	ReadingsObserved int64     `json:"readings_observed"`
	AlertsDispatched int64     `json:"alerts_dispatched"`
}

// HealthCollector observes the pipeline's own traffic (readings in, alerts
// out) alongside process cpu/memory and publishes a snapshot to
// metrics.system at a fixed interval.
type HealthCollector struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	interval time.Duration

	mu       sync.Mutex
	readings int64
	alerts   int64

	subs []*nats.Subscription
	stop chan struct{}
}

// NewHealthCollector creates a collector publishing every interval.
func NewHealthCollector(js nats.JetStreamContext, interval time.Duration, logger *zap.Logger) *HealthCollector {
	return &HealthCollector{
		logger:   logger.Named("health-collector"),
		js:       js,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start subscribes to the pipeline subjects and begins the publish loop.
func (c *HealthCollector) Start(ctx context.Context) error {
	if _, err := c.js.StreamInfo("METRICS"); err != nil {
		if err != nats.ErrStreamNotFound {
			return fmt.Errorf("failed to get stream info: %w", err)
		}
		if _, err := c.js.AddStream(&nats.StreamConfig{
			Name:     "METRICS",
			Subjects: []string{"metrics.>"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		}); err != nil {
			return fmt.Errorf("failed to create metrics stream: %w", err)
		}
	}

	readingSub, err := c.js.Subscribe("telemetry.reading.*", func(*nats.Msg) {
		c.mu.Lock()
		c.readings++
		c.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to readings: %w", err)
	}
	c.subs = append(c.subs, readingSub)

	alertSub, err := c.js.Subscribe("alert.notify.*", func(*nats.Msg) {
		c.mu.Lock()
		c.alerts++
		c.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to alerts: %w", err)
	}
	c.subs = append(c.subs, alertSub)

	go c.publishLoop(ctx)

	c.logger.Info("Health collector started", zap.Duration("interval", c.interval))
	return nil
}

// Stop halts collection.
func (c *HealthCollector) Stop() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	close(c.stop)
}

func (c *HealthCollector) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.publish()
		}
	}
}

func (c *HealthCollector) publish() {
	cpuPercent, err := cpu.Percent(time.Second, false)
	if err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
		return
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
		return
	}

	c.mu.Lock()
	snapshot := HealthSnapshot{
		Timestamp:        time.Now(),
		CPUUsage:         cpuPercent[0],
		MemoryUsage:      memInfo.UsedPercent,
		ReadingsObserved: c.readings,
		AlertsDispatched: c.alerts,
	}
	c.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		c.logger.Error("Failed to marshal health snapshot", zap.Error(err))
		return
	}

	if _, err := c.js.Publish("metrics.system", data); err != nil {
		c.logger.Error("Failed to publish health snapshot", zap.Error(err))
		return
	}

	c.logger.Debug("Health snapshot published",
		zap.Float64("cpu_usage", snapshot.CPUUsage),
		zap.Int64("readings", snapshot.ReadingsObserved),
		zap.Int64("alerts", snapshot.AlertsDispatched))
}
