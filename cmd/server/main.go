package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/dispatch"
	"github.com/aquamesh/tankguard/internal/model"
	"github.com/aquamesh/tankguard/internal/molt"
	"github.com/aquamesh/tankguard/internal/monitor"
	"github.com/aquamesh/tankguard/internal/notify"
	"github.com/aquamesh/tankguard/internal/source"
	"github.com/aquamesh/tankguard/internal/storage"
	"github.com/aquamesh/tankguard/internal/thresholds"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	setDefaults()
	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("No config file found, using defaults", zap.Error(err))
	}

	// Connect to NATS
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			// Stream termination means "no new data": monitors keep
			// serving the last known snapshots until reconnect.
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Review log storage and nightly purge
	reviewLog, err := storage.NewSQLiteReviewLog(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to open review log", zap.Error(err))
	}
	defer reviewLog.Close()

	housekeeper, err := storage.NewHousekeeper(
		reviewLog,
		viper.GetString("storage.purge_schedule"),
		viper.GetDuration("storage.retention"),
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create housekeeper", zap.Error(err))
	}
	housekeeper.Start()
	defer housekeeper.Stop()

	// Thresholds: seed from config, live updates over NATS
	seed, err := loadThresholds()
	if err != nil {
		logger.Fatal("Invalid thresholds configuration", zap.Error(err))
	}
	store, err := thresholds.NewNATSStore(nc, seed, logger)
	if err != nil {
		logger.Fatal("Failed to create thresholds store", zap.Error(err))
	}
	defer store.Close()

	// Alert pipeline
	notifier, err := notify.NewNATSNotifier(js, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}

	var dispatchCfg dispatch.Config
	if err := viper.UnmarshalKey("dispatch", &dispatchCfg); err != nil {
		logger.Fatal("Invalid dispatch configuration", zap.Error(err))
	}
	dispatcher, err := dispatch.NewDispatcher(notifier, dispatchCfg, logger)
	if err != nil {
		logger.Fatal("Failed to create dispatcher", zap.Error(err))
	}

	// Inbound streams
	src, err := source.NewNATSSource(js, logger)
	if err != nil {
		logger.Fatal("Failed to create source", zap.Error(err))
	}

	var moltCfg molt.Config
	if err := viper.UnmarshalKey("molt", &moltCfg); err != nil {
		logger.Fatal("Invalid molt configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One monitor per configured tank
	var wg sync.WaitGroup
	for _, tankID := range viper.GetStringSlice("tanks") {
		engine, err := molt.NewRiskEngine(tankID, moltCfg, reviewLog, logger)
		if err != nil {
			logger.Fatal("Failed to create risk engine",
				zap.String("tank_id", tankID),
				zap.Error(err))
		}

		m := monitor.NewTankMonitor(tankID, src, src, store, engine, dispatcher, logger)
		wg.Add(1)
		go func(tankID string) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil {
				logger.Error("Tank monitor exited",
					zap.String("tank_id", tankID),
					zap.Error(err))
			}
		}(tankID)
	}

	// Process health publication
	health := monitor.NewHealthCollector(js, viper.GetDuration("monitor.health_interval"), logger)
	if err := health.Start(ctx); err != nil {
		logger.Fatal("Failed to start health collector", zap.Error(err))
	}
	defer health.Stop()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All tank monitors stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("Shutdown timeout reached, some monitors may not have stopped")
	}

	logger.Info("Server shutting down gracefully")
}

func setDefaults() {
	viper.SetDefault("app.name", "tankguard")
	viper.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	viper.SetDefault("nats.max_reconnects", 10)
	viper.SetDefault("nats.reconnect_wait", 2*time.Second)
	viper.SetDefault("nats.connect_timeout", 5*time.Second)
	viper.SetDefault("tanks", []string{"tank-1"})
	viper.SetDefault("monitor.health_interval", 30*time.Second)

	viper.SetDefault("storage.path", "molt_review.db")
	viper.SetDefault("storage.retention", 30*24*time.Hour)
	viper.SetDefault("storage.purge_schedule", "0 0 3 * * *")

	moltCfg := molt.DefaultConfig()
	viper.SetDefault("molt.high_risk_window", moltCfg.HighRiskWindow)
	viper.SetDefault("molt.remaining_window", moltCfg.RemainingWindow)
	viper.SetDefault("molt.max_ecdysis_duration", moltCfg.MaxEcdysisDuration)
	viper.SetDefault("molt.min_confidence", moltCfg.MinConfidence)
	viper.SetDefault("molt.high_confidence", moltCfg.HighConfidence)
	viper.SetDefault("molt.standard_interval", moltCfg.StandardInterval)
	viper.SetDefault("molt.critical_interval", moltCfg.CriticalInterval)
	viper.SetDefault("molt.event_dedup_capacity", moltCfg.EventDedupCapacity)

	dispatchCfg := dispatch.DefaultConfig()
	viper.SetDefault("dispatch.cooldown", dispatchCfg.Cooldown)
	viper.SetDefault("dispatch.dedup_capacity", dispatchCfg.DedupCapacity)
}

// loadThresholds reads the per-tank limits from configuration. Every tank
// listed under "tanks" needs a thresholds entry; validation fails fast
// before any monitor starts.
func loadThresholds() ([]model.Thresholds, error) {
	raw := map[string]map[string]model.Limit{}
	if err := viper.UnmarshalKey("thresholds", &raw); err != nil {
		return nil, err
	}

	seed := make([]model.Thresholds, 0, len(raw))
	for tankID, limits := range raw {
		t := model.Thresholds{
			TankID: tankID,
			Limits: make(map[model.Parameter]model.Limit, len(limits)),
		}
		for name, limit := range limits {
			t.Limits[model.Parameter(name)] = limit
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		seed = append(seed, t)
	}
	return seed, nil
}
