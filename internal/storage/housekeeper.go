package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Housekeeper purges aged review entries on a cron schedule.
type Housekeeper struct {
	logger    *zap.Logger
	log       ReviewLog
	cron      *cron.Cron
	retention time.Duration
}

// cronLogger adapts zap.Logger to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// NewHousekeeper creates a housekeeper running the given cron expression
// (with seconds field), deleting entries older than retention.
func NewHousekeeper(log ReviewLog, expression string, retention time.Duration, logger *zap.Logger) (*Housekeeper, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}

	named := logger.Named("housekeeper")
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
	)

	h := &Housekeeper{
		logger:    named,
		log:       log,
		cron:      c,
		retention: retention,
	}

	if _, err := c.AddFunc(expression, h.purge); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	return h, nil
}

// Start begins the schedule.
func (h *Housekeeper) Start() {
	h.cron.Start()
	h.logger.Info("Housekeeper started", zap.Duration("retention", h.retention))
}

// Stop halts the schedule, waiting for a running purge to finish.
func (h *Housekeeper) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
}

func (h *Housekeeper) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-h.retention)
	if err := h.log.DeleteBefore(ctx, cutoff); err != nil {
		h.logger.Error("Review log purge failed", zap.Error(err))
	}
}
