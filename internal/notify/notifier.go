// Package notify defines the operator notification boundary and its
// implementations.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

// Notifier is the external notification surface. Implementations may fail
// with permission or availability errors; callers must tolerate that.
type Notifier interface {
	// Show surfaces an alert to the operator.
	Show(ctx context.Context, alert model.Alert) error

	// Clear removes the notification slot for one parameter of a tank.
	Clear(ctx context.Context, tankID string, parameter model.Parameter) error

	// ClearAll removes every notification for a tank.
	ClearAll(ctx context.Context, tankID string) error
}

// LogNotifier writes notifications to the log. Used in development and as
// a fallback when no transport is wired.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Show implements Notifier.
func (n *LogNotifier) Show(_ context.Context, alert model.Alert) error {
	n.logger.Warn("ALERT",
		zap.String("tank_id", alert.TankID),
		zap.String("parameter", string(alert.Parameter)),
		zap.String("severity", alert.Severity.String()),
		zap.String("message", alert.Message))
	return nil
}

// Clear implements Notifier.
func (n *LogNotifier) Clear(_ context.Context, tankID string, parameter model.Parameter) error {
	n.logger.Info("Alert cleared",
		zap.String("tank_id", tankID),
		zap.String("parameter", string(parameter)))
	return nil
}

// ClearAll implements Notifier.
func (n *LogNotifier) ClearAll(_ context.Context, tankID string) error {
	n.logger.Info("All alerts cleared", zap.String("tank_id", tankID))
	return nil
}
