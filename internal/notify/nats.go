package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

const (
	alertStreamName = "ALERTS"
)

// NATSNotifier publishes alerts and clear instructions to JetStream.
// Subscribers (UI, notification tray bridges) consume the resulting feed:
// alert.notify.<severity>, alert.clear.<tank>.<parameter> and
// alert.clear.<tank>.all.
type NATSNotifier struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSNotifier creates the notifier and ensures the alert stream exists.
func NewNATSNotifier(js nats.JetStreamContext, logger *zap.Logger) (*NATSNotifier, error) {
	_, err := js.StreamInfo(alertStreamName)
	if err != nil {
		if err != nats.ErrStreamNotFound {
			return nil, fmt.Errorf("failed to get stream info: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{"alert.>"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create alert stream: %w", err)
		}
	}

	return &NATSNotifier{
		logger: logger.Named("nats-notifier"),
		js:     js,
	}, nil
}

// Show implements Notifier by publishing the alert to its severity subject.
func (n *NATSNotifier) Show(ctx context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	subject := fmt.Sprintf("alert.notify.%s", alert.Severity)
	if _, err := n.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	n.logger.Debug("Alert published",
		zap.String("subject", subject),
		zap.String("alert_id", alert.ID))
	return nil
}

// Clear implements Notifier.
func (n *NATSNotifier) Clear(ctx context.Context, tankID string, parameter model.Parameter) error {
	subject := fmt.Sprintf("alert.clear.%s.%s", tankID, parameter)
	if _, err := n.js.Publish(subject, nil, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish clear: %w", err)
	}
	return nil
}

// ClearAll implements Notifier.
func (n *NATSNotifier) ClearAll(ctx context.Context, tankID string) error {
	subject := fmt.Sprintf("alert.clear.%s.all", tankID)
	if _, err := n.js.Publish(subject, nil, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish clear-all: %w", err)
	}
	return nil
}
