package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

const (
	telemetryStreamName = "TELEMETRY"
	moltStreamName      = "MOLT"

	readingSubjectPrefix = "telemetry.reading."
	eventSubjectPrefix   = "molt.event."

	// eventBuffer bounds the in-flight molt events per tank. Detections
	// are sparse; this only absorbs bursts.
	eventBuffer = 16
)

// NATSSource implements both TelemetrySource and MoltObservationSource on
// JetStream subjects telemetry.reading.<tank> and molt.event.<tank>.
type NATSSource struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSSource creates the source and ensures its streams exist.
func NewNATSSource(js nats.JetStreamContext, logger *zap.Logger) (*NATSSource, error) {
	for name, subject := range map[string]string{
		telemetryStreamName: "telemetry.>",
		moltStreamName:      "molt.>",
	} {
		if err := ensureStream(js, name, subject); err != nil {
			return nil, err
		}
	}

	return &NATSSource{
		logger: logger.Named("source"),
		js:     js,
	}, nil
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info for %s: %w", name, err)
	}
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subject},
		Storage:  nats.FileStorage,
	}); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", name, err)
	}
	return nil
}

// SubscribeReadings implements TelemetrySource.
func (s *NATSSource) SubscribeReadings(ctx context.Context, tankID string) (<-chan model.Reading, func(), error) {
	ch := make(chan model.Reading, 1)

	sub, err := s.js.Subscribe(readingSubjectPrefix+tankID, func(msg *nats.Msg) {
		var reading model.Reading
		if err := json.Unmarshal(msg.Data, &reading); err != nil {
			s.logger.Error("Failed to unmarshal reading",
				zap.String("tank_id", tankID),
				zap.Error(err))
			return
		}
		offerLatest(ch, reading)
		msg.Ack()
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to readings: %w", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Warn("Failed to unsubscribe readings",
					zap.String("tank_id", tankID),
					zap.Error(err))
			}
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}

// SubscribeEvents implements MoltObservationSource.
func (s *NATSSource) SubscribeEvents(ctx context.Context, tankID string) (<-chan model.MoltEvent, func(), error) {
	ch := make(chan model.MoltEvent, eventBuffer)

	sub, err := s.js.Subscribe(eventSubjectPrefix+tankID, func(msg *nats.Msg) {
		var event model.MoltEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Error("Failed to unmarshal molt event",
				zap.String("tank_id", tankID),
				zap.Error(err))
			return
		}
		select {
		case ch <- event:
			msg.Ack()
		default:
			s.logger.Warn("Molt event buffer full, leaving for redelivery",
				zap.String("tank_id", tankID),
				zap.String("event_id", event.ID))
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to molt events: %w", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				s.logger.Warn("Failed to unsubscribe molt events",
					zap.String("tank_id", tankID),
					zap.Error(err))
			}
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}
