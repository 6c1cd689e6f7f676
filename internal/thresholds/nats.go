package thresholds

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

const updateSubject = "thresholds.update.*"

// NATSStore layers live configuration updates over a MemoryStore. External
// configuration publishes full Thresholds records to
// thresholds.update.<tank>; invalid records are rejected and logged.
type NATSStore struct {
	*MemoryStore

	logger *zap.Logger
	sub    *nats.Subscription
}

// NewNATSStore creates the store and subscribes to updates.
func NewNATSStore(nc *nats.Conn, seed []model.Thresholds, logger *zap.Logger) (*NATSStore, error) {
	mem, err := NewMemoryStore(seed, logger)
	if err != nil {
		return nil, err
	}

	s := &NATSStore{
		MemoryStore: mem,
		logger:      logger.Named("thresholds-nats"),
	}

	sub, err := nc.Subscribe(updateSubject, func(msg *nats.Msg) {
		var t model.Thresholds
		if err := json.Unmarshal(msg.Data, &t); err != nil {
			s.logger.Error("Failed to unmarshal thresholds update", zap.Error(err))
			return
		}
		if err := s.Set(t); err != nil {
			// Previous thresholds stay in effect.
			return
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to thresholds updates: %w", err)
	}
	s.sub = sub

	return s, nil
}

// Close stops consuming updates.
func (s *NATSStore) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}
