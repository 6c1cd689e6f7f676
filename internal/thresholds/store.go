// Package thresholds exposes the current per-tank limits as a readable,
// possibly-changing value.
package thresholds

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aquamesh/tankguard/internal/model"
)

// Store provides the current thresholds for a tank and a way to observe
// configuration changes.
type Store interface {
	// Current returns the thresholds in effect for a tank.
	Current(tankID string) (model.Thresholds, error)

	// Watch delivers every subsequent thresholds change for a tank until
	// ctx is cancelled or stop is called.
	Watch(ctx context.Context, tankID string) (<-chan model.Thresholds, func(), error)
}

// MemoryStore is an in-process Store seeded from configuration. It is also
// the cache behind the NATS-backed store.
type MemoryStore struct {
	logger *zap.Logger

	mu       sync.RWMutex
	byTank   map[string]model.Thresholds
	watchers map[string][]chan model.Thresholds
	nextID   int
}

// NewMemoryStore creates a store holding the given seed thresholds.
// Invalid seeds are rejected outright; thresholds fail fast at
// configuration time, never at evaluation time.
func NewMemoryStore(seed []model.Thresholds, logger *zap.Logger) (*MemoryStore, error) {
	s := &MemoryStore{
		logger:   logger.Named("thresholds"),
		byTank:   make(map[string]model.Thresholds),
		watchers: make(map[string][]chan model.Thresholds),
	}
	for _, t := range seed {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("seed thresholds for %s: %w", t.TankID, err)
		}
		s.byTank[t.TankID] = t
	}
	return s, nil
}

// Current implements Store.
func (s *MemoryStore) Current(tankID string) (model.Thresholds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byTank[tankID]
	if !ok {
		return model.Thresholds{}, fmt.Errorf("no thresholds configured for tank %s", tankID)
	}
	return t, nil
}

// Set replaces the thresholds for a tank and notifies watchers. An invalid
// record is rejected and the previous one stays in effect.
func (s *MemoryStore) Set(t model.Thresholds) error {
	if err := t.Validate(); err != nil {
		s.logger.Warn("Rejected invalid thresholds update",
			zap.String("tank_id", t.TankID),
			zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.byTank[t.TankID] = t
	watchers := append([]chan model.Thresholds(nil), s.watchers[t.TankID]...)
	s.mu.Unlock()

	for _, ch := range watchers {
		// Replace-on-write: a slow watcher sees only the newest value.
		select {
		case ch <- t:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- t:
			default:
			}
		}
	}

	s.logger.Info("Thresholds updated", zap.String("tank_id", t.TankID))
	return nil
}

// Watch implements Store.
func (s *MemoryStore) Watch(ctx context.Context, tankID string) (<-chan model.Thresholds, func(), error) {
	ch := make(chan model.Thresholds, 1)

	s.mu.Lock()
	s.watchers[tankID] = append(s.watchers[tankID], ch)
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.watchers[tankID]
			for i, w := range list {
				if w == ch {
					s.watchers[tankID] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()

	return ch, stop, nil
}
