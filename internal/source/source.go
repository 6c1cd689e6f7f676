// Package source defines the inbound data streams a tank monitor consumes:
// water-quality readings and molt observations.
package source

import (
	"context"

	"github.com/aquamesh/tankguard/internal/model"
)

// TelemetrySource produces an unbounded sequence of readings for a tank.
// Delivery is best-effort; the channel carries latest-value semantics, so
// a slow consumer observes only the most recent reading, never a backlog.
type TelemetrySource interface {
	// SubscribeReadings starts delivery for a tank. The returned stop
	// function cancels the subscription and closes nothing the caller
	// still ranges over; the channel simply stops producing.
	SubscribeReadings(ctx context.Context, tankID string) (<-chan model.Reading, func(), error)
}

// MoltObservationSource produces molt detection events for a tank. Events
// are queued rather than overwritten: each one is consumed exactly once.
type MoltObservationSource interface {
	SubscribeEvents(ctx context.Context, tankID string) (<-chan model.MoltEvent, func(), error)
}

// offerLatest delivers v into a capacity-1 channel, replacing any value a
// slow consumer has not taken yet.
func offerLatest(ch chan model.Reading, v model.Reading) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
