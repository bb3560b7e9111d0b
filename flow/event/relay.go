package event

import (
	"context"
	"log"
)

// Publisher is the external fan-out sink a Relay forwards to. The
// store package's Redis and in-memory implementations satisfy it.
type Publisher interface {
	PublishEvent(ctx context.Context, channel string, payload any) error
}

// Relay forwards bus events to an external Publisher, using the event
// name as the channel. This is how lifecycle events reach processes
// outside the engine (for example over Redis pub/sub).
type Relay struct {
	publisher Publisher
	logf      func(format string, args ...any)
}

// NewRelay creates a relay. logf reports publish failures and defaults
// to log.Printf; failures are logged, never propagated.
func NewRelay(p Publisher, logf func(format string, args ...any)) *Relay {
	if logf == nil {
		logf = log.Printf
	}
	return &Relay{publisher: p, logf: logf}
}

// Handle forwards one event. Register it on a Bus:
//
//	bus.Subscribe(event.All, relay.Handle)
func (r *Relay) Handle(e Event) {
	if err := r.publisher.PublishEvent(context.Background(), e.Name, e); err != nil {
		r.logf("event: failed to relay %q: %v", e.Name, err)
	}
}
