// Package event provides the in-process publish/subscribe bus used to
// notify listeners of workflow lifecycle transitions.
package event

import (
	"log"
	"sync"
	"time"
)

// Lifecycle event names published by the orchestration engine.
const (
	WorkflowAnalysisStarted       = "workflowAnalysisStarted"
	WorkflowAnalysisCompleted     = "workflowAnalysisCompleted"
	WorkflowOptimizationStarted   = "workflowOptimizationStarted"
	WorkflowOptimizationCompleted = "workflowOptimizationCompleted"
	ExecutionStarted              = "executionStarted"
	ExecutionCompleted            = "executionCompleted"
	ExecutionFailed               = "executionFailed"
	ExecutionCancelled            = "executionCancelled"
	NodeExecutionStarted          = "nodeExecutionStarted"
	NodeExecutionCompleted        = "nodeExecutionCompleted"
	NodeError                     = "nodeError"
	NodeErrorHelp                 = "nodeErrorHelp"
)

// All subscribes to every event name when passed to Bus.Subscribe.
const All = "*"

// Event is one lifecycle notification.
type Event struct {
	// Name is the event name, one of the constants above.
	Name string `json:"name"`

	// ExecutionID identifies the owning execution, when applicable.
	ExecutionID string `json:"executionId,omitempty"`

	// WorkflowID identifies the owning workflow, when applicable.
	WorkflowID string `json:"workflowId,omitempty"`

	// NodeID identifies the node for per-node events.
	NodeID string `json:"nodeId,omitempty"`

	// Time is when the transition occurred.
	Time time.Time `json:"time"`

	// Data carries event-specific structured payload.
	Data map[string]any `json:"data,omitempty"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and should return quickly; anything slow
// belongs behind a channel.
type Handler func(Event)

// Subscription is the comparable handle returned by Subscribe, used to
// unsubscribe. Go functions are not comparable, so the handle stands
// in for handler identity.
type Subscription struct {
	name string
	id   uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// Bus is an in-process publish/subscribe bus keyed by event name.
//
// Delivery is synchronous and best-effort within the process: handlers
// for one event run in subscription order, a panicking handler is
// isolated and logged without preventing other handlers from running,
// and publishing never returns an error to the engine.
//
// External fan-out (message channels, websocket layers) is a handler
// registered on this bus, not a bus responsibility.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]entry
	logf     func(format string, args ...any)
}

// Option configures a Bus.
type Option func(*Bus)

// WithErrorLog sets the function used to report recovered handler
// panics. Default is log.Printf.
func WithErrorLog(logf func(format string, args ...any)) Option {
	return func(b *Bus) {
		if logf != nil {
			b.logf = logf
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]entry),
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for the named event (or every event when name
// is All) and returns the handle needed to unsubscribe.
func (b *Bus) Subscribe(name string, h Handler) *Subscription {
	if h == nil {
		return &Subscription{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[name] = append(b.handlers[name], entry{id: b.nextID, handler: h})
	return &Subscription{name: name, id: b.nextID}
}

// Unsubscribe removes the handler identified by sub. Unknown or
// already-removed subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.id == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[sub.name]
	for i, e := range entries {
		if e.id == sub.id {
			b.handlers[sub.name] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// Publish delivers e synchronously to every handler subscribed to
// e.Name, then to every All subscriber, in subscription order. A zero
// Time is filled with the current time.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	named := b.handlers[e.Name]
	wildcard := b.handlers[All]
	targets := make([]entry, 0, len(named)+len(wildcard))
	targets = append(targets, named...)
	targets = append(targets, wildcard...)
	b.mu.RUnlock()

	for _, t := range targets {
		b.deliver(t.handler, e)
	}
}

// deliver invokes one handler, isolating panics so a misbehaving
// listener cannot stall the engine or its peers.
func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logf("event: handler panic on %q: %v", e.Name, r)
		}
	}()
	h(e)
}
