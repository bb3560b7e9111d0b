package event

import (
	"context"
	"errors"
	"testing"
)

type recordingPublisher struct {
	channels []string
	payloads []any
	err      error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, channel string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestRelayForwardsEvents(t *testing.T) {
	pub := &recordingPublisher{}
	bus := NewBus()
	bus.Subscribe(All, NewRelay(pub, nil).Handle)

	bus.Publish(Event{Name: ExecutionStarted, ExecutionID: "ex-1"})
	bus.Publish(Event{Name: NodeError, ExecutionID: "ex-1", NodeID: "a1"})

	if len(pub.channels) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.channels))
	}
	if pub.channels[0] != ExecutionStarted || pub.channels[1] != NodeError {
		t.Errorf("unexpected channels: %v", pub.channels)
	}

	forwarded, ok := pub.payloads[1].(Event)
	if !ok {
		t.Fatalf("payload is %T, want Event", pub.payloads[1])
	}
	if forwarded.NodeID != "a1" {
		t.Errorf("unexpected payload: %+v", forwarded)
	}
}

func TestRelayLogsFailures(t *testing.T) {
	var logged int
	relay := NewRelay(&recordingPublisher{err: errors.New("redis down")},
		func(string, ...any) { logged++ })

	relay.Handle(Event{Name: ExecutionStarted})

	if logged != 1 {
		t.Errorf("expected 1 logged failure, got %d", logged)
	}
}
