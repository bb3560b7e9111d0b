package event

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/corallum/flowengine/flow/event"

// OTelBridge mirrors bus events into OpenTelemetry spans, one span per
// event, so workflow lifecycles show up in whatever trace backend the
// host process has configured.
//
// Register it on a Bus:
//
//	bus.Subscribe(event.All, event.NewOTelBridge(nil).Handle)
type OTelBridge struct {
	tracer trace.Tracer
}

// NewOTelBridge creates a bridge using tp, or the globally registered
// tracer provider when tp is nil.
func NewOTelBridge(tp trace.TracerProvider) *OTelBridge {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelBridge{tracer: tp.Tracer(tracerName)}
}

// Handle records one event as a zero-duration span carrying the event
// fields as attributes. Failure events are marked with error status.
func (b *OTelBridge) Handle(e Event) {
	attrs := []attribute.KeyValue{
		attribute.String("flow.event", e.Name),
	}
	if e.ExecutionID != "" {
		attrs = append(attrs, attribute.String("flow.execution_id", e.ExecutionID))
	}
	if e.WorkflowID != "" {
		attrs = append(attrs, attribute.String("flow.workflow_id", e.WorkflowID))
	}
	if e.NodeID != "" {
		attrs = append(attrs, attribute.String("flow.node_id", e.NodeID))
	}
	if msg, ok := e.Data["error"].(string); ok && msg != "" {
		attrs = append(attrs, attribute.String("flow.error", msg))
	}

	_, span := b.tracer.Start(context.Background(), e.Name,
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(attrs...),
	)
	if e.Name == ExecutionFailed || e.Name == NodeError {
		span.SetStatus(codes.Error, e.Name)
	}
	span.End(trace.WithTimestamp(e.Time))
}
