package nodes

import (
	"context"

	"github.com/corallum/flowengine/flow"
)

// ManualTrigger is the entry-point executor for manually started
// workflows. It passes the trigger data through as its output, merged
// over any static parameters declared on the node, so downstream nodes
// see the run input as their own.
type ManualTrigger struct{}

// Describe implements flow.Describer.
func (*ManualTrigger) Describe() flow.Descriptor {
	return flow.Descriptor{
		DisplayName: "Manual Trigger",
		Description: "Starts the workflow with the data it was triggered with.",
	}
}

// Execute implements flow.Executor.
func (*ManualTrigger) Execute(_ context.Context, nc flow.NodeContext) (map[string]any, error) {
	out := make(map[string]any, len(nc.Parameters)+len(nc.Trigger))
	for k, v := range nc.Parameters {
		out[k] = v
	}
	for k, v := range nc.Trigger {
		out[k] = v
	}
	return out, nil
}
