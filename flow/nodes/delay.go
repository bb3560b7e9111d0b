package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/corallum/flowengine/flow"
)

// Delay pauses the workflow for a fixed duration, passing its input
// through unchanged. Cancellation and the node timeout cut the wait
// short.
//
// Parameters:
//   - duration: wait duration as a Go duration string, e.g. "1.5s"
//     (required)
type Delay struct{}

// Describe implements flow.Describer.
func (*Delay) Describe() flow.Descriptor {
	return flow.Descriptor{
		DisplayName: "Delay",
		Description: "Waits for a fixed duration before continuing.",
	}
}

// Execute implements flow.Executor.
func (*Delay) Execute(ctx context.Context, nc flow.NodeContext) (map[string]any, error) {
	durStr, ok := nc.Parameters["duration"].(string)
	if !ok || durStr == "" {
		return nil, fmt.Errorf("duration parameter required (duration string)")
	}
	dur, err := time.ParseDuration(durStr)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", durStr, err)
	}
	if dur < 0 {
		return nil, fmt.Errorf("duration must not be negative")
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nc.Input, nil
}
