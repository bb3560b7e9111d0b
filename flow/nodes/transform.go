package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/corallum/flowengine/flow"
)

// DataSet sets or overwrites fields on the data flowing through the
// workflow.
//
// Parameters:
//   - values: map of field name to value (required). Values may
//     reference upstream output fields with the "$input.field" syntax.
//   - keepInput: when true (default) the node's input is carried
//     through; when false the output contains only the set values.
type DataSet struct{}

// Describe implements flow.Describer.
func (*DataSet) Describe() flow.Descriptor {
	return flow.Descriptor{
		DisplayName: "Set Data",
		Description: "Sets fields on the data passed to downstream nodes.",
	}
}

// Execute implements flow.Executor.
func (*DataSet) Execute(_ context.Context, nc flow.NodeContext) (map[string]any, error) {
	values, ok := nc.Parameters["values"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("values parameter required (map)")
	}

	keepInput := true
	if keep, ok := nc.Parameters["keepInput"].(bool); ok {
		keepInput = keep
	}

	out := make(map[string]any, len(values)+len(nc.Input))
	if keepInput {
		for k, v := range nc.Input {
			out[k] = v
		}
	}
	for k, v := range values {
		out[k] = resolveRef(v, nc.Input)
	}
	return out, nil
}

// resolveRef substitutes "$input.field" string values with the named
// field from the node's input. Unresolvable references pass through
// unchanged.
func resolveRef(v any, input map[string]any) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "$input.") {
		return v
	}
	if resolved, ok := input[strings.TrimPrefix(s, "$input.")]; ok {
		return resolved
	}
	return v
}
