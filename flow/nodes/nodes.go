// Package nodes provides the builtin node executors shipped with the
// engine: manual triggers, HTTP requests, data transforms and delays.
//
// Register all of them at once:
//
//	registry := flow.NewRegistry()
//	if err := nodes.RegisterBuiltins(registry); err != nil {
//	    log.Fatal(err)
//	}
package nodes

import "github.com/corallum/flowengine/flow"

// Builtin node type keys.
const (
	TypeManualTrigger = "trigger.manual"
	TypeHTTPRequest   = "http.request"
	TypeDataSet       = "data.set"
	TypeDelay         = "flow.delay"
)

// RegisterBuiltins registers every builtin executor on r.
func RegisterBuiltins(r *flow.Registry) error {
	builtins := map[string]flow.Executor{
		TypeManualTrigger: &ManualTrigger{},
		TypeHTTPRequest:   NewHTTPRequest(),
		TypeDataSet:       &DataSet{},
		TypeDelay:         &Delay{},
	}
	for typ, ex := range builtins {
		if err := r.Register(typ, ex); err != nil {
			return err
		}
	}
	return nil
}
