package flow

import (
	"context"
	"sort"
	"sync"
)

// NodeContext carries everything an executor needs for one invocation:
// the node's declared parameters plus the outputs accumulated from
// upstream node executions. Each invocation receives its own context;
// executors share no mutable state through the registry.
type NodeContext struct {
	// ExecutionID identifies the owning execution. Empty for ad hoc
	// single-node runs via Registry.Execute.
	ExecutionID string

	// WorkflowID identifies the owning workflow, if any.
	WorkflowID string

	// NodeID is the declared node ID, empty for ad hoc runs.
	NodeID string

	// NodeType is the registry type being executed.
	NodeType string

	// Parameters is the node's declared parameter data.
	Parameters map[string]any

	// Input is the merged output of upstream node executions. For
	// nodes with no upstream it carries the trigger data.
	Input map[string]any

	// Trigger is the execution's original trigger data.
	Trigger map[string]any
}

// Executor is the capability behind a node type. Implementations must
// be safe for concurrent use: one registry entry serves every
// execution.
type Executor interface {
	// Execute runs the node's logic and returns its output data.
	// Errors are classified by the reliability manager as retryable or
	// fatal; executors should respect ctx cancellation and deadlines.
	Execute(ctx context.Context, nc NodeContext) (map[string]any, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, nc NodeContext) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, nc NodeContext) (map[string]any, error) {
	return f(ctx, nc)
}

// Descriptor describes a registered node type for outward listing.
type Descriptor struct {
	Type        string `json:"type"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
}

// Describer is implemented by executors that advertise display
// metadata. Executors without it are listed with the bare type key.
type Describer interface {
	Describe() Descriptor
}

// Registry is the capability-dispatch table mapping a node's declared
// type to its executor. It owns no workflow state.
//
// Registration is last-wins: registering the same type twice replaces
// the previous executor, and subsequent Resolve calls return the
// latest.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds typ to ex, replacing any previous registration for
// the same type. Empty types and nil executors are rejected.
func (r *Registry) Register(typ string, ex Executor) error {
	if typ == "" {
		return &ValidationError{Issues: []string{"executor type cannot be empty"}}
	}
	if ex == nil {
		return &ValidationError{Issues: []string{"executor cannot be nil"}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[typ] = ex
	return nil
}

// Resolve returns the executor for typ, or *NodeNotFoundError when the
// type has never been registered.
func (r *Registry) Resolve(typ string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ex, ok := r.executors[typ]
	if !ok {
		return nil, &NodeNotFoundError{NodeType: typ}
	}
	return ex, nil
}

// IsSupported reports whether typ has a registered executor.
func (r *Registry) IsSupported(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[typ]
	return ok
}

// Types lists the registered node types, sorted by type key. Executors
// implementing Describer contribute their display metadata.
func (r *Registry) Types() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.executors))
	for typ, ex := range r.executors {
		if d, ok := ex.(Describer); ok {
			desc := d.Describe()
			desc.Type = typ
			descs = append(descs, desc)
			continue
		}
		descs = append(descs, Descriptor{Type: typ})
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Type < descs[j].Type })
	return descs
}

// Execute runs a single node type ad hoc with the given parameters,
// outside any workflow. Used by outer transport layers for one-off
// node testing.
func (r *Registry) Execute(ctx context.Context, typ string, params map[string]any) (map[string]any, error) {
	ex, err := r.Resolve(typ)
	if err != nil {
		return nil, err
	}
	return ex.Execute(ctx, NodeContext{
		NodeType:   typ,
		Parameters: params,
		Input:      map[string]any{},
	})
}
