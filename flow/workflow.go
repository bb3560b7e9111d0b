// Package flow provides the workflow orchestration core: the graph model,
// node registry, execution ledger, reliability manager, and the engine
// that turns a declared workflow plus trigger input into an ordered
// sequence of node executions.
package flow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Workflow is a declarative directed acyclic graph of typed nodes.
//
// A Workflow is immutable once an Execution references it: the engine
// never mutates a submitted workflow, and advisor optimization operates
// on a run-local copy (copy-on-optimize).
type Workflow struct {
	// ID uniquely identifies the workflow.
	ID string `json:"id"`

	// Name is the human-readable workflow name.
	Name string `json:"name,omitempty"`

	// Nodes are the typed units of work. Node IDs must be unique.
	Nodes []Node `json:"nodes"`

	// Edges are the directed relationships establishing execution order.
	// Every source/target must reference an existing node ID.
	Edges []Edge `json:"edges,omitempty"`

	// Settings carries per-workflow execution policy.
	Settings Settings `json:"settings,omitempty"`
}

// Settings configures execution policy for a single workflow.
//
// Zero values fall back to the engine defaults.
type Settings struct {
	// Timeout bounds the total run duration. Exceeding it is a fatal,
	// non-retryable error. Zero means no workflow-level limit.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries caps retry attempts per execution. Zero uses the
	// engine default.
	MaxRetries int `json:"maxRetries,omitempty"`

	// RetryPolicy overrides the engine backoff bounds when non-nil.
	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty"`
}

// Node is a typed unit of work within a Workflow.
type Node struct {
	// ID is unique within the workflow.
	ID string `json:"id"`

	// Type is the key into the node registry (e.g. "trigger.manual",
	// "http.request").
	Type string `json:"type"`

	// DisplayName is the editor-facing label.
	DisplayName string `json:"displayName,omitempty"`

	// Parameters is opaque structured data handed to the executor.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// IsTrigger reports whether the node is explicitly typed as a trigger.
// Trigger types use the "trigger." prefix by convention.
func (n Node) IsTrigger() bool {
	return strings.HasPrefix(n.Type, "trigger.")
}

// Edge type values. An empty type is treated as an unconditional
// success edge.
const (
	// EdgeSuccess routes control flow when the source node succeeds.
	EdgeSuccess = "success"

	// EdgeError routes control flow when the source node fails
	// terminally, absorbing the failure into the error branch.
	EdgeError = "error"
)

// Edge is a directed relationship between two nodes.
type Edge struct {
	// ID uniquely identifies the edge within the workflow.
	ID string `json:"id"`

	// Source is the node ID control flow leaves from.
	Source string `json:"source"`

	// Target is the node ID control flow arrives at.
	Target string `json:"target"`

	// Type selects when the edge is taken: EdgeSuccess (or empty) on
	// source success, EdgeError on terminal source failure.
	Type string `json:"type,omitempty"`
}

// IsError reports whether the edge routes the error branch.
func (e Edge) IsError() bool {
	return e.Type == EdgeError
}

// Clone returns a deep copy of the workflow via a JSON round-trip.
//
// Used for copy-on-optimize: the advisor's optimized graph replaces the
// original for one run only, so the engine always works on a copy.
func (w *Workflow) Clone() (*Workflow, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}
	var copied Workflow
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &copied, nil
}

// node looks up a node by ID. Second return is false when absent.
func (w *Workflow) node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
