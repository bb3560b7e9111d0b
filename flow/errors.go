package flow

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a malformed workflow graph. It is fatal and
// raised before any Execution is created.
type ValidationError struct {
	// WorkflowID identifies the offending workflow.
	WorkflowID string

	// Issues lists every problem found, one human-readable entry each.
	Issues []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(e.Issues, "; "))
}

// NoEntryPointError indicates a workflow with no root node: every node
// has an incoming edge and none is typed as a trigger. Fatal.
type NoEntryPointError struct {
	WorkflowID string
}

// Error implements the error interface.
func (e *NoEntryPointError) Error() string {
	return fmt.Sprintf("workflow %s has no entry point: no trigger or root node", e.WorkflowID)
}

// NodeNotFoundError indicates a node whose type has no registered
// executor. Fatal: a missing type fails fast, never a silent no-op.
type NodeNotFoundError struct {
	// NodeID is the offending node, empty for ad hoc registry calls.
	NodeID string

	// NodeType is the unregistered type key.
	NodeType string
}

// Error implements the error interface.
func (e *NodeNotFoundError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s: no executor registered for type %q", e.NodeID, e.NodeType)
	}
	return fmt.Sprintf("no executor registered for type %q", e.NodeType)
}

// NodeExecutionError wraps a failure raised by a node executor. The
// reliability manager classifies it as retryable or fatal.
type NodeExecutionError struct {
	// NodeID identifies the failing node.
	NodeID string

	// NodeType is the failing node's registry type.
	NodeType string

	// Message is the human-readable failure description.
	Message string

	// Cause is the underlying executor error, if any.
	Cause error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s): %s", e.NodeID, e.NodeType, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// TimeoutError indicates the execution exceeded its workflow-level time
// budget. Fatal and non-retryable.
type TimeoutError struct {
	ExecutionID string
	Limit       time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s exceeded workflow timeout of %v", e.ExecutionID, e.Limit)
}

// AdvisorUnavailableError wraps an AI advisor failure. It is never
// fatal: the engine always degrades to the deterministic fallback.
type AdvisorUnavailableError struct {
	// Op is the advisor operation that failed: "analyze", "optimize"
	// or "help".
	Op string

	// Cause is the underlying provider or parse error.
	Cause error
}

// Error implements the error interface.
func (e *AdvisorUnavailableError) Error() string {
	return fmt.Sprintf("advisor %s unavailable: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AdvisorUnavailableError) Unwrap() error {
	return e.Cause
}
