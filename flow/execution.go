package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an Execution.
type Status string

// Execution status values.
//
// The state machine is pending → running → {success | error | cancelled},
// with retrying entered only via the reliability manager and always
// returning to running or terminating. Terminal states are final.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// statusTransitions is the set of permitted transitions. Anything not
// listed is rejected, which enforces monotonicity as a precondition
// rather than a convention.
var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusRunning, StatusError, StatusCancelled},
	StatusRunning:  {StatusSuccess, StatusError, StatusCancelled, StatusRetrying},
	StatusRetrying: {StatusRunning, StatusError, StatusCancelled},
}

// canTransition reports whether from → to is a permitted transition.
func canTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NodeStatus is the lifecycle state of a single NodeExecution.
type NodeStatus string

// NodeExecution status values.
const (
	NodePending NodeStatus = "pending"
	NodeSuccess NodeStatus = "success"
	NodeError   NodeStatus = "error"
)

// Execution is one run of a Workflow: the top-level state-machine
// record. It is created when orchestration begins and mutated only by
// the engine; once a terminal status is reached no further mutation is
// permitted.
type Execution struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflowId"`
	Status      Status          `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	TriggerData map[string]any  `json:"triggerData,omitempty"`
	Context     map[string]any  `json:"context,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Nodes       []NodeExecution `json:"nodes"`
}

// NodeExecution records one node's execution within an Execution.
// Records are appended in dispatch order and never reordered or
// removed; a retried node appends a fresh record per attempt.
type NodeExecution struct {
	ID          string         `json:"id"`
	NodeID      string         `json:"nodeId"`
	NodeType    string         `json:"nodeType"`
	Status      NodeStatus     `json:"status"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	InputData   map[string]any `json:"inputData,omitempty"`
	OutputData  map[string]any `json:"outputData,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// newExecution creates a pending Execution for one run of wf.
func newExecution(wf *Workflow, trigger map[string]any) *Execution {
	return &Execution{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		Status:      StatusPending,
		StartedAt:   time.Now(),
		TriggerData: trigger,
		Context:     map[string]any{"workflowName": wf.Name},
		Nodes:       []NodeExecution{},
	}
}

// transition moves the execution to a new status, enforcing the state
// machine. Returns an error when the transition is not permitted, in
// particular for any transition out of a terminal state.
func (ex *Execution) transition(to Status) error {
	if !canTransition(ex.Status, to) {
		return fmt.Errorf("illegal execution transition %s → %s (execution %s)", ex.Status, to, ex.ID)
	}
	ex.Status = to
	return nil
}

// Clone returns a deep copy of the execution via a JSON round-trip, so
// callers never observe engine-internal mutation.
func (ex *Execution) Clone() Execution {
	data, err := json.Marshal(ex)
	if err != nil {
		// Executions hold only JSON-serializable data by construction.
		return *ex
	}
	var copied Execution
	if err := json.Unmarshal(data, &copied); err != nil {
		return *ex
	}
	return copied
}
