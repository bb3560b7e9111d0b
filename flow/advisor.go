package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Analysis is the advisor's assessment of a workflow before it runs.
type Analysis struct {
	// NeedsOptimization reports whether the advisor recommends a
	// structural change before running.
	NeedsOptimization bool `json:"needsOptimization"`

	// Issues lists problems the advisor found.
	Issues []string `json:"issues,omitempty"`

	// Suggestions lists proposed improvements, actionable or not.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Remediation is the advisor's guidance for a node failure.
type Remediation struct {
	// Cause is the advisor's diagnosis of why the node failed.
	Cause string `json:"cause"`

	// Solution is the recommended fix.
	Solution string `json:"solution"`

	// Alternative is a fallback approach when the solution does not
	// apply, empty when the advisor has none.
	Alternative string `json:"alternative,omitempty"`
}

// Advisor provides AI-assisted workflow analysis, optimization, and
// error remediation.
//
// Advisors are strictly best-effort: every engine call site tolerates
// an error by degrading to the deterministic fallback, so an advisor
// outage can never abort or fail an execution. Implementations should
// honor ctx and return promptly on cancellation.
//
// The LLM-backed implementations live in the advisor subpackages; this
// package provides StaticAdvisor, the deterministic fallback.
type Advisor interface {
	// Analyze assesses the workflow and reports issues and suggestions.
	Analyze(ctx context.Context, wf *Workflow) (Analysis, error)

	// Optimize returns an improved copy of the workflow, or the input
	// unchanged when no improvement applies. Implementations must not
	// mutate wf.
	Optimize(ctx context.Context, wf *Workflow) (*Workflow, error)

	// HelpWithError diagnoses a node failure and proposes remediation.
	HelpWithError(ctx context.Context, node Node, execErr error) (Remediation, error)
}

// StaticAdvisor is the deterministic rule-based Advisor used when no
// AI provider is configured or when a provider call fails. It never
// returns an error and produces the same output for the same input.
type StaticAdvisor struct{}

// Analyze applies structural heuristics: disconnected nodes, missing
// triggers, and linear chains long enough to suggest fan-out.
func (StaticAdvisor) Analyze(_ context.Context, wf *Workflow) (Analysis, error) {
	var analysis Analysis

	if result := Validate(wf); !result.OK() {
		analysis.Issues = append(analysis.Issues, result.Issues...)
	}

	connected := make(map[string]bool, len(wf.Nodes))
	for _, e := range wf.Edges {
		connected[e.Source] = true
		connected[e.Target] = true
	}
	for _, n := range wf.Nodes {
		if len(wf.Nodes) > 1 && !connected[n.ID] {
			analysis.Issues = append(analysis.Issues,
				fmt.Sprintf("node %q is disconnected from the rest of the workflow", n.ID))
		}
	}

	hasTrigger := false
	for _, n := range wf.Nodes {
		if n.IsTrigger() {
			hasTrigger = true
			break
		}
	}
	if !hasTrigger {
		analysis.Suggestions = append(analysis.Suggestions,
			"add an explicit trigger node so the entry point is declared rather than inferred")
	}

	errorHandled := false
	for _, e := range wf.Edges {
		if e.IsError() {
			errorHandled = true
			break
		}
	}
	if !errorHandled && len(wf.Nodes) > 2 {
		analysis.Suggestions = append(analysis.Suggestions,
			"no error edges: terminal node failures will fail the whole execution")
	}

	analysis.NeedsOptimization = len(analysis.Issues) > 0
	return analysis, nil
}

// Optimize returns the workflow unchanged. The deterministic fallback
// never restructures a graph.
func (StaticAdvisor) Optimize(_ context.Context, wf *Workflow) (*Workflow, error) {
	return wf, nil
}

// HelpWithError maps the error taxonomy onto canned remediation
// guidance.
func (StaticAdvisor) HelpWithError(_ context.Context, node Node, execErr error) (Remediation, error) {
	rem := Remediation{
		Cause:    fmt.Sprintf("node %q (%s) failed: %v", node.ID, node.Type, execErr),
		Solution: "inspect the node parameters and the error message, then re-run the workflow",
	}

	var notFound *NodeNotFoundError
	if errors.As(execErr, &notFound) {
		rem.Solution = fmt.Sprintf("register an executor for type %q before running the workflow", notFound.NodeType)
		rem.Alternative = "change the node to a registered type"
		return rem, nil
	}

	var timeout *TimeoutError
	if errors.As(execErr, &timeout) {
		rem.Solution = fmt.Sprintf("raise the workflow timeout above %v or reduce the amount of work per run", timeout.Limit)
		rem.Alternative = "split the workflow into smaller workflows chained by triggers"
		return rem, nil
	}

	msg := strings.ToLower(execErr.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		rem.Solution = "increase the node timeout or check that the upstream service is responsive"
		rem.Alternative = "add a retry policy with a longer base delay"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		rem.Solution = "verify the target host is reachable and the URL or address parameter is correct"
		rem.Alternative = "route the failure through an error edge to a fallback node"
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "403") || strings.Contains(msg, "401"):
		rem.Solution = "check the credentials configured in the node parameters"
	}
	return rem, nil
}
