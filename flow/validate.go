package flow

import "fmt"

// ValidationResult is the outcome of validating a workflow graph.
type ValidationResult struct {
	// WorkflowID identifies the validated workflow.
	WorkflowID string

	// Issues lists every problem found. Empty means the graph is valid.
	Issues []string
}

// OK reports whether the workflow passed validation.
func (r ValidationResult) OK() bool {
	return len(r.Issues) == 0
}

// Err converts the result into the typed error taxonomy: nil for a
// valid graph, *NoEntryPointError when the only problem is a missing
// entry point, *ValidationError otherwise.
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	if len(r.Issues) == 1 && r.Issues[0] == issueNoEntryPoint {
		return &NoEntryPointError{WorkflowID: r.WorkflowID}
	}
	return &ValidationError{WorkflowID: r.WorkflowID, Issues: r.Issues}
}

const issueNoEntryPoint = "no entry point: every node has an incoming edge and none is a trigger"

// Validate checks a workflow graph for structural soundness:
//
//   - node IDs are present and unique
//   - node types are present
//   - every edge references existing nodes
//   - at least one root node exists
//   - the graph contains no cycle
//
// All problems are collected into a single result rather than failing
// on the first, so callers can surface the complete list.
func Validate(wf *Workflow) ValidationResult {
	result := ValidationResult{WorkflowID: wf.ID}

	if len(wf.Nodes) == 0 {
		result.Issues = append(result.Issues, "workflow has no nodes")
		return result
	}

	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		switch {
		case n.ID == "":
			result.Issues = append(result.Issues, "node with empty id")
		case seen[n.ID]:
			result.Issues = append(result.Issues, fmt.Sprintf("duplicate node id %q", n.ID))
		default:
			seen[n.ID] = true
		}
		if n.Type == "" {
			result.Issues = append(result.Issues, fmt.Sprintf("node %q has empty type", n.ID))
		}
	}

	for _, e := range wf.Edges {
		if !seen[e.Source] {
			result.Issues = append(result.Issues, fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if !seen[e.Target] {
			result.Issues = append(result.Issues, fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
		if e.Source == e.Target {
			result.Issues = append(result.Issues, fmt.Sprintf("edge %q is a self loop on node %q", e.ID, e.Source))
		}
	}

	// Structural issues make the remaining checks unreliable.
	if len(result.Issues) > 0 {
		return result
	}

	if len(RootNodes(wf)) == 0 {
		result.Issues = append(result.Issues, issueNoEntryPoint)
		return result
	}

	if _, err := TopologicalOrder(wf); err != nil {
		result.Issues = append(result.Issues, "workflow contains a cycle")
	}

	return result
}

// RootNodes returns the workflow's entry points: nodes with no incoming
// edge, plus nodes explicitly typed as triggers. Declaration order is
// preserved.
func RootNodes(wf *Workflow) []Node {
	incoming := make(map[string]int, len(wf.Nodes))
	for _, e := range wf.Edges {
		incoming[e.Target]++
	}

	var roots []Node
	for _, n := range wf.Nodes {
		if incoming[n.ID] == 0 || n.IsTrigger() {
			roots = append(roots, n)
		}
	}
	return roots
}

// TopologicalOrder computes a Kahn's-algorithm ordering of the
// workflow's nodes, starting from the root nodes and following outgoing
// edges breadth-first. The ordering is stable: ties are broken by node
// declaration order, so repeated calls on the same workflow yield the
// same sequence.
//
// Returns *NoEntryPointError when no node has zero in-degree, and a
// *ValidationError when a cycle prevents a complete ordering. The
// reference behavior of silently mis-ordering cyclic graphs is
// deliberately not preserved.
func TopologicalOrder(wf *Workflow) ([]Node, error) {
	indegree := make(map[string]int, len(wf.Nodes))
	for _, n := range wf.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		indegree[e.Target]++
	}

	// Seed the frontier with zero in-degree nodes in declaration order.
	var frontier []Node
	for _, n := range wf.Nodes {
		if indegree[n.ID] == 0 {
			frontier = append(frontier, n)
		}
	}
	if len(frontier) == 0 {
		return nil, &NoEntryPointError{WorkflowID: wf.ID}
	}

	order := make([]Node, 0, len(wf.Nodes))
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		order = append(order, current)

		// Release targets in edge declaration order for stable output.
		for _, e := range wf.Edges {
			if e.Source != current.ID {
				continue
			}
			indegree[e.Target]--
			if indegree[e.Target] == 0 {
				if target, ok := wf.node(e.Target); ok {
					frontier = append(frontier, target)
				}
			}
		}
	}

	if len(order) < len(wf.Nodes) {
		return nil, &ValidationError{
			WorkflowID: wf.ID,
			Issues:     []string{"workflow contains a cycle"},
		}
	}
	return order, nil
}
