package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corallum/flowengine/flow/event"
	"github.com/corallum/flowengine/flow/store"
)

// eventRecorder captures bus events for assertion.
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *eventRecorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// newTestEngine builds an engine with fast retries, a recorder on the
// bus, and a registry carrying the test node types.
func newTestEngine(t *testing.T, opts Options) (*Engine, *eventRecorder) {
	t.Helper()

	registry := NewRegistry()
	mustRegister := func(typ string, ex Executor) {
		if err := registry.Register(typ, ex); err != nil {
			t.Fatal(err)
		}
	}
	mustRegister("trigger.manual", ExecutorFunc(func(_ context.Context, nc NodeContext) (map[string]any, error) {
		return nc.Trigger, nil
	}))
	mustRegister("test.echo", ExecutorFunc(func(_ context.Context, nc NodeContext) (map[string]any, error) {
		out := map[string]any{"echoed": true}
		for k, v := range nc.Input {
			out[k] = v
		}
		return out, nil
	}))

	if opts.RetryPolicy.BaseDelay == 0 {
		opts.RetryPolicy = RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	}
	opts.Logf = t.Logf

	bus := event.NewBus(event.WithErrorLog(t.Logf))
	recorder := &eventRecorder{}
	bus.Subscribe(event.All, recorder.handle)

	return New(registry, store.NewMemStore[Execution](), bus, opts), recorder
}

func TestEngineExecutesLinearWorkflow(t *testing.T) {
	engine, recorder := newTestEngine(t, Options{})

	wf := &Workflow{
		ID: "wf-linear",
		Nodes: []Node{
			{ID: "t1", Type: "trigger.manual"},
			{ID: "a1", Type: "test.echo"},
		},
		Edges: []Edge{{ID: "e1", Source: "t1", Target: "a1"}},
	}

	ex, err := engine.Execute(context.Background(), wf, map[string]any{"input": "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ex.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (error %q)", ex.Status, ex.Error)
	}
	if ex.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}
	if len(ex.Nodes) != 2 {
		t.Fatalf("expected 2 node records, got %d", len(ex.Nodes))
	}
	if ex.Nodes[0].NodeID != "t1" || ex.Nodes[1].NodeID != "a1" {
		t.Errorf("unexpected dispatch order: %s, %s", ex.Nodes[0].NodeID, ex.Nodes[1].NodeID)
	}
	for _, rec := range ex.Nodes {
		if rec.Status != NodeSuccess {
			t.Errorf("node %s: expected success, got %s", rec.NodeID, rec.Status)
		}
		if rec.CompletedAt == nil {
			t.Errorf("node %s: missing completion timestamp", rec.NodeID)
		}
	}

	// Trigger data flows through to the leaf output.
	leaf, ok := ex.Result["a1"].(map[string]any)
	if !ok {
		t.Fatalf("expected a1 output in result, got %+v", ex.Result)
	}
	if leaf["input"] != "hello" {
		t.Errorf("trigger data did not flow through: %+v", leaf)
	}

	names := recorder.names()
	wantOrder := []string{
		event.WorkflowAnalysisStarted,
		event.WorkflowAnalysisCompleted,
		event.ExecutionStarted,
		event.NodeExecutionStarted,
		event.NodeExecutionCompleted,
		event.NodeExecutionStarted,
		event.NodeExecutionCompleted,
		event.ExecutionCompleted,
	}
	if len(names) != len(wantOrder) {
		t.Fatalf("expected %d events, got %v", len(wantOrder), names)
	}
	for i, want := range wantOrder {
		if names[i] != want {
			t.Errorf("event %d: expected %s, got %s", i, want, names[i])
		}
	}
}

func TestEngineStartExecutionRejectsInvalidWorkflow(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	var verr *ValidationError
	_, err := engine.StartExecution(context.Background(), &Workflow{
		ID:    "wf-bad",
		Nodes: []Node{{ID: "a", Type: "test.echo"}, {ID: "a", Type: "test.echo"}},
	}, nil)
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}

	var entryErr *NoEntryPointError
	_, err = engine.StartExecution(context.Background(), &Workflow{
		ID:    "wf-noentry",
		Nodes: []Node{{ID: "a", Type: "test.echo"}, {ID: "b", Type: "test.echo"}},
		Edges: []Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}, nil)
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected *NoEntryPointError, got %v", err)
	}

	var notFound *NodeNotFoundError
	_, err = engine.StartExecution(context.Background(), &Workflow{
		ID:    "wf-unknown",
		Nodes: []Node{{ID: "a", Type: "custom.unregistered"}},
	}, nil)
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *NodeNotFoundError, got %v", err)
	}
}

func TestEngineRetriesUntilExhaustion(t *testing.T) {
	engine, recorder := newTestEngine(t, Options{
		Classifier: func(error) bool { return true },
	})

	attempts := 0
	if err := engine.Registry().Register("test.failing", ExecutorFunc(
		func(context.Context, NodeContext) (map[string]any, error) {
			attempts++
			return nil, fmt.Errorf("boom %d", attempts)
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID:       "wf-retry",
		Nodes:    []Node{{ID: "t1", Type: "trigger.manual"}, {ID: "a1", Type: "test.failing"}},
		Edges:    []Edge{{ID: "e1", Source: "t1", Target: "a1"}},
		Settings: Settings{MaxRetries: 2},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ex.Status != StatusError {
		t.Fatalf("expected error status, got %s", ex.Status)
	}
	if !strings.Contains(ex.Error, "boom") {
		t.Errorf("expected failure message carried, got %q", ex.Error)
	}
	// Initial attempt plus two retries.
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	// One node record per attempt, plus the trigger.
	failing := 0
	for _, rec := range ex.Nodes {
		if rec.NodeID == "a1" {
			failing++
			if rec.Status != NodeError {
				t.Errorf("attempt record %s: expected error status, got %s", rec.ID, rec.Status)
			}
		}
	}
	if failing != 3 {
		t.Errorf("expected 3 a1 records, got %d", failing)
	}

	if got := recorder.count(event.NodeError); got != 3 {
		t.Errorf("expected 3 nodeError events, got %d", got)
	}
	if got := recorder.count(event.NodeErrorHelp); got != 3 {
		t.Errorf("expected remediation per failure, got %d", got)
	}
	if got := recorder.count(event.ExecutionFailed); got != 1 {
		t.Errorf("expected 1 executionFailed event, got %d", got)
	}
}

func TestEngineRetryThenSuccessResumesAtNode(t *testing.T) {
	engine, _ := newTestEngine(t, Options{
		Classifier: func(error) bool { return true },
	})

	triggerRuns := 0
	if err := engine.Registry().Register("trigger.counting", ExecutorFunc(
		func(_ context.Context, nc NodeContext) (map[string]any, error) {
			triggerRuns++
			return nc.Trigger, nil
		})); err != nil {
		t.Fatal(err)
	}

	attempts := 0
	if err := engine.Registry().Register("test.flaky", ExecutorFunc(
		func(context.Context, NodeContext) (map[string]any, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("transient failure")
			}
			return map[string]any{"attempts": attempts}, nil
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID:       "wf-flaky",
		Nodes:    []Node{{ID: "t1", Type: "trigger.counting"}, {ID: "a1", Type: "test.flaky"}},
		Edges:    []Edge{{ID: "e1", Source: "t1", Target: "a1"}},
		Settings: Settings{MaxRetries: 3},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}

	if ex.Status != StatusSuccess {
		t.Fatalf("expected success after retries, got %s (%s)", ex.Status, ex.Error)
	}
	// Resume is node-level: the trigger ran once, not per retry.
	if triggerRuns != 1 {
		t.Errorf("expected trigger to run once, ran %d times", triggerRuns)
	}
	if attempts != 3 {
		t.Errorf("expected 3 flaky attempts, got %d", attempts)
	}
}

func TestEngineFatalErrorSkipsRetry(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	attempts := 0
	if err := engine.Registry().Register("test.fatal", ExecutorFunc(
		func(context.Context, NodeContext) (map[string]any, error) {
			attempts++
			return nil, errors.New("cannot convert value: wrong type")
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID:       "wf-fatal",
		Nodes:    []Node{{ID: "a1", Type: "test.fatal"}},
		Settings: Settings{MaxRetries: 5},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != StatusError {
		t.Fatalf("expected error, got %s", ex.Status)
	}
	if attempts != 1 {
		t.Errorf("fatal error should not retry: %d attempts", attempts)
	}
}

func TestEngineErrorEdgeRouting(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	if err := engine.Registry().Register("test.fail", ExecutorFunc(
		func(context.Context, NodeContext) (map[string]any, error) {
			return nil, errors.New("deliberate failure")
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID: "wf-routing",
		Nodes: []Node{
			{ID: "t1", Type: "trigger.manual"},
			{ID: "risky", Type: "test.fail"},
			{ID: "happy", Type: "test.echo"},
			{ID: "fallback", Type: "test.echo"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "t1", Target: "risky"},
			{ID: "e2", Source: "risky", Target: "happy", Type: EdgeSuccess},
			{ID: "e3", Source: "risky", Target: "fallback", Type: EdgeError},
		},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}

	// The failure is absorbed by the error branch.
	if ex.Status != StatusSuccess {
		t.Fatalf("expected success via error branch, got %s (%s)", ex.Status, ex.Error)
	}

	ran := make(map[string]NodeStatus)
	for _, rec := range ex.Nodes {
		ran[rec.NodeID] = rec.Status
	}
	if ran["risky"] != NodeError {
		t.Errorf("expected risky to fail, got %s", ran["risky"])
	}
	if ran["fallback"] != NodeSuccess {
		t.Errorf("expected fallback to run, got %s", ran["fallback"])
	}
	// The skipped success branch gets no record at all.
	if _, ok := ran["happy"]; ok {
		t.Error("skipped node happy has an execution record")
	}
	if _, ok := ex.Result["happy"]; ok {
		t.Error("skipped node contributed to result")
	}
}

func TestEngineCancellation(t *testing.T) {
	engine, recorder := newTestEngine(t, Options{})

	started := make(chan struct{})
	release := make(chan struct{})
	if err := engine.Registry().Register("test.slow", ExecutorFunc(
		func(ctx context.Context, _ NodeContext) (map[string]any, error) {
			close(started)
			select {
			case <-release:
				return map[string]any{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID: "wf-cancel",
		Nodes: []Node{
			{ID: "slow", Type: "test.slow"},
			{ID: "after", Type: "test.echo"},
		},
		Edges: []Edge{{ID: "e1", Source: "slow", Target: "after"}},
	}

	id, err := engine.StartExecution(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if err := engine.Cancel(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	close(release)

	ex, err := engine.Wait(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", ex.Status, ex.Error)
	}

	// The node that was mid-flight finished; the downstream node never
	// started.
	for _, rec := range ex.Nodes {
		if rec.NodeID == "after" {
			t.Error("downstream node dispatched after cancellation")
		}
	}
	if recorder.count(event.ExecutionCancelled) != 1 {
		t.Error("expected executionCancelled event")
	}
}

func TestEngineCancelUnknownExecution(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})
	if err := engine.Cancel(context.Background(), "missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}

func TestEngineWorkflowTimeout(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	if err := engine.Registry().Register("test.hang", ExecutorFunc(
		func(ctx context.Context, _ NodeContext) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID:       "wf-timeout",
		Nodes:    []Node{{ID: "hang", Type: "test.hang"}},
		Settings: Settings{Timeout: 50 * time.Millisecond, MaxRetries: 10},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != StatusError {
		t.Fatalf("expected error, got %s", ex.Status)
	}
	if !strings.Contains(ex.Error, "exceeded workflow timeout") {
		t.Errorf("expected timeout in error, got %q", ex.Error)
	}
}

// failingAdvisor errors on every operation.
type failingAdvisor struct{}

func (failingAdvisor) Analyze(context.Context, *Workflow) (Analysis, error) {
	return Analysis{}, errors.New("advisor down")
}
func (failingAdvisor) Optimize(context.Context, *Workflow) (*Workflow, error) {
	return nil, errors.New("advisor down")
}
func (failingAdvisor) HelpWithError(context.Context, Node, error) (Remediation, error) {
	return Remediation{}, errors.New("advisor down")
}

func TestEngineFailingAdvisorDoesNotAbortRun(t *testing.T) {
	engine, recorder := newTestEngine(t, Options{Advisor: failingAdvisor{}})

	if err := engine.Registry().Register("test.fail", ExecutorFunc(
		func(context.Context, NodeContext) (map[string]any, error) {
			return nil, errors.New("deliberate failure")
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{
		ID: "wf-advisor-down",
		Nodes: []Node{
			{ID: "t1", Type: "trigger.manual"},
			{ID: "risky", Type: "test.fail"},
			{ID: "fallback", Type: "test.echo"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "t1", Target: "risky"},
			{ID: "e2", Source: "risky", Target: "fallback", Type: EdgeError},
		},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != StatusSuccess {
		t.Fatalf("advisor outage affected the run: %s (%s)", ex.Status, ex.Error)
	}

	// The deterministic fallback still produced remediation.
	if recorder.count(event.NodeErrorHelp) != 1 {
		t.Error("expected fallback remediation event")
	}
	if recorder.count(event.WorkflowAnalysisCompleted) != 1 {
		t.Error("expected analysis completion despite advisor outage")
	}
}

// optimizingAdvisor flags every workflow and rewires it to drop the
// node named "redundant".
type optimizingAdvisor struct{}

func (optimizingAdvisor) Analyze(context.Context, *Workflow) (Analysis, error) {
	return Analysis{NeedsOptimization: true, Issues: []string{"redundant node"}}, nil
}

func (optimizingAdvisor) Optimize(_ context.Context, wf *Workflow) (*Workflow, error) {
	optimized, err := wf.Clone()
	if err != nil {
		return nil, err
	}
	var nodes []Node
	for _, n := range optimized.Nodes {
		if n.ID != "redundant" {
			nodes = append(nodes, n)
		}
	}
	var edges []Edge
	for _, e := range optimized.Edges {
		if e.Source != "redundant" && e.Target != "redundant" {
			edges = append(edges, e)
		}
	}
	optimized.Nodes = nodes
	optimized.Edges = edges
	return optimized, nil
}

func (optimizingAdvisor) HelpWithError(context.Context, Node, error) (Remediation, error) {
	return Remediation{}, errors.New("not used")
}

func TestEngineAppliesValidOptimization(t *testing.T) {
	engine, recorder := newTestEngine(t, Options{Advisor: optimizingAdvisor{}})

	wf := &Workflow{
		ID: "wf-optimize",
		Nodes: []Node{
			{ID: "t1", Type: "trigger.manual"},
			{ID: "redundant", Type: "test.echo"},
			{ID: "a1", Type: "test.echo"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "t1", Target: "redundant"},
			{ID: "e2", Source: "t1", Target: "a1"},
		},
	}

	ex, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%s)", ex.Status, ex.Error)
	}

	for _, rec := range ex.Nodes {
		if rec.NodeID == "redundant" {
			t.Error("optimized-away node was dispatched")
		}
	}
	if recorder.count(event.WorkflowOptimizationCompleted) != 1 {
		t.Error("expected optimization completion event")
	}

	// Copy-on-optimize: the caller's workflow is untouched.
	if len(wf.Nodes) != 3 {
		t.Errorf("submitted workflow mutated: %d nodes", len(wf.Nodes))
	}
}

func TestEngineListExecutions(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	wf := &Workflow{
		ID:    "wf-list",
		Nodes: []Node{{ID: "t1", Type: "trigger.manual"}},
	}

	for i := 0; i < 3; i++ {
		if _, err := engine.Execute(context.Background(), wf, nil); err != nil {
			t.Fatal(err)
		}
	}

	got := engine.ListExecutions(context.Background(), Filter{WorkflowID: "wf-list"})
	if len(got) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(got))
	}
	for _, ex := range got {
		if ex.Status != StatusSuccess {
			t.Errorf("execution %s: expected success, got %s", ex.ID, ex.Status)
		}
	}
}

func TestEngineGetExecutionDuringRun(t *testing.T) {
	engine, _ := newTestEngine(t, Options{})

	release := make(chan struct{})
	started := make(chan struct{})
	if err := engine.Registry().Register("test.slow", ExecutorFunc(
		func(ctx context.Context, _ NodeContext) (map[string]any, error) {
			close(started)
			select {
			case <-release:
				return map[string]any{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})); err != nil {
		t.Fatal(err)
	}

	wf := &Workflow{ID: "wf-live", Nodes: []Node{{ID: "slow", Type: "test.slow"}}}
	id, err := engine.StartExecution(context.Background(), wf, nil)
	if err != nil {
		t.Fatal(err)
	}

	<-started
	ex, err := engine.GetExecution(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if ex.Status != StatusRunning {
		t.Errorf("expected running mid-flight, got %s", ex.Status)
	}

	close(release)
	final, err := engine.Wait(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != StatusSuccess {
		t.Errorf("expected success, got %s", final.Status)
	}
}
