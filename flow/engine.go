package flow

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/corallum/flowengine/flow/event"
	"github.com/corallum/flowengine/flow/store"
	"github.com/google/uuid"
)

// Default engine tuning, overridable through Options.
const (
	DefaultAdvisorTimeout = 30 * time.Second
	DefaultNodeTimeout    = 5 * time.Minute
)

// Options configures an Engine. The zero value is usable: no advisor
// (deterministic fallback only), no cache, default classifier and
// timeouts, no metrics.
type Options struct {
	// Advisor provides AI-assisted analysis, optimization and error
	// help. Nil means the deterministic StaticAdvisor is used directly.
	Advisor Advisor

	// Cache receives execution snapshots for fast status reads. Nil
	// disables caching.
	Cache store.Cache[Execution]

	// Classifier decides retryable vs fatal. Nil uses
	// DefaultClassifier.
	Classifier Classifier

	// Metrics instruments the engine. Nil disables instrumentation.
	Metrics *Metrics

	// MaxRetries caps retries per execution when the workflow settings
	// do not. Zero uses DefaultMaxRetries.
	MaxRetries int

	// RetryPolicy bounds backoff when the workflow settings do not.
	RetryPolicy RetryPolicy

	// AdvisorTimeout bounds each advisor call (default 30s).
	AdvisorTimeout time.Duration

	// NodeTimeout bounds each node attempt (default 5m).
	NodeTimeout time.Duration

	// CacheTTL is the execution cache lifetime (default per cache).
	CacheTTL time.Duration

	// Logf receives engine diagnostics. Default is log.Printf.
	Logf func(format string, args ...any)
}

// Engine orchestrates workflow executions: it validates the graph,
// runs the advisor phases, dispatches nodes in topological order with
// edge-type routing, drives retries through the reliability policy,
// and records every transition in the ledger and on the event bus.
//
// Each execution runs on its own goroutine; Engine methods are safe
// for concurrent use.
type Engine struct {
	registry   *Registry
	ledger     *Ledger
	bus        *event.Bus
	advisor    Advisor
	fallback   StaticAdvisor
	classifier Classifier
	metrics    *Metrics

	maxRetries     int
	retryPolicy    RetryPolicy
	advisorTimeout time.Duration
	nodeTimeout    time.Duration
	logf           func(format string, args ...any)

	mu   sync.Mutex
	runs map[string]*run
}

// run is the engine-internal handle for one in-flight execution.
type run struct {
	wf     *Workflow
	cancel chan struct{}
	done   chan struct{}

	cancelOnce sync.Once
}

// New creates an engine dispatching through registry, persisting to
// st, and publishing lifecycle events on bus.
func New(registry *Registry, st store.Store[Execution], bus *event.Bus, opts Options) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	logf := opts.Logf
	if logf == nil {
		logf = log.Printf
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = DefaultClassifier
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	advisorTimeout := opts.AdvisorTimeout
	if advisorTimeout <= 0 {
		advisorTimeout = DefaultAdvisorTimeout
	}
	nodeTimeout := opts.NodeTimeout
	if nodeTimeout <= 0 {
		nodeTimeout = DefaultNodeTimeout
	}

	return &Engine{
		registry:       registry,
		ledger:         NewLedger(st, opts.Cache, opts.CacheTTL, logf),
		bus:            bus,
		advisor:        opts.Advisor,
		classifier:     classifier,
		metrics:        opts.Metrics,
		maxRetries:     maxRetries,
		retryPolicy:    opts.RetryPolicy.withDefaults(),
		advisorTimeout: advisorTimeout,
		nodeTimeout:    nodeTimeout,
		logf:           logf,
		runs:           make(map[string]*run),
	}
}

// Registry returns the engine's node registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Bus returns the engine's event bus.
func (e *Engine) Bus() *event.Bus { return e.bus }

// StartExecution validates wf, creates a pending execution, and starts
// the run asynchronously. It returns the execution ID immediately;
// progress is observable through GetExecution, Wait and the event bus.
//
// Validation failures and unregistered node types are reported here,
// before any execution record exists.
func (e *Engine) StartExecution(ctx context.Context, wf *Workflow, trigger map[string]any) (string, error) {
	if err := Validate(wf).Err(); err != nil {
		return "", err
	}
	for _, n := range wf.Nodes {
		if !e.registry.IsSupported(n.Type) {
			return "", &NodeNotFoundError{NodeID: n.ID, NodeType: n.Type}
		}
	}

	// Run-local copy: the caller's workflow is never mutated and later
	// edits to it cannot affect this run.
	runWF, err := wf.Clone()
	if err != nil {
		return "", err
	}

	ex := newExecution(runWF, trigger)
	e.ledger.Add(ctx, ex)

	r := &run{
		wf:     runWF,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.mu.Lock()
	e.runs[ex.ID] = r
	e.mu.Unlock()

	go e.execute(ex.ID, r, trigger)
	return ex.ID, nil
}

// Execute runs wf synchronously: StartExecution followed by Wait.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, trigger map[string]any) (Execution, error) {
	id, err := e.StartExecution(ctx, wf, trigger)
	if err != nil {
		return Execution{}, err
	}
	return e.Wait(ctx, id)
}

// Wait blocks until the execution reaches a terminal state or ctx is
// done, then returns the final record.
func (e *Engine) Wait(ctx context.Context, id string) (Execution, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		// Not in flight: already terminal or unknown.
		return e.ledger.Get(ctx, id)
	}

	select {
	case <-r.done:
		return e.ledger.Get(ctx, id)
	case <-ctx.Done():
		return Execution{}, ctx.Err()
	}
}

// Cancel requests cooperative cancellation of an in-flight execution.
// The run stops at the next dispatch boundary or retry wait; nodes
// already running are allowed to finish. Cancelling an execution that
// is not in flight is a no-op for terminal runs and an error for
// unknown IDs.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		if _, err := e.ledger.Get(ctx, id); err != nil {
			return err
		}
		return nil
	}
	r.cancelOnce.Do(func() { close(r.cancel) })
	return nil
}

// GetExecution returns a copy of the execution record.
func (e *Engine) GetExecution(ctx context.Context, id string) (Execution, error) {
	return e.ledger.Get(ctx, id)
}

// ListExecutions returns execution records matching the filter,
// newest first.
func (e *Engine) ListExecutions(ctx context.Context, f Filter) []Execution {
	return e.ledger.List(ctx, f)
}

// execute drives one run to a terminal state. It owns the execution's
// goroutine and is the only writer of its status.
func (e *Engine) execute(id string, r *run, trigger map[string]any) {
	defer func() {
		e.mu.Lock()
		delete(e.runs, id)
		e.mu.Unlock()
		close(r.done)
	}()

	ctx := context.Background()
	if r.wf.Settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.wf.Settings.Timeout)
		defer cancel()
	}

	started := time.Now()

	// Advisor phases run while the execution is still pending, so a
	// slow advisor delays the run but the ID is already observable.
	wf := e.advisorPhase(ctx, id, r.wf)

	if err := e.ledger.Update(ctx, id, func(ex *Execution) error {
		return ex.transition(StatusRunning)
	}); err != nil {
		e.logf("engine: execution %s: %v", id, err)
		return
	}
	e.metrics.executionStarted()
	e.bus.Publish(event.Event{Name: event.ExecutionStarted, ExecutionID: id, WorkflowID: wf.ID})

	finalErr := e.runNodes(ctx, id, r, wf, trigger)

	e.finalize(ctx, id, wf.ID, finalErr, time.Since(started))
}

// advisorPhase runs analysis and, when recommended, optimization. The
// returned workflow is either the input or a validated optimized copy;
// advisor failures degrade to the deterministic fallback and never
// stop the run.
func (e *Engine) advisorPhase(ctx context.Context, id string, wf *Workflow) *Workflow {
	e.bus.Publish(event.Event{Name: event.WorkflowAnalysisStarted, ExecutionID: id, WorkflowID: wf.ID})

	analysis := e.analyze(ctx, wf)
	e.bus.Publish(event.Event{
		Name:        event.WorkflowAnalysisCompleted,
		ExecutionID: id,
		WorkflowID:  wf.ID,
		Data: map[string]any{
			"needsOptimization": analysis.NeedsOptimization,
			"issues":            analysis.Issues,
			"suggestions":       analysis.Suggestions,
		},
	})

	if !analysis.NeedsOptimization || e.advisor == nil {
		return wf
	}

	e.bus.Publish(event.Event{Name: event.WorkflowOptimizationStarted, ExecutionID: id, WorkflowID: wf.ID})
	optimized, applied := e.optimize(ctx, wf)
	e.bus.Publish(event.Event{
		Name:        event.WorkflowOptimizationCompleted,
		ExecutionID: id,
		WorkflowID:  wf.ID,
		Data:        map[string]any{"applied": applied},
	})
	return optimized
}

func (e *Engine) analyze(ctx context.Context, wf *Workflow) Analysis {
	if e.advisor != nil {
		actx, cancel := context.WithTimeout(ctx, e.advisorTimeout)
		analysis, err := e.advisor.Analyze(actx, wf)
		cancel()
		if err == nil {
			return analysis
		}
		e.logf("engine: advisor analyze failed, using fallback: %v", err)
	}
	analysis, _ := e.fallback.Analyze(ctx, wf)
	return analysis
}

// optimize asks the advisor for an improved graph and accepts it only
// when it still validates. Second return reports whether a change was
// applied.
func (e *Engine) optimize(ctx context.Context, wf *Workflow) (*Workflow, bool) {
	actx, cancel := context.WithTimeout(ctx, e.advisorTimeout)
	defer cancel()

	optimized, err := e.advisor.Optimize(actx, wf)
	if err != nil {
		e.logf("engine: advisor optimize failed, keeping original workflow: %v", err)
		return wf, false
	}
	if optimized == nil || optimized == wf {
		return wf, false
	}
	if verr := Validate(optimized).Err(); verr != nil {
		e.logf("engine: advisor produced invalid workflow, keeping original: %v", verr)
		return wf, false
	}
	for _, n := range optimized.Nodes {
		if !e.registry.IsSupported(n.Type) {
			e.logf("engine: advisor introduced unregistered node type %q, keeping original", n.Type)
			return wf, false
		}
	}
	return optimized, true
}

// runNodes dispatches the workflow's nodes in topological order with
// edge-type routing. A nil return means every activated node
// succeeded.
func (e *Engine) runNodes(ctx context.Context, id string, r *run, wf *Workflow, trigger map[string]any) error {
	order, err := TopologicalOrder(wf)
	if err != nil {
		return err
	}

	// activated tracks which nodes control flow has reached. Roots are
	// activated by the trigger; downstream nodes by their incoming
	// edges as sources complete. Nodes never activated are skipped
	// without a record.
	activated := make(map[string]bool, len(wf.Nodes))
	for _, root := range RootNodes(wf) {
		activated[root.ID] = true
	}

	outputs := make(map[string]map[string]any, len(wf.Nodes))
	retryState := &RetryState{ExecutionID: id, MaxRetries: e.effectiveMaxRetries(wf)}
	policy := e.effectivePolicy(wf)

	for _, node := range order {
		if !activated[node.ID] {
			continue
		}

		if err := e.checkInterrupt(ctx, id, r, wf); err != nil {
			return err
		}

		input := e.gatherInput(wf, node, outputs, activated, trigger)
		output, nodeErr := e.runNodeWithRetries(ctx, id, r, wf, node, input, trigger, retryState, policy)
		if nodeErr != nil {
			// Terminal node failure: absorbed when an error edge routes
			// it, fatal to the run otherwise.
			routed := false
			for _, edge := range wf.Edges {
				if edge.Source == node.ID && edge.IsError() {
					activated[edge.Target] = true
					routed = true
				}
			}
			if !routed {
				return nodeErr
			}
			outputs[node.ID] = map[string]any{"error": nodeErr.Error()}
			continue
		}

		outputs[node.ID] = output
		for _, edge := range wf.Edges {
			if edge.Source == node.ID && !edge.IsError() {
				activated[edge.Target] = true
			}
		}
	}

	// Result is the output of every activated leaf, keyed by node ID.
	result := make(map[string]any)
	for nodeID, out := range outputs {
		if e.isLeaf(wf, nodeID, activated) {
			result[nodeID] = out
		}
	}
	return e.ledger.Update(ctx, id, func(ex *Execution) error {
		ex.Result = result
		return nil
	})
}

// runNodeWithRetries executes one node, appending a NodeExecution
// record per attempt and driving the retry policy on retryable
// failures. Returns the node's output or the terminal error.
func (e *Engine) runNodeWithRetries(ctx context.Context, id string, r *run, wf *Workflow, node Node, input, trigger map[string]any, retryState *RetryState, policy RetryPolicy) (map[string]any, error) {
	for {
		output, err := e.runNodeOnce(ctx, id, wf, node, input, trigger, retryState.RetryCount)
		if err == nil {
			return output, nil
		}

		e.publishNodeError(ctx, id, wf, node, err, retryState)

		if !e.classifier(err) || retryState.Exhausted() {
			return nil, err
		}

		delay := retryState.Next(policy)
		e.metrics.retryScheduled()

		if terr := e.ledger.Update(ctx, id, func(ex *Execution) error {
			return ex.transition(StatusRetrying)
		}); terr != nil {
			return nil, terr
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.cancel:
			timer.Stop()
			return nil, context.Canceled
		case <-ctx.Done():
			timer.Stop()
			return nil, e.runError(id, wf, ctx.Err())
		}

		if terr := e.ledger.Update(ctx, id, func(ex *Execution) error {
			return ex.transition(StatusRunning)
		}); terr != nil {
			return nil, terr
		}
	}
}

// runNodeOnce performs a single attempt, recording it in the ledger
// and on the bus.
func (e *Engine) runNodeOnce(ctx context.Context, id string, wf *Workflow, node Node, input, trigger map[string]any, attempt int) (map[string]any, error) {
	record := NodeExecution{
		ID:        uuid.NewString(),
		NodeID:    node.ID,
		NodeType:  node.Type,
		Status:    NodePending,
		StartedAt: time.Now(),
		InputData: input,
	}
	if attempt > 0 {
		record.Metadata = map[string]any{"attempt": attempt}
	}
	if err := e.ledger.Update(ctx, id, func(ex *Execution) error {
		ex.Nodes = append(ex.Nodes, record)
		return nil
	}); err != nil {
		return nil, err
	}
	e.bus.Publish(event.Event{Name: event.NodeExecutionStarted, ExecutionID: id, WorkflowID: wf.ID, NodeID: node.ID})

	executor, err := e.registry.Resolve(node.Type)
	if err == nil {
		nctx, cancel := context.WithTimeout(ctx, e.nodeTimeout)
		var output map[string]any
		output, err = executor.Execute(nctx, NodeContext{
			ExecutionID: id,
			WorkflowID:  wf.ID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			Parameters:  node.Parameters,
			Input:       input,
			Trigger:     trigger,
		})
		cancel()
		if err == nil {
			now := time.Now()
			uerr := e.ledger.Update(ctx, id, func(ex *Execution) error {
				rec := &ex.Nodes[len(ex.Nodes)-1]
				rec.Status = NodeSuccess
				rec.CompletedAt = &now
				rec.OutputData = output
				return nil
			})
			if uerr != nil {
				return nil, uerr
			}
			e.metrics.nodeExecuted(node.Type, NodeSuccess, now.Sub(record.StartedAt))
			e.bus.Publish(event.Event{Name: event.NodeExecutionCompleted, ExecutionID: id, WorkflowID: wf.ID, NodeID: node.ID})
			return output, nil
		}
	}

	execErr := err
	var known *NodeExecutionError
	if !errors.As(err, &known) {
		execErr = &NodeExecutionError{NodeID: node.ID, NodeType: node.Type, Message: err.Error(), Cause: err}
	}

	now := time.Now()
	if uerr := e.ledger.Update(ctx, id, func(ex *Execution) error {
		rec := &ex.Nodes[len(ex.Nodes)-1]
		rec.Status = NodeError
		rec.CompletedAt = &now
		rec.Error = execErr.Error()
		return nil
	}); uerr != nil {
		return nil, uerr
	}
	e.metrics.nodeExecuted(node.Type, NodeError, now.Sub(record.StartedAt))
	return nil, execErr
}

// publishNodeError emits the failure event and, best-effort, the
// advisor's remediation for it.
func (e *Engine) publishNodeError(ctx context.Context, id string, wf *Workflow, node Node, execErr error, retryState *RetryState) {
	e.bus.Publish(event.Event{
		Name:        event.NodeError,
		ExecutionID: id,
		WorkflowID:  wf.ID,
		NodeID:      node.ID,
		Data: map[string]any{
			"error":      execErr.Error(),
			"retryCount": retryState.RetryCount,
		},
	})

	rem := e.helpWithError(ctx, node, execErr)
	e.bus.Publish(event.Event{
		Name:        event.NodeErrorHelp,
		ExecutionID: id,
		WorkflowID:  wf.ID,
		NodeID:      node.ID,
		Data: map[string]any{
			"cause":       rem.Cause,
			"solution":    rem.Solution,
			"alternative": rem.Alternative,
		},
	})
}

func (e *Engine) helpWithError(ctx context.Context, node Node, execErr error) Remediation {
	if e.advisor != nil {
		actx, cancel := context.WithTimeout(ctx, e.advisorTimeout)
		rem, err := e.advisor.HelpWithError(actx, node, execErr)
		cancel()
		if err == nil {
			return rem
		}
		e.logf("engine: advisor help failed, using fallback: %v", err)
	}
	rem, _ := e.fallback.HelpWithError(ctx, node, execErr)
	return rem
}

// gatherInput merges the outputs of the node's activated upstream
// sources, in edge declaration order (later sources win on key
// collision). Roots receive the trigger data.
func (e *Engine) gatherInput(wf *Workflow, node Node, outputs map[string]map[string]any, activated map[string]bool, trigger map[string]any) map[string]any {
	input := make(map[string]any)
	merged := false
	for _, edge := range wf.Edges {
		if edge.Target != node.ID || !activated[edge.Source] {
			continue
		}
		if out, ok := outputs[edge.Source]; ok {
			for k, v := range out {
				input[k] = v
			}
			merged = true
		}
	}
	if !merged {
		for k, v := range trigger {
			input[k] = v
		}
	}
	return input
}

// isLeaf reports whether no activated node is downstream of nodeID.
func (e *Engine) isLeaf(wf *Workflow, nodeID string, activated map[string]bool) bool {
	for _, edge := range wf.Edges {
		if edge.Source == nodeID && activated[edge.Target] {
			return false
		}
	}
	return true
}

// checkInterrupt handles cooperative cancellation and the workflow
// timeout at a dispatch boundary.
func (e *Engine) checkInterrupt(ctx context.Context, id string, r *run, wf *Workflow) error {
	select {
	case <-r.cancel:
		return context.Canceled
	case <-ctx.Done():
		return e.runError(id, wf, ctx.Err())
	default:
		return nil
	}
}

// runError converts a context error into the taxonomy: the workflow
// deadline becomes a fatal TimeoutError.
func (e *Engine) runError(id string, wf *Workflow, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		var limit time.Duration
		if wf != nil {
			limit = wf.Settings.Timeout
		}
		return &TimeoutError{ExecutionID: id, Limit: limit}
	}
	return err
}

// finalize records the terminal state and publishes the terminal
// event.
func (e *Engine) finalize(ctx context.Context, id, workflowID string, runErr error, elapsed time.Duration) {
	status := StatusSuccess
	eventName := event.ExecutionCompleted
	errText := ""

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = StatusCancelled
		eventName = event.ExecutionCancelled
	default:
		status = StatusError
		eventName = event.ExecutionFailed
		errText = runErr.Error()
	}

	now := time.Now()
	if err := e.ledger.Update(ctx, id, func(ex *Execution) error {
		if err := ex.transition(status); err != nil {
			return err
		}
		ex.CompletedAt = &now
		ex.Error = errText
		return nil
	}); err != nil {
		e.logf("engine: failed to finalize execution %s: %v", id, err)
	}

	e.metrics.executionFinished(status, elapsed)

	data := map[string]any{}
	if errText != "" {
		data["error"] = errText
	}
	e.bus.Publish(event.Event{
		Name:        eventName,
		ExecutionID: id,
		WorkflowID:  workflowID,
		Data:        data,
	})
}

func (e *Engine) effectiveMaxRetries(wf *Workflow) int {
	if wf.Settings.MaxRetries > 0 {
		return wf.Settings.MaxRetries
	}
	return e.maxRetries
}

func (e *Engine) effectivePolicy(wf *Workflow) RetryPolicy {
	if wf.Settings.RetryPolicy != nil {
		return wf.Settings.RetryPolicy.withDefaults()
	}
	return e.retryPolicy
}
