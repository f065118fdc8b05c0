package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowlattice/dispatcher/emit"
	"github.com/flowlattice/dispatcher/executor"
)

// Engine is C9: the process-wide handle a caller opens once and uses for
// every subsequent MakeDispatch/RunWorkflow/CancelWorkflow call,
// grounded in the teacher's Engine[S] (graph/engine.go) generalized from
// one engine per typed workflow to one engine serving every dispatched
// workflow, keyed by dispatch_id.
type Engine struct {
	results    *ResultService
	scheduler  *Scheduler
	runner     *Runner
	post       *Postprocessor
	registry   *executor.Registry
	metrics    *Metrics
	emitters   []emit.Emitter
	webhookURL string

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	funcs     map[string]WorkflowFunction
	finalized map[string]*Workflow
}

// Open constructs an Engine from store, an executor registry, and
// functional options. It starts no goroutines of its own.
func Open(st Store, registry *executor.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		registry = executor.NewRegistry()
	}

	cfg := &engineConfig{workerPoolSize: 8, maxConcurrent: 8}
	for _, opt := range opts {
		opt(cfg)
	}

	results := NewResultService(st, cfg.workerPoolSize)

	var metrics *Metrics
	if cfg.metricsRegistry != nil {
		metrics = NewMetrics(cfg.metricsRegistry)
	}

	e := &Engine{
		results:    results,
		registry:   registry,
		metrics:    metrics,
		emitters:   cfg.emitters,
		webhookURL: cfg.webhookURL,
		running:    make(map[string]context.CancelFunc),
		funcs:      make(map[string]WorkflowFunction),
		finalized:  make(map[string]*Workflow),
	}
	if cfg.webhookURL != "" {
		e.emitters = append(e.emitters, emit.NewWebhookEmitter(cfg.webhookURL, 0))
	}

	e.runner = NewRunner(registry, e, metrics)
	e.scheduler = NewScheduler(results, e.runner, cfg.maxConcurrent, metrics)
	e.post = NewPostprocessor(results, metrics)

	return e, nil
}

// Close flushes every configured emitter. It does not stop the Engine from
// accepting new work, and workflows already registered continue running;
// callers should await their completion separately.
func (e *Engine) Close(_ context.Context) error {
	for _, emitter := range e.emitters {
		_ = emitter.Flush(context.Background())
	}
	return nil
}

// MakeDispatch registers g as a new workflow, minting a fresh dispatch_id
// via google/uuid and validating the transport graph before returning.
func (e *Engine) MakeDispatch(g *Graph, fn WorkflowFunction, post PostprocessExecutor) (*Workflow, error) {
	wf := &Workflow{
		DispatchID:          uuid.NewString(),
		Graph:               g,
		PostprocessExecutor: post,
		Status:              WorkflowNewObject,
	}
	if err := e.register(wf); err != nil {
		return nil, err
	}
	if fn != nil {
		e.mu.Lock()
		e.funcs[wf.DispatchID] = fn
		e.mu.Unlock()
	}
	return wf, nil
}

// MakeDispatchJSON is the §6 entry point `make_dispatch(serialized_graph_json,
// parent_workflow?, parent_node?)`: it deserializes the wire-format graph via
// ParseGraph and registers the resulting workflow, optionally as a
// sublattice child of parentWorkflow/parentNode.
func (e *Engine) MakeDispatchJSON(data []byte, fn WorkflowFunction, parentWorkflow string, parentNode int) (*Workflow, error) {
	g, post, err := ParseGraph(data)
	if err != nil {
		return nil, err
	}
	wf, err := e.MakeDispatch(g, fn, post)
	if err != nil {
		return nil, err
	}
	if parentWorkflow != "" {
		wf.ParentWorkflow = parentWorkflow
		wf.ParentNode = parentNode
		wf.HasParent = true
	}
	return wf, nil
}

// register validates wf's graph, plans its executor instances, and
// registers it with the Result Service — the shared registration path for
// both top-level dispatches and recursively-run sublattice children.
func (e *Engine) register(wf *Workflow) error {
	if err := wf.Graph.Validate(); err != nil {
		return err
	}
	e.runner.PlanExecutors(wf)
	e.results.MakeDispatch(wf)
	return nil
}

// RunWorkflow drives a previously registered workflow through the
// Scheduler and (unless its PostprocessExecutor opts out) the
// Post-Processor, returning the terminal error if any.
func (e *Engine) RunWorkflow(ctx context.Context, dispatchID string) error {
	wf := e.results.GetWorkflow(dispatchID)
	if wf == nil {
		return &StoreError{DispatchID: dispatchID, Cause: errWorkflowNotFound(dispatchID)}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running[dispatchID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, dispatchID)
		e.mu.Unlock()
		cancel()
	}()

	wf.Status = WorkflowRunning
	wf.StartTime = time.Now()
	if err := e.results.UpdateWorkflowStatus(runCtx, dispatchID, WorkflowRunning, ""); err != nil {
		return err
	}

	e.publishAll(wf, "")

	if err := e.scheduler.Run(runCtx, wf); err != nil {
		// A context.Canceled error means CancelWorkflow already transitioned
		// the workflow to CANCELLED; any other error is a genuine node
		// failure that the workflow itself has not yet recorded.
		if !errors.Is(err, context.Canceled) {
			_ = e.results.UpdateWorkflowStatus(ctx, dispatchID, WorkflowFailed, err.Error())
			e.publishAll(wf, err.Error())
		}
		e.finalize(dispatchID, wf)
		return err
	}

	e.mu.Lock()
	fn := e.funcs[dispatchID]
	e.mu.Unlock()

	// A sublattice child carries no workflow function of its own (the §6
	// wire format has none), so it defaults to its sink node's value as the
	// result the parent node receives, per §5's "output is the completed
	// sub-workflow's result".
	if fn == nil && wf.HasParent && wf.PostprocessExecutor.ShortName != "client" {
		if sinkID, err := wf.Graph.SinkNodeID(); err == nil {
			fn = sinkValueFunction{nodeID: sinkID}
		}
	}

	var postErr error
	if fn == nil {
		postErr = e.results.UpdateWorkflowStatus(ctx, dispatchID, WorkflowCompleted, "")
	} else {
		postErr = e.post.Run(ctx, wf, fn)
	}
	e.publishAll(wf, wf.Error)
	e.finalize(dispatchID, wf)
	return postErr
}

// finalize moves a terminal workflow out of the Result Service's live
// registry while keeping its record reachable through GetResultObject,
// per §4.2's persist_result/finalize_dispatch pair, and tears down every
// executor instance still held in wf's cache — including shared instances
// that never hit zero remaining tasks — so each constructed instance sees
// exactly one Teardown call across the workflow's lifetime, per §8.
func (e *Engine) finalize(dispatchID string, wf *Workflow) {
	e.runner.FinalizeExecutors(context.Background(), wf)

	e.mu.Lock()
	e.finalized[dispatchID] = wf
	delete(e.funcs, dispatchID)
	e.mu.Unlock()
	e.results.FinalizeDispatch(dispatchID)
}

// CancelWorkflow requests cancellation of a running workflow. Nodes
// already in flight finish, but no new node is dispatched.
func (e *Engine) CancelWorkflow(dispatchID string) error {
	e.mu.Lock()
	cancel, ok := e.running[dispatchID]
	e.mu.Unlock()
	if !ok {
		return &StoreError{DispatchID: dispatchID, Cause: errWorkflowNotFound(dispatchID)}
	}
	cancel()
	return e.results.UpdateWorkflowStatus(context.Background(), dispatchID, WorkflowCancelled, "cancelled by caller")
}

// GetResultObject returns the workflow's current record, including its
// final Result once COMPLETED. Live (still-running) workflows are read
// through the Result Service; terminal ones are served from the Engine's
// finalized cache once FinalizeDispatch has removed them from the live
// registry.
func (e *Engine) GetResultObject(dispatchID string) (*Workflow, error) {
	if wf := e.results.GetWorkflow(dispatchID); wf != nil {
		return wf, nil
	}
	e.mu.Lock()
	wf, ok := e.finalized[dispatchID]
	e.mu.Unlock()
	if !ok {
		return nil, &StoreError{DispatchID: dispatchID, Cause: errWorkflowNotFound(dispatchID)}
	}
	return wf, nil
}

// GetElectronAttribute reads one field off a node's record, live or
// finalized.
func (e *Engine) GetElectronAttribute(dispatchID string, nodeID int, attr string) (any, error) {
	if v, ok := e.results.GetElectronAttribute(dispatchID, nodeID, attr); ok {
		return v, nil
	}
	wf, err := e.GetResultObject(dispatchID)
	if err != nil {
		return nil, err
	}
	node := wf.Graph.Node(nodeID)
	if node == nil {
		return nil, fmt.Errorf("dispatch: unknown attribute %q on node %d", attr, nodeID)
	}
	switch attr {
	case "status":
		return node.Status, nil
	case "value", "output":
		return node.Value, nil
	case "error":
		return node.Error, nil
	case "stdout":
		return node.Stdout, nil
	case "stderr":
		return node.Stderr, nil
	default:
		return nil, fmt.Errorf("dispatch: unknown attribute %q on node %d", attr, nodeID)
	}
}

// RunSublattice implements SublatticeRunner: it registers and runs a
// child workflow synchronously under the same Engine, reporting its
// terminal status back to the calling node.
func (e *Engine) RunSublattice(ctx context.Context, parentDispatchID string, parentNodeID int, sub *Workflow) (any, WorkflowStatus, error) {
	sub.ParentWorkflow = parentDispatchID
	sub.ParentNode = parentNodeID
	sub.HasParent = true
	if sub.DispatchID == "" {
		sub.DispatchID = uuid.NewString()
	}
	if err := e.register(sub); err != nil {
		return nil, WorkflowFailed, err
	}

	if err := e.RunWorkflow(ctx, sub.DispatchID); err != nil {
		return nil, sub.Status, err
	}
	return sub.Result, sub.Status, nil
}

// sinkValueFunction is the default WorkflowFunction for a sub-graph with
// no workflow function of its own: post-processing simply resolves to the
// value of the graph's single terminal node.
type sinkValueFunction struct {
	nodeID int
}

func (s sinkValueFunction) Run(_ context.Context, resolve func(nodeID int) (any, bool)) (any, error) {
	v, ok := resolve(s.nodeID)
	if !ok {
		return nil, fmt.Errorf("dispatch: sink node %d has no resolved value", s.nodeID)
	}
	return v, nil
}

func (e *Engine) publishAll(wf *Workflow, errMsg string) {
	ev := emit.Event{
		DispatchID: wf.DispatchID,
		Status:     string(wf.Status),
		Timestamp:  time.Now(),
		Error:      errMsg,
	}
	for _, emitter := range e.emitters {
		emitter.Emit(ev)
	}
}
