package dispatch

import (
	"context"
	"sort"
)

// WorkflowFunction re-executes a workflow's defining function with node
// outputs substituted at each call site, in node-id order, producing the
// workflow's final return value. The Post-Processor calls this once
// every node has reached COMPLETED.
//
// Implementations are expected to look up a node's resolved value via
// Resolve(nodeID) rather than re-running any task: the whole point of
// post-processing is substitution, not recomputation.
type WorkflowFunction interface {
	// Run invokes the workflow's callable with node outputs already
	// resolved, skipping synthetic internal nodes unless they are
	// sublattice nodes.
	Run(ctx context.Context, resolve func(nodeID int) (any, bool)) (any, error)
}

// Postprocessor is C5: it runs the post-processing pass for a completed
// workflow, or defers to the client, per §4.5.
//
// Grounded in the teacher's checkpoint-then-resume boundary
// (graph/checkpoint.go). The WorkflowFunction runs in-process on the
// caller's goroutine; it is not submitted to an executor. Its status
// transitions go through the Result Service like every other update.
type Postprocessor struct {
	results *ResultService
	metrics *Metrics
}

// NewPostprocessor creates a Postprocessor publishing transitions through
// results. metrics may be nil.
func NewPostprocessor(results *ResultService, metrics *Metrics) *Postprocessor {
	return &Postprocessor{results: results, metrics: metrics}
}

// Run executes the post-processing pass for wf using fn to re-run the
// workflow's callable. If wf's PostprocessExecutor names the "client"
// short name, Run transitions the workflow to PENDING_POSTPROCESSING and
// returns immediately without invoking fn — the caller (a client SDK) is
// expected to perform substitution itself and report the result back
// through a separate call.
func (p *Postprocessor) Run(ctx context.Context, wf *Workflow, fn WorkflowFunction) error {
	if wf.PostprocessExecutor.ShortName == "client" {
		p.metrics.IncPostprocessOutcome(WorkflowPendingPostprocessing)
		return p.results.UpdateWorkflowStatus(ctx, wf.DispatchID, WorkflowPendingPostprocessing, "")
	}

	if err := p.results.UpdateWorkflowStatus(ctx, wf.DispatchID, WorkflowPostprocessing, ""); err != nil {
		return err
	}

	resolve := p.resolver(wf)
	result, err := fn.Run(ctx, resolve)
	if err != nil {
		perr := &PostProcessingError{DispatchID: wf.DispatchID, Cause: err}
		p.metrics.IncPostprocessOutcome(WorkflowPostprocessingFailed)
		_ = p.results.UpdateWorkflowStatus(ctx, wf.DispatchID, WorkflowPostprocessingFailed, perr.Error())
		return perr
	}

	wf.Result = result
	p.metrics.IncPostprocessOutcome(WorkflowCompleted)
	return p.results.UpdateWorkflowStatus(ctx, wf.DispatchID, WorkflowCompleted, "")
}

// resolver builds the node-output lookup fn's caller uses for call-site
// substitution: every node in ascending id order, skipping internal
// synthetic nodes unless they are sublattice re-entry points, per §4.5.
func (p *Postprocessor) resolver(wf *Workflow) func(nodeID int) (any, bool) {
	ids := wf.Graph.NodeIDs()
	sort.Ints(ids)

	eligible := make(map[int]bool, len(ids))
	for _, id := range ids {
		n := wf.Graph.Node(id)
		if n == nil {
			continue
		}
		if IsInternal(n.Name) && n.Kind != KindSublattice {
			continue
		}
		eligible[id] = true
	}

	return func(nodeID int) (any, bool) {
		if !eligible[nodeID] {
			return nil, false
		}
		n := wf.Graph.Node(nodeID)
		if n == nil {
			return nil, false
		}
		if n.Kind == KindSublattice {
			return n.SublatticeResult, true
		}
		return n.Value, true
	}
}
