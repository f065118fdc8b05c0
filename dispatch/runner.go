package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/flowlattice/dispatcher/executor"
)

// Runner is C4: the Task Runner. It assembles a node's inputs according
// to its kind, materialises call_before/call_after hooks, resolves the
// node's executor (reusing cached instances keyed by instance_id), and
// dispatches execution — recursing into a fresh workflow run for
// sublattice nodes.
//
// Grounded in the teacher's node execution path inside runConcurrent
// (graph/engine.go), generalized from invoking a single Node[S].Run to
// invoking a pluggable executor.Executor selected per node.
type Runner struct {
	registry *executor.Registry
	sublat   SublatticeRunner
	metrics  *Metrics
}

// SublatticeRunner recursively runs a child workflow generated by a
// sublattice node and reports its terminal status and result, letting
// the Runner stay decoupled from the Engine that owns dispatch-wide
// bookkeeping.
type SublatticeRunner interface {
	RunSublattice(ctx context.Context, parentDispatchID string, parentNodeID int, sub *Workflow) (result any, status WorkflowStatus, err error)
}

// NewRunner creates a Runner resolving executors from registry and
// recursing sublattices through sublat. metrics may be nil.
func NewRunner(registry *executor.Registry, sublat SublatticeRunner, metrics *Metrics) *Runner {
	return &Runner{registry: registry, sublat: sublat, metrics: metrics}
}

// RunNode assembles inputs, runs call_before hooks, executes the node's
// callable (or recurses for a sublattice node), runs call_after hooks,
// and returns the resulting NodeResult. Parameter nodes short-circuit:
// they carry their literal in Node.Value and are never dispatched to an
// executor.
func (r *Runner) RunNode(ctx context.Context, wf *Workflow, nodeID int) (NodeResult, error) {
	node := wf.Graph.Node(nodeID)
	if node == nil {
		return NodeResult{}, &DependencyError{NodeID: nodeID, Cause: fmt.Errorf("node not found")}
	}

	if node.Kind == KindParameter {
		return NodeResult{
			NodeID:    nodeID,
			Status:    StatusCompleted,
			Output:    node.Value,
			StartTime: time.Now(),
			EndTime:   time.Now(),
		}, nil
	}

	start := time.Now()

	args, kwargs, err := r.assembleInputs(wf, node)
	if err != nil {
		return r.failure(nodeID, start, &DependencyError{NodeID: nodeID, Cause: err}), nil
	}

	// §4.3's "Sublattice re-entry" note keys detection off a name prefix;
	// the transport graph's category tag (§3) carries the same signal as
	// Kind, so a node is treated as a sublattice re-entry point if either
	// says so. Sublattice nodes have no executor of their own (the
	// sub-graph's builder runs on the workflow-level executor instead), so
	// their hooks run without one — only user-callback hooks dispatch to
	// an executor, and there is none to dispatch to here.
	if node.Kind == KindSublattice || IsSublattice(node.Name) {
		if err := r.runHooks(ctx, wf.DispatchID, nodeID, nil, node.CallBefore); err != nil {
			return r.failure(nodeID, start, &DependencyError{NodeID: nodeID, Cause: err}), nil
		}
		defer r.runHooksBestEffort(ctx, wf.DispatchID, nodeID, nil, node.CallAfter)
		return r.runSublattice(ctx, wf, node, start)
	}

	exec, err := r.resolveExecutor(wf, node)
	if err != nil {
		return r.failure(nodeID, start, err), nil
	}
	instanceID := executor.Descriptor{ShortName: node.Executor.ShortName, Attributes: node.Executor.Attributes}.InstanceID()
	// Registered before the call_after defer below so that release (which
	// may tear the instance down) runs after call_after has had a chance
	// to use it: defers unwind LIFO, so the later-registered call_after
	// hook runs first.
	defer r.releaseExecutor(context.Background(), wf, instanceID)

	if err := r.runHooks(ctx, wf.DispatchID, nodeID, exec, node.CallBefore); err != nil {
		return r.failure(nodeID, start, &DependencyError{NodeID: nodeID, Cause: err}), nil
	}
	// call_after always runs, regardless of the main callable's outcome,
	// and while the node's executor instance is still live.
	defer r.runHooksBestEffort(ctx, wf.DispatchID, nodeID, exec, node.CallAfter)

	callable := executor.Callable{Name: node.Name, Payload: node.Callable}
	res, err := exec.Execute(ctx, callable, args, kwargs, wf.DispatchID, nodeID)
	end := time.Now()
	if err != nil {
		return NodeResult{
			NodeID:    nodeID,
			Status:    StatusFailed,
			Error:     (&TaskError{NodeID: nodeID, Cause: err}).Error(),
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			StartTime: start,
			EndTime:   end,
		}, nil
	}
	if res.ExceptionFlag {
		return NodeResult{
			NodeID:    nodeID,
			Status:    StatusFailed,
			Error:     fmt.Sprintf("dispatch: node %d: task raised an exception", nodeID),
			Stdout:    res.Stdout,
			Stderr:    res.Stderr,
			StartTime: start,
			EndTime:   end,
		}, nil
	}

	return NodeResult{
		NodeID:    nodeID,
		Status:    StatusCompleted,
		Output:    res.Output,
		Stdout:    res.Stdout,
		Stderr:    res.Stderr,
		StartTime: start,
		EndTime:   end,
	}, nil
}

// runSublattice implements §4.4 point 4's sublattice dispatch: it submits
// node's callable as an unplanned "_build_sublattice_graph" task to the
// parent workflow's own executor (never inline, since building the
// sub-graph means deserializing user code, per §9), parses the returned
// §6 wire-format bytes into a child Graph, and recursively re-enters
// run_workflow on it through r.sublat.
func (r *Runner) runSublattice(ctx context.Context, wf *Workflow, node *Node, start time.Time) (NodeResult, error) {
	if r.sublat == nil {
		return r.failure(node.ID, start, fmt.Errorf("sublattice runner not configured")), nil
	}

	sub, err := r.buildSublatticeGraph(ctx, wf, node)
	if err != nil {
		return r.failure(node.ID, start, err), nil
	}

	result, status, err := r.sublat.RunSublattice(ctx, wf.DispatchID, node.ID, sub)
	end := time.Now()

	if err != nil || status != WorkflowCompleted {
		return NodeResult{
			NodeID:    node.ID,
			Status:    StatusFailed,
			Error:     (&SublatticeError{NodeID: node.ID}).Error(),
			StartTime: start,
			EndTime:   end,
		}, nil
	}

	return NodeResult{
		NodeID:           node.ID,
		Status:           StatusCompleted,
		Output:           result,
		SublatticeResult: result,
		HasSublattice:    true,
		StartTime:        start,
		EndTime:          end,
	}, nil
}

// buildSublatticeGraph runs the unplanned "_build_sublattice_graph" task
// against wf's workflow-level executor and deserializes its output into a
// child Workflow ready for RunSublattice, per §4.4 point 4 and §9's "the
// sublattice builder must run on an executor, not inline" note.
func (r *Runner) buildSublatticeGraph(ctx context.Context, wf *Workflow, node *Node) (*Workflow, error) {
	exec, instanceID, err := r.resolveWorkflowExecutor(wf, wf.PostprocessExecutor)
	if err != nil {
		return nil, err
	}
	defer r.releaseExecutor(context.Background(), wf, instanceID)

	callable := executor.Callable{Name: "_build_sublattice_graph", Payload: node.Callable}
	res, err := exec.Execute(ctx, callable, nil, nil, wf.DispatchID, node.ID)
	if err != nil {
		return nil, err
	}
	if res.ExceptionFlag {
		return nil, fmt.Errorf("dispatch: node %d: sublattice graph builder raised an exception", node.ID)
	}

	payload, err := toBytes(res.Output)
	if err != nil {
		return nil, fmt.Errorf("dispatch: node %d: sublattice graph builder returned %w", node.ID, err)
	}

	graph, post, err := ParseGraph(payload)
	if err != nil {
		return nil, err
	}

	return &Workflow{
		Graph:               graph,
		PostprocessExecutor: post,
		Status:              WorkflowNewObject,
		ParentWorkflow:      wf.DispatchID,
		ParentNode:          node.ID,
		HasParent:           true,
	}, nil
}

// toBytes coerces an executor's reported sublattice-graph output into raw
// JSON bytes, accepting either shape an executor plug-in might reasonably
// return.
func toBytes(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("a []byte or string, got %T", v)
	}
}

func (r *Runner) failure(nodeID int, start time.Time, err error) NodeResult {
	return NodeResult{
		NodeID:    nodeID,
		Status:    StatusFailed,
		Error:     err.Error(),
		StartTime: start,
		EndTime:   time.Now(),
	}
}

// assembleInputs builds the positional and keyword arguments for node
// from its parents' already-completed values, honoring arg_index order
// and excluding wait-for edges, per §4.3/§4.4. List-collector and
// dict-collector nodes gather every non-wait-for parent value into a
// single slice or map argument instead.
func (r *Runner) assembleInputs(wf *Workflow, node *Node) ([]any, map[string]any, error) {
	deps := wf.Graph.GetDependencies(node.ID)
	parents := make([]int, 0, len(deps))
	for p := range deps {
		parents = append(parents, p)
	}
	sort.Ints(parents)

	switch node.Kind {
	case KindListCollector:
		values := make([]any, 0, len(parents))
		for _, p := range parents {
			for _, data := range wf.Graph.GetEdgeData(p, node.ID) {
				if data.WaitFor {
					continue
				}
				values = append(values, wf.Graph.Node(p).Value)
			}
		}
		return []any{values}, nil, nil

	case KindDictCollector:
		out := make(map[string]any, len(parents))
		for _, p := range parents {
			for name, data := range wf.Graph.GetEdgeData(p, node.ID) {
				if data.WaitFor {
					continue
				}
				out[name] = wf.Graph.Node(p).Value
			}
		}
		return nil, map[string]any{"values": out}, nil

	default:
		type posArg struct {
			idx int
			val any
		}
		var positional []posArg
		kwargs := make(map[string]any)

		for _, p := range parents {
			for name, data := range wf.Graph.GetEdgeData(p, node.ID) {
				if data.WaitFor {
					continue
				}
				val := wf.Graph.Node(p).Value
				switch data.ParamType {
				case ParamArg:
					positional = append(positional, posArg{idx: data.ArgIndex, val: val})
				case ParamKwarg:
					kwargs[name] = val
				}
			}
		}
		sort.Slice(positional, func(i, j int) bool { return positional[i].idx < positional[j].idx })

		args := make([]any, len(positional))
		for i, pa := range positional {
			args[i] = pa.val
		}
		return args, kwargs, nil
	}
}

func (r *Runner) runHooks(ctx context.Context, dispatchID string, nodeID int, exec executor.Executor, hooks []DependencySpec) error {
	for _, h := range orderedHooks(hooks) {
		if err := runHook(ctx, dispatchID, nodeID, exec, h); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runHooksBestEffort(ctx context.Context, dispatchID string, nodeID int, exec executor.Executor, hooks []DependencySpec) {
	for _, h := range hooks {
		_ = runHook(ctx, dispatchID, nodeID, exec, h)
	}
}

// orderedHooks reorders call_before hooks into shell, then package, then
// user-callback buckets, per §4.4; call_after hooks run in declared order
// regardless, so callers of runHooksBestEffort pass hooks unsorted.
func orderedHooks(hooks []DependencySpec) []DependencySpec {
	var shell, pkg, user []DependencySpec
	for _, h := range hooks {
		switch h.Kind {
		case DepShell:
			shell = append(shell, h)
		case DepPackage:
			pkg = append(pkg, h)
		default:
			user = append(user, h)
		}
	}
	out := make([]DependencySpec, 0, len(hooks))
	out = append(out, shell...)
	out = append(out, pkg...)
	out = append(out, user...)
	return out
}

// runHook executes a single dependency hook, per §4.4 step 2. A shell or
// package hook needs a dedicated executor plug-in registered by convention
// ("shell", "pip") that does not exist in this pack's domain, so those two
// buckets remain no-ops until one is wired. A user-callback hook, though,
// is just more serialized code to run — it is dispatched through the
// node's own resolved executor exactly like the main callable, under a
// hook-specific Callable name so an executor or its logs can tell the two
// apart. A raised error (or a reported exception) surfaces as a
// DependencyError, per §7.
func runHook(ctx context.Context, dispatchID string, nodeID int, exec executor.Executor, h DependencySpec) error {
	if h.Kind != DepUserCallback || exec == nil {
		return nil
	}
	res, err := exec.Execute(ctx, executor.Callable{Name: "_call_dep_hook", Payload: h.Payload}, nil, nil, dispatchID, nodeID)
	if err != nil {
		return err
	}
	if res.ExceptionFlag {
		return fmt.Errorf("dependency hook raised an exception")
	}
	return nil
}
