package dispatch

import (
	"context"
	"sync"

	"github.com/flowlattice/dispatcher/executor"
)

// executorCache holds live executor.Executor instances keyed by
// instance_id, so nodes sharing an instance_id (typically because they
// share a long-lived resource like a model handle or a connection) reuse
// one executor instead of constructing a fresh one per node.
//
// tasksLeft tracks how many planned nodes still reference an instance;
// the cache tears the instance down once it reaches zero, unless the
// descriptor's Shared flag keeps it alive for the lifetime of the
// dispatch. A cache belongs to exactly one Workflow (per §3's "Runtime
// state (per live workflow)"), never shared across dispatch_ids.
type executorCache struct {
	mu        sync.Mutex
	instances map[string]executor.Executor
	tasksLeft map[string]int
	shared    map[string]bool
}

func newExecutorCache() *executorCache {
	return &executorCache{
		instances: make(map[string]executor.Executor),
		tasksLeft: make(map[string]int),
		shared:    make(map[string]bool),
	}
}

// planTask registers that one more node will reference instanceID before
// the cache is allowed to tear it down. Call once per node at graph
// build time, before any node runs.
func (c *executorCache) planTask(instanceID string, shared bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksLeft[instanceID]++
	if shared {
		c.shared[instanceID] = true
	}
}

// remaining snapshots every still-cached instance and clears the cache,
// used by FinalizeExecutors to tear everything down exactly once.
func (c *executorCache) remaining() map[string]executor.Executor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]executor.Executor, len(c.instances))
	for id, exec := range c.instances {
		out[id] = exec
	}
	c.instances = make(map[string]executor.Executor)
	c.tasksLeft = make(map[string]int)
	c.shared = make(map[string]bool)
	return out
}

// PlanExecutors walks every non-parameter node in wf's graph and registers
// its executor instance with wf's own cache, so tasksLeft reflects the
// graph's actual per-instance node count before any node runs rather than
// being inferred lazily from first use. Call once, right after
// Graph.Validate succeeds and before the workflow is registered.
func (r *Runner) PlanExecutors(wf *Workflow) {
	if wf.cache == nil {
		wf.cache = newExecutorCache()
	}
	for _, id := range wf.Graph.NodeIDs() {
		node := wf.Graph.Node(id)
		if node == nil || node.Kind == KindParameter || node.Executor == nil {
			continue
		}
		d := executor.Descriptor{ShortName: node.Executor.ShortName, Attributes: node.Executor.Attributes}
		wf.cache.planTask(d.InstanceID(), d.Shared())
	}
}

func (r *Runner) resolveExecutor(wf *Workflow, node *Node) (executor.Executor, error) {
	ref := node.Executor
	if ref == nil {
		return nil, &InputError{Msg: "node has no executor reference"}
	}
	d := executor.Descriptor{ShortName: ref.ShortName, Attributes: ref.Attributes}
	return r.resolveDescriptor(wf, d)
}

// resolveWorkflowExecutor resolves the workflow-level executor used for
// the unplanned sublattice-builder task, incrementing
// its task count before use per §4.4 point 3, since those tasks are never
// accounted for by PlanExecutors' per-node graph walk. Callers must release
// the returned instanceID exactly once via releaseExecutor.
func (r *Runner) resolveWorkflowExecutor(wf *Workflow, post PostprocessExecutor) (executor.Executor, string, error) {
	d := executor.Descriptor{ShortName: post.ShortName, Attributes: post.Attributes}
	instanceID := d.InstanceID()
	if wf.cache == nil {
		wf.cache = newExecutorCache()
	}
	wf.cache.planTask(instanceID, d.Shared())
	exec, err := r.resolveDescriptor(wf, d)
	return exec, instanceID, err
}

// resolveDescriptor holds the cache lock across the entire check-then-build
// sequence so that two nodes becoming ready at the same instant for the
// same instance_id can never both observe a cache miss and each construct
// their own instance — §8's cache-semantics invariant requires at most one
// construction per (dispatch_id, instance_id).
func (r *Runner) resolveDescriptor(wf *Workflow, d executor.Descriptor) (executor.Executor, error) {
	if wf.cache == nil {
		wf.cache = newExecutorCache()
	}
	cache := wf.cache
	instanceID := d.InstanceID()

	cache.mu.Lock()
	defer cache.mu.Unlock()

	if exec, ok := cache.instances[instanceID]; ok {
		r.metrics.IncExecutorCacheOutcome("hit")
		return exec, nil
	}
	r.metrics.IncExecutorCacheOutcome("miss")

	exec, err := r.registry.Build(d)
	if err != nil {
		return nil, err
	}

	cache.instances[instanceID] = exec
	if _, planned := cache.tasksLeft[instanceID]; !planned {
		cache.tasksLeft[instanceID] = 1
	}
	if d.Shared() {
		cache.shared[instanceID] = true
	}

	return exec, nil
}

// releaseExecutor decrements instanceID's remaining task count within wf's
// cache, tearing the cached instance down via Executor.Teardown once the
// count reaches zero and the instance is not marked Shared. Shared
// instances are only torn down once, by FinalizeExecutors at workflow
// termination.
func (r *Runner) releaseExecutor(ctx context.Context, wf *Workflow, instanceID string) error {
	if wf.cache == nil {
		return nil
	}
	cache := wf.cache

	cache.mu.Lock()
	cache.tasksLeft[instanceID]--
	left := cache.tasksLeft[instanceID]
	shared := cache.shared[instanceID]
	var exec executor.Executor
	done := left <= 0 && !shared
	if done {
		exec = cache.instances[instanceID]
		delete(cache.instances, instanceID)
		delete(cache.tasksLeft, instanceID)
		delete(cache.shared, instanceID)
	}
	cache.mu.Unlock()

	if done && exec != nil {
		return exec.Teardown(ctx)
	}
	return nil
}

// FinalizeExecutors tears down every executor instance still held in wf's
// cache — shared instances that releaseExecutor never retired because
// their task count never reached zero while Shared — exactly once per
// constructed instance, per §4.3's "call finalize_executors on the
// executor cache" and the cache-semantics testable property in §8.
func (r *Runner) FinalizeExecutors(ctx context.Context, wf *Workflow) {
	if wf.cache == nil {
		return
	}
	for _, exec := range wf.cache.remaining() {
		_ = exec.Teardown(ctx)
	}
}
