package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResultService is C2: the live-workflow registry and single writer of
// node/workflow status, grounded in the teacher's checkpointer
// (graph/checkpoint.go) generalized from single-state snapshots to
// per-node result updates across a whole graph.
//
// ResultService serializes updates per dispatch_id — each workflow gets
// its own mutex — while allowing unrelated workflows to update
// concurrently. Store writes are bounded by a worker-pool semaphore and
// block their caller until they complete; node updates arrive from the
// Scheduler's worker goroutines, so a slow disk or database does not stall
// the Scheduler's event-consuming loop.
type ResultService struct {
	mu        sync.RWMutex
	workflows map[string]*liveWorkflow

	store   Store
	workers chan struct{} // bounded worker-pool semaphore for store I/O
}

// Store is the durable persistence contract a ResultService writes
// through to. See the store package for concrete implementations.
type Store interface {
	SaveLattice(ctx context.Context, rec LatticeRecord) error
	SaveElectron(ctx context.Context, rec ElectronRecord) error
	SaveElectronDependency(ctx context.Context, rec ElectronDependencyRecord) error
	LoadLattice(ctx context.Context, dispatchID string) (LatticeRecord, error)
}

// LatticeRecord, ElectronRecord, and ElectronDependencyRecord are the
// durable row shapes C6 persists, named after the original Covalent
// schema's lattice/electron/electron_dependency tables.
type LatticeRecord struct {
	DispatchID string
	Status     string
	StartTime  time.Time
	EndTime    time.Time
	Error      string
	Result     any
}

type ElectronRecord struct {
	DispatchID string
	NodeID     int
	Name       string
	Status     string
	Value      any
	Error      string
	Stdout     string
	Stderr     string
	StartTime  time.Time
	EndTime    time.Time
}

type ElectronDependencyRecord struct {
	DispatchID   string
	ParentNodeID int
	ChildNodeID  int
	EdgeName     string
}

type liveWorkflow struct {
	mu       sync.Mutex // serializes node updates for this dispatch_id
	workflow *Workflow
	queue    *eventQueue
}

// NewResultService creates a ResultService backed by store, with
// poolSize concurrent store writers (defaulting to 8 when poolSize <= 0).
func NewResultService(store Store, poolSize int) *ResultService {
	if poolSize <= 0 {
		poolSize = 8
	}
	return &ResultService{
		workflows: make(map[string]*liveWorkflow),
		store:     store,
		workers:   make(chan struct{}, poolSize),
	}
}

// MakeDispatch registers a new workflow and its status-event queue,
// persists its electron_dependency rows, and returns the queue consumers
// subscribe to.
func (rs *ResultService) MakeDispatch(wf *Workflow) *eventQueue {
	q := newEventQueue(defaultEventQueueSize)

	rs.mu.Lock()
	rs.workflows[wf.DispatchID] = &liveWorkflow{workflow: wf, queue: q}
	rs.mu.Unlock()

	rs.persistElectronDependencies(wf)

	return q
}

// persistElectronDependencies writes one electron_dependency row per edge
// instance in wf's graph, per §6's persisted-state layout. This runs once
// at submission rather than per node update, since the DAG's structure is
// fixed for the life of the dispatch. Best-effort: a write failure here
// does not fail the dispatch — the in-memory Graph remains authoritative
// for the run itself, and a missing durable mirror of the edge table does
// not stop the workflow from scheduling correctly.
func (rs *ResultService) persistElectronDependencies(wf *Workflow) {
	if rs.store == nil {
		return
	}
	ctx := context.Background()
	for _, nodeID := range wf.Graph.NodeIDs() {
		for _, e := range wf.Graph.OutEdges(nodeID) {
			_ = rs.store.SaveElectronDependency(ctx, ElectronDependencyRecord{
				DispatchID:   wf.DispatchID,
				ParentNodeID: e.From,
				ChildNodeID:  e.To,
				EdgeName:     e.EdgeName,
			})
		}
	}
}

// GetStatusQueue returns the status-event queue for dispatchID, or nil if
// no such workflow is registered.
func (rs *ResultService) GetStatusQueue(dispatchID string) *eventQueue {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	lw, ok := rs.workflows[dispatchID]
	if !ok {
		return nil
	}
	return lw.queue
}

// GetWorkflow returns the live Workflow record for dispatchID, or nil.
func (rs *ResultService) GetWorkflow(dispatchID string) *Workflow {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	lw, ok := rs.workflows[dispatchID]
	if !ok {
		return nil
	}
	return lw.workflow
}

// UpdateNodeResult applies a task result to the node, persists it, and
// publishes exactly one StatusEvent — even when the store write fails, in
// which case the node is forced to FAILED first, per §7's StoreError
// contract.
func (rs *ResultService) UpdateNodeResult(ctx context.Context, dispatchID string, res NodeResult) error {
	rs.mu.RLock()
	lw, ok := rs.workflows[dispatchID]
	rs.mu.RUnlock()
	if !ok {
		return &StoreError{DispatchID: dispatchID, Cause: errWorkflowNotFound(dispatchID)}
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	node := lw.workflow.Graph.Node(res.NodeID)
	if node == nil {
		return &StoreError{DispatchID: dispatchID, Cause: errNodeNotFound(res.NodeID)}
	}

	status := res.Status
	node.Value = res.Output
	node.Error = res.Error
	node.Stdout = res.Stdout
	node.Stderr = res.Stderr
	node.StartTime = res.StartTime
	node.EndTime = res.EndTime
	if res.HasSublattice {
		node.SublatticeResult = res.SublatticeResult
	}

	storeErr := rs.persistElectron(ctx, dispatchID, node, status)
	if storeErr != nil {
		status = StatusFailed
		node.Error = storeErr.Error()
	}
	node.Status = status

	lw.queue.publish(StatusEvent{
		DispatchID: dispatchID,
		NodeID:     res.NodeID,
		HasNode:    true,
		Status:     string(status),
		Timestamp:  time.Now(),
		Error:      node.Error,
	})

	if storeErr != nil {
		return &StoreError{DispatchID: dispatchID, Cause: storeErr}
	}
	return nil
}

// persistElectron runs the store write on the bounded worker pool,
// blocking the caller until a slot frees and the write completes.
func (rs *ResultService) persistElectron(ctx context.Context, dispatchID string, node *Node, status NodeStatus) error {
	if rs.store == nil {
		return nil
	}

	select {
	case rs.workers <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-rs.workers }()

	return rs.store.SaveElectron(ctx, ElectronRecord{
		DispatchID: dispatchID,
		NodeID:     node.ID,
		Name:       node.Name,
		Status:     string(status),
		Value:      node.Value,
		Error:      node.Error,
		Stdout:     node.Stdout,
		Stderr:     node.Stderr,
		StartTime:  node.StartTime,
		EndTime:    node.EndTime,
	})
}

// UpdateWorkflowStatus transitions the workflow's own status, persists the
// lattice record, and publishes a workflow-level StatusEvent.
func (rs *ResultService) UpdateWorkflowStatus(ctx context.Context, dispatchID string, status WorkflowStatus, errMsg string) error {
	rs.mu.RLock()
	lw, ok := rs.workflows[dispatchID]
	rs.mu.RUnlock()
	if !ok {
		return &StoreError{DispatchID: dispatchID, Cause: errWorkflowNotFound(dispatchID)}
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.workflow.Status = status
	lw.workflow.Error = errMsg
	if status.IsTerminal() {
		lw.workflow.EndTime = time.Now()
	}

	var storeErr error
	if rs.store != nil {
		select {
		case rs.workers <- struct{}{}:
			storeErr = rs.store.SaveLattice(ctx, LatticeRecord{
				DispatchID: dispatchID,
				Status:     string(status),
				StartTime:  lw.workflow.StartTime,
				EndTime:    lw.workflow.EndTime,
				Error:      errMsg,
				Result:     lw.workflow.Result,
			})
			<-rs.workers
		case <-ctx.Done():
			storeErr = ctx.Err()
		}
	}

	lw.queue.publish(StatusEvent{
		DispatchID: dispatchID,
		Status:     string(status),
		Timestamp:  time.Now(),
		Error:      errMsg,
	})

	if storeErr != nil {
		return &StoreError{DispatchID: dispatchID, Cause: storeErr}
	}
	return nil
}

// GetElectronAttribute reads one field off a node's live record, per the
// §6 entry point of the same name.
func (rs *ResultService) GetElectronAttribute(dispatchID string, nodeID int, attr string) (any, bool) {
	rs.mu.RLock()
	lw, ok := rs.workflows[dispatchID]
	rs.mu.RUnlock()
	if !ok {
		return nil, false
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()

	node := lw.workflow.Graph.Node(nodeID)
	if node == nil {
		return nil, false
	}

	switch attr {
	case "status":
		return node.Status, true
	case "value", "output":
		return node.Value, true
	case "error":
		return node.Error, true
	case "stdout":
		return node.Stdout, true
	case "stderr":
		return node.Stderr, true
	default:
		return nil, false
	}
}

// FinalizeDispatch removes a terminal workflow from the live registry and
// closes its event queue. Callers should have drained or abandoned the
// queue before calling this.
func (rs *ResultService) FinalizeDispatch(dispatchID string) {
	rs.mu.Lock()
	lw, ok := rs.workflows[dispatchID]
	if ok {
		delete(rs.workflows, dispatchID)
	}
	rs.mu.Unlock()

	if ok {
		lw.queue.close()
	}
}

type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func errWorkflowNotFound(dispatchID string) error {
	return &notFoundError{msg: "dispatch: unknown workflow " + dispatchID}
}

func errNodeNotFound(nodeID int) error {
	return &notFoundError{msg: fmt.Sprintf("dispatch: unknown node %d", nodeID)}
}
