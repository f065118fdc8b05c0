package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is C3: it drives a registered Workflow's nodes to completion by
// dependency count, grounded in the teacher's runConcurrent worker pool
// (graph/engine.go) generalized from a single-path routing frontier to a
// DAG-wide ready queue seeded from in-degree.
//
// Each node starts with pending[node] = Graph.InDegree(node). Worker
// goroutines pull ready node ids, run them, and publish their outcome
// through the Result Service; the Scheduler itself is the queue's sole
// consumer (per §4.2/§5: "the status-event queue has exactly one consumer,
// the Scheduler"). On a COMPLETED event it decrements pending for every
// outgoing edge instance and enqueues any child whose count reaches zero;
// on FAILED or CANCELLED it stops the run, matching §4.3 step 5's "push
// the stop sentinel onto the ready queue" by simply ceasing to dispatch.
type Scheduler struct {
	results *ResultService
	runner  *Runner
	metrics *Metrics

	// maxConcurrent bounds how many nodes execute at once for a single
	// workflow. Defaults to 8, matching the teacher's defaultMaxWorkers.
	maxConcurrent int

	// inFlight counts nodes currently executing across every workflow this
	// Scheduler runs.
	inFlight atomic.Int64
}

// NewScheduler creates a Scheduler driving nodes through runner and
// publishing results through results, with maxConcurrent bounding
// per-workflow parallelism (defaulting to 8 when <= 0). metrics may be nil.
func NewScheduler(results *ResultService, runner *Runner, maxConcurrent int, metrics *Metrics) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Scheduler{results: results, runner: runner, maxConcurrent: maxConcurrent, metrics: metrics}
}

// Run drives wf's graph to completion, returning the terminal error (if
// any) observed from a failed node or a cancelled context. It returns nil
// once every node has reached COMPLETED.
func (s *Scheduler) Run(ctx context.Context, wf *Workflow) error {
	g := wf.Graph
	nodeIDs := g.NodeIDs()
	total := len(nodeIDs)
	if total == 0 {
		return nil
	}

	queue := s.results.GetStatusQueue(wf.DispatchID)
	if queue == nil {
		return &StoreError{DispatchID: wf.DispatchID, Cause: errWorkflowNotFound(wf.DispatchID)}
	}

	pending := make(map[int]int, total)
	for _, id := range nodeIDs {
		pending[id] = g.InDegree(id)
	}

	ready := make(chan int, total)
	seeded := 0
	for _, id := range nodeIDs {
		if pending[id] == 0 {
			ready <- id
			seeded++
		}
	}
	s.metrics.SetReadyQueueDepth(seeded)

	workerCtx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < s.maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case id := <-ready:
					s.dispatchNode(workerCtx, wf, id, &s.inFlight)
				case <-workerCtx.Done():
					return
				}
			}
		}()
	}

	// The Scheduler's main goroutine is the queue's single consumer, per
	// §5. It owns pending/ready exclusively, so neither needs its own
	// synchronization beyond the channel itself.
	var firstErr error
	completed := 0
	stopped := false

consume:
	for completed < total && !stopped {
		select {
		case ev := <-queue.events():
			if !ev.HasNode {
				continue // workflow-level event (e.g. the initial RUNNING transition); not ours to act on
			}
			if ctx.Err() != nil {
				// Cancellation raced this event into the queue ahead of the
				// ctx.Done() case below; treat it the same as observing
				// ctx.Done() directly rather than scheduling children past
				// a cancellation that has already been decided.
				firstErr = ctx.Err()
				stopped = true
				continue
			}
			switch NodeStatus(ev.Status) {
			case StatusCompleted:
				completed++
				for _, e := range g.OutEdges(ev.NodeID) {
					child := e.To
					pending[child]--
					if pending[child] == 0 {
						ready <- child
					}
				}
				s.metrics.SetReadyQueueDepth(len(ready))
			case StatusFailed:
				firstErr = &TaskError{NodeID: ev.NodeID, Cause: errNodeFailed(ev.Error)}
				stopped = true
				cancel()
			case StatusCancelled:
				firstErr = context.Canceled
				stopped = true
				cancel()
			default:
				// RUNNING / NEW_OBJECT: informational, per §4.3 step 5.
			}
		case <-ctx.Done():
			firstErr = ctx.Err()
			stopped = true
			break consume
		case <-queue.Done():
			stopped = true
			break consume
		}
	}

	// Stop dispatching new nodes. Any node already in flight is allowed to
	// finish (per §5's "no forced thread termination"); its eventual
	// publish must not block just because the scheduling loop above has
	// stopped reading, so drain the queue in the background until every
	// worker has returned.
	cancel()
	drainDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-queue.events():
			case <-drainDone:
				return
			}
		}
	}()
	wg.Wait()
	close(drainDone)

	return firstErr
}

// dispatchNode runs one node and publishes its outcome through the Result
// Service, which both persists it and feeds the Scheduler's status-event
// queue. A non-nil error from Runner.RunNode denotes a node the engine
// could not even attempt (e.g. a dangling reference) rather than a task
// failure raised by the executor; per §7 this is folded into the same
// FAILED-node-result path as a task error so the Scheduler learns of it
// through the ordinary event stream rather than crashing the run.
func (s *Scheduler) dispatchNode(ctx context.Context, wf *Workflow, id int, inFlight *atomic.Int64) {
	inFlight.Add(1)
	s.metrics.SetInflightNodes(int(inFlight.Load()))
	defer func() {
		inFlight.Add(-1)
		s.metrics.SetInflightNodes(int(inFlight.Load()))
	}()

	res, err := s.runner.RunNode(ctx, wf, id)
	if err != nil {
		now := time.Now()
		res = NodeResult{NodeID: id, Status: StatusFailed, Error: err.Error(), StartTime: now, EndTime: now}
	}
	if !res.StartTime.IsZero() && !res.EndTime.IsZero() {
		s.metrics.ObserveNodeLatency(res.Status, res.EndTime.Sub(res.StartTime).Seconds())
	}
	_ = s.results.UpdateNodeResult(ctx, wf.DispatchID, res)
}

type nodeFailedError struct{ msg string }

func (e *nodeFailedError) Error() string { return e.msg }

func errNodeFailed(msg string) error {
	if msg == "" {
		msg = "node failed"
	}
	return &nodeFailedError{msg: msg}
}
