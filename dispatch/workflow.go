package dispatch

import "time"

// WorkflowStatus is the lifecycle status of a registered workflow
// (lattice). Unlike NodeStatus, COMPLETED is not the only "things went
// well" outcome: PENDING_POSTPROCESSING is a deliberate pause for
// client-side finalisation, which IsTerminal reports as non-terminal.
type WorkflowStatus string

const (
	WorkflowNewObject             WorkflowStatus = "NEW_OBJECT"
	WorkflowRunning               WorkflowStatus = "RUNNING"
	WorkflowPostprocessing        WorkflowStatus = "POSTPROCESSING"
	WorkflowPendingPostprocessing WorkflowStatus = "PENDING_POSTPROCESSING"
	WorkflowCompleted             WorkflowStatus = "COMPLETED"
	WorkflowFailed                WorkflowStatus = "FAILED"
	WorkflowCancelled             WorkflowStatus = "CANCELLED"
	WorkflowPostprocessingFailed  WorkflowStatus = "POSTPROCESSING_FAILED"
)

// IsTerminal reports whether a workflow status ends the workflow's
// lifecycle (it is finalized and removed from the live registry soon
// after).
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled, WorkflowPostprocessingFailed:
		return true
	default:
		return false
	}
}

// PostprocessExecutor names the executor that runs the workflow's
// post-processing pass. The short name "client" opts the workflow out of
// server-side post-processing entirely, per §4.5.
type PostprocessExecutor struct {
	ShortName  string
	Attributes map[string]any
}

// Workflow is a lattice: one submitted workflow's top-level record.
//
// A Workflow holds a reference to its Graph rather than embedding it, so
// the Result Service can serialize access to the Graph independently of
// the Workflow record's own fields.
type Workflow struct {
	DispatchID string
	Graph      *Graph

	// WorkflowFunction and its bound arguments are carried on the record
	// only. The Post-Processor does not read them: it runs the
	// WorkflowFunction value passed to Engine.MakeDispatch.
	WorkflowFunction []byte
	Args             []any
	Kwargs           map[string]any

	PostprocessExecutor PostprocessExecutor

	Status    WorkflowStatus
	StartTime time.Time
	EndTime   time.Time
	Error     string

	// ParentWorkflow and ParentNode are set for sublattice workflows,
	// naming the parent dispatch and the sublattice node that spawned
	// this child.
	ParentWorkflow string
	ParentNode     int
	HasParent      bool

	// Result is the final workflow value, set by the Post-Processor (or
	// left absent for runs that ended in FAILED/CANCELLED).
	Result any

	// cache is this workflow's own executor instance cache (Runtime state,
	// per §3: "an executor cache (instance_id → live executor...)" is
	// scoped to one live workflow, never shared with another dispatch_id,
	// so two unrelated workflows reusing the same instance_id never
	// collide on tasksLeft accounting or a cached instance).
	cache *executorCache
}
