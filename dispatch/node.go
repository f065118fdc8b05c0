// Package dispatch implements the workflow dispatch engine: the DAG
// scheduler, task runner, and post-processor that drive a submitted
// workflow graph to completion.
//
// Grounded in the teacher's graph package (github.com/dshills/langgraph-go),
// generalized from a single-path routing engine over a generic state type
// into a dependency-counted DAG scheduler over an explicit node/edge
// multigraph, per the transport-graph data model this package implements.
package dispatch

import "time"

// NodeStatus is one of the five states in the node status automaton.
// Transitions are monotonic: once a node reaches a terminal status
// (Completed, Failed, Cancelled), it does not change again.
type NodeStatus string

const (
	StatusNewObject NodeStatus = "NEW_OBJECT"
	StatusRunning   NodeStatus = "RUNNING"
	StatusCompleted NodeStatus = "COMPLETED"
	StatusFailed    NodeStatus = "FAILED"
	StatusCancelled NodeStatus = "CANCELLED"
)

// IsTerminal reports whether a status is one the automaton does not leave.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// NodeKind classifies how the Task Runner assembles a node's inputs and
// whether the Scheduler treats it as an ordinary task.
type NodeKind string

const (
	KindParameter     NodeKind = "parameter"
	KindRegular       NodeKind = "regular-task"
	KindSublattice    NodeKind = "sublattice"
	KindListCollector NodeKind = "list-collector"
	KindDictCollector NodeKind = "dict-collector"
)

// sublatticeMarker prefixes the Name of nodes the Task Runner must treat as
// sublattice re-entry points, per §4.3's "Sublattice re-entry" note.
const sublatticeMarker = "sublattice:"

// internalPrefix marks synthetic nodes the Post-Processor's call-site
// substitution must skip unless they are sublattice nodes, per §4.5.
const internalPrefix = "::"

// IsSublattice reports whether name identifies a sublattice re-entry node.
func IsSublattice(name string) bool {
	return len(name) >= len(sublatticeMarker) && name[:len(sublatticeMarker)] == sublatticeMarker
}

// IsInternal reports whether name identifies a synthetic node the
// Post-Processor's call-site substitution should skip.
func IsInternal(name string) bool {
	return len(name) >= len(internalPrefix) && name[:len(internalPrefix)] == internalPrefix
}

// DependencySpec describes one serialized hook the Task Runner must run
// around a node's main callable: a shell command, a package install, or a
// user-supplied callback. Order within a single list is preserved; the
// call_before assembly order across lists is shell, then packages, then
// user callbacks, per §4.4.
type DependencySpec struct {
	Kind    DependencyKind
	Payload []byte
}

// DependencyKind selects which call_before bucket a DependencySpec belongs
// to.
type DependencyKind int

const (
	DepShell DependencyKind = iota
	DepPackage
	DepUserCallback
)

// Node is one entry in the transport graph.
//
// Node carries everything the Task Runner needs to run it: its kind, its
// serialized callable, the selected executor descriptor, and the
// call_before/call_after hook lists. Status, Value, timestamps, and
// stdout/stderr are mutated exclusively by the Result Service (C2) through
// UpdateNodeResult; every other reader observes a consistent snapshot.
type Node struct {
	ID   int
	Name string
	Kind NodeKind

	// Callable is the serialized task body handed unchanged to the
	// resolved Executor. Parameter nodes leave this empty and instead
	// carry their literal in Value.
	Callable []byte

	// Executor selects which executor.Descriptor runs this node. Every
	// non-parameter node must have one, per the transport graph invariant
	// in §3.
	Executor *ExecutorRef

	CallBefore []DependencySpec
	CallAfter  []DependencySpec

	Status NodeStatus
	Value  any
	Error  string
	Stdout string
	Stderr string

	StartTime time.Time
	EndTime   time.Time

	// SublatticeResult carries the completed child workflow's result for
	// sublattice nodes, so the Post-Processor's call-site substitution can
	// read it without re-querying the Result Service.
	SublatticeResult any
}

// ExecutorRef names an executor.Descriptor by short name and attributes,
// mirroring executor.Descriptor without importing the executor package
// from the core data model (kept decoupled so dispatch can be tested
// without pulling in every plug-in).
type ExecutorRef struct {
	ShortName  string
	Attributes map[string]any
}

// NodeResult is the partial update the Task Runner (or the Scheduler, for
// parameter nodes) produces for one node and hands to the Result Service's
// UpdateNodeResult.
type NodeResult struct {
	NodeID    int
	Status    NodeStatus
	Output    any
	Error     string
	Stdout    string
	Stderr    string
	StartTime time.Time
	EndTime   time.Time

	// SublatticeResult is set only for sublattice nodes whose child
	// workflow has completed.
	SublatticeResult any
	HasSublattice    bool
}
