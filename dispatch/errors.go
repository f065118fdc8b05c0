package dispatch

import "fmt"

// InputError signals an unparseable graph, a missing executor descriptor,
// or an invalid arg_index gap — caught at submission time, before any
// workflow is registered, per §7.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return "dispatch: input error: " + e.Msg }

// TaskError wraps a failure raised by an executor or the user callable it
// ran, mapped to a FAILED node-result.
type TaskError struct {
	NodeID int
	Cause  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("dispatch: node %d failed: %v", e.NodeID, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// DependencyError signals that a node's call_before/call_after hooks could
// not be rehydrated; treated the same as a TaskError for that node, per
// §7.
type DependencyError struct {
	NodeID int
	Cause  error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dispatch: node %d dependency materialisation failed: %v", e.NodeID, e.Cause)
}

func (e *DependencyError) Unwrap() error { return e.Cause }

// StoreError signals a durable-persistence failure during a node update.
// The Result Service forces the node to FAILED and still publishes the
// status event, per §7.
type StoreError struct {
	DispatchID string
	Cause      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dispatch: store error for workflow %s: %v", e.DispatchID, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

// SublatticeError signals that a sublattice node's child workflow ended in
// a non-COMPLETED terminal status. Per §9's Open Question resolution, this
// always normalises to a FAILED parent node, never
// POSTPROCESSING_FAILED — that distinction is preserved only at the
// top-level workflow.
type SublatticeError struct {
	NodeID int
}

func (e *SublatticeError) Error() string {
	return fmt.Sprintf("dispatch: node %d: Sublattice workflow failed to complete", e.NodeID)
}

// PostProcessingError signals that the final re-execution pass failed or
// returned a non-COMPLETED task result, distinct from a plain FAILED
// workflow so operators can tell computation failures from finalisation
// failures.
type PostProcessingError struct {
	DispatchID string
	Cause      error
}

func (e *PostProcessingError) Error() string {
	return fmt.Sprintf("dispatch: post-processing failed for workflow %s: %v", e.DispatchID, e.Cause)
}

func (e *PostProcessingError) Unwrap() error { return e.Cause }
