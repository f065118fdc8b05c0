// Package emit provides event emission and observability for dispatch
// execution.
package emit

import "time"

// Event is an observability event describing one status change in a
// dispatched workflow: a node's transition, or the workflow's own.
//
// Grounded in the teacher's emit.Event (graph/emit/event.go), renamed
// from a routing-step record to a node/workflow status record.
type Event struct {
	// DispatchID identifies the workflow this event belongs to.
	DispatchID string

	// NodeID identifies which node emitted this event. Zero with
	// HasNode false for workflow-level events (dispatch start/complete).
	NodeID  int
	HasNode bool

	// Status is the new NEW_OBJECT/RUNNING/COMPLETED/FAILED/CANCELLED
	// (or workflow-level) status string.
	Status string

	Timestamp time.Time

	// Error carries the failure message when Status is FAILED (or a
	// workflow-level failure variant); empty otherwise.
	Error string
}
