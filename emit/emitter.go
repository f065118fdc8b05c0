package emit

import "context"

// Emitter receives status events from a dispatched workflow.
//
// Grounded in the teacher's Emitter interface (graph/emit/emitter.go),
// kept to the same three-method shape: implementations must be
// non-blocking and safe for concurrent use, since every node completion
// across every live workflow may call Emit.
type Emitter interface {
	// Emit sends a single event to the configured backend. Emit must not
	// panic and must not block workflow execution; slow or unavailable
	// backends should buffer, sample, or drop with internal logging.
	Emit(event Event)

	// EmitBatch sends multiple events, preserving order, for backends
	// that benefit from batching. Returns an error only for catastrophic
	// configuration failures, not individual event delivery failures.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been delivered or the
	// context expires. Safe to call more than once.
	Flush(ctx context.Context) error
}
