package emit

import "context"

// NullEmitter discards every event, grounded in the teacher's
// NullEmitter (graph/emit/null.go). Useful as the default when no
// observability backend is configured.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (n *NullEmitter) Emit(Event) {}

func (n *NullEmitter) EmitBatch(context.Context, []Event) error { return nil }

func (n *NullEmitter) Flush(context.Context) error { return nil }
