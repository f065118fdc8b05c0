package emit

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by recording each status event as a
// span event on a per-dispatch root span, grounded in the teacher's
// OTelEmitter (graph/emit/otel.go). Each distinct DispatchID gets one
// root span, started lazily on first Emit and ended by Flush; node
// events are recorded as span events rather than child spans, since
// node execution spans are expected to be created by the executor
// plug-in actually doing the work.
type OTelEmitter struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelEmitter creates an OTelEmitter using tracer (e.g.
// otel.Tracer("dispatch")) to record spans.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer, spans: make(map[string]trace.Span)}
}

// Emit records event as a span event on its dispatch's root span,
// starting that root span on first use.
func (o *OTelEmitter) Emit(event Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	span, ok := o.spans[event.DispatchID]
	if !ok {
		_, span = o.tracer.Start(context.Background(), "dispatch:"+event.DispatchID)
		o.spans[event.DispatchID] = span
	}

	attrs := []attribute.KeyValue{
		attribute.String("dispatch_id", event.DispatchID),
		attribute.String("status", event.Status),
	}
	if event.HasNode {
		attrs = append(attrs, attribute.Int("node_id", event.NodeID))
	}
	span.AddEvent(event.Status, trace.WithAttributes(attrs...))

	if event.Error != "" {
		span.SetStatus(codes.Error, event.Error)
	}
}

// EmitBatch records every event in order.
func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, ev := range events {
		o.Emit(ev)
	}
	return nil
}

// Flush ends every open root span, releasing them from the internal map.
func (o *OTelEmitter) Flush(_ context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, span := range o.spans {
		span.End()
		delete(o.spans, id)
	}
	return nil
}
