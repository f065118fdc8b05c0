package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log lines to a
// writer, grounded in the teacher's LogEmitter (graph/emit/log.go).
// Supports the same text/JSON dual mode.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout if
// nil) in text mode, or JSON-lines mode when jsonMode is true.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes one event line.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitText(event Event) {
	node := "-"
	if event.HasNode {
		node = fmt.Sprintf("%d", event.NodeID)
	}
	if event.Error != "" {
		fmt.Fprintf(l.writer, "[%s] dispatch=%s node=%s error=%s\n", event.Status, event.DispatchID, node, event.Error)
		return
	}
	fmt.Fprintf(l.writer, "[%s] dispatch=%s node=%s\n", event.Status, event.DispatchID, node)
}

func (l *LogEmitter) emitJSON(event Event) {
	enc := json.NewEncoder(l.writer)
	_ = enc.Encode(event)
}

// EmitBatch writes every event in order.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, ev := range events {
		l.Emit(ev)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
