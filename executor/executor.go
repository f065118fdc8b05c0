// Package executor defines the pluggable contract that the dispatch engine
// invokes to actually run a node's callable.
//
// Executors are black boxes behind this contract: local in-process workers,
// remote dispatch-based backends, or model-backed adapters that hand the
// callable to an LLM provider. The engine depends only on this interface; it
// never inspects or deserializes an executor's internals.
package executor

import (
	"context"
	"sync"
)

// Descriptor identifies an executor plug-in and its configuration.
//
// Descriptors are data, not behavior: the Task Runner resolves a Descriptor
// to a live Executor instance through a Registry, caching instances by
// Attributes["instance_id"] so that executors marked Shared are constructed
// at most once per workflow.
type Descriptor struct {
	// ShortName selects the registered constructor (e.g. "local", "anthropic").
	ShortName string

	// Attributes carries plug-in-specific configuration. The "instance_id"
	// key, when present, identifies shared instances across nodes.
	Attributes map[string]any
}

// InstanceID returns the descriptor's cache key, deriving a stable one from
// ShortName when Attributes carries no explicit "instance_id".
func (d Descriptor) InstanceID() string {
	if d.Attributes != nil {
		if id, ok := d.Attributes["instance_id"].(string); ok && id != "" {
			return id
		}
	}
	return d.ShortName
}

// Shared reports whether an instance of this descriptor stays cached until
// its workflow terminates. A non-shared instance is also cached under its
// instance_id and reused by any node that resolves it while it is cached;
// it is torn down once every planned task for that instance_id has
// released it, so it is not constructed afresh for each use.
func (d Descriptor) Shared() bool {
	if d.Attributes == nil {
		return false
	}
	shared, _ := d.Attributes["shared"].(bool)
	return shared
}

// Result is the triplet (or quadruple) an Executor returns from Execute.
//
// ExceptionFlag distinguishes an executor-reported failure (set) from a Go
// error returned directly by Execute; the Task Runner treats either as a
// task failure.
type Result struct {
	Output        any
	Stdout        string
	Stderr        string
	ExceptionFlag bool
}

// Executor runs a single node's callable with its resolved arguments.
//
// Implementations may be synchronous (blocking) or asynchronous; the engine
// adapts synchronous executors by dispatching them onto a worker pool so
// that the scheduler's own goroutine never blocks.
type Executor interface {
	// Execute invokes callable(args..., kwargs...) and reports its outcome.
	// dispatchID and nodeID are provided for logging/tracing correlation
	// only; executors must not use them to look up engine-internal state.
	Execute(ctx context.Context, callable Callable, args []any, kwargs map[string]any, dispatchID string, nodeID int) (Result, error)

	// Teardown releases any resources held by this instance. Called exactly
	// once per constructed instance: at workflow termination for a shared
	// instance, or as soon as a non-shared instance's last planned task
	// releases it.
	Teardown(ctx context.Context) error

	// ShortName returns the registered name of this executor's plug-in.
	ShortName() string
}

// Callable is an opaque, transportable task body. The engine never inspects
// its contents; it is handed unchanged to the Executor.
type Callable struct {
	// Name is a human-readable label used in logs and error messages.
	Name string

	// Payload is the serialized callable (function bytes, a script, a
	// model prompt template, ...). Its shape is a contract between the
	// submitting SDK and the chosen Executor plug-in.
	Payload []byte
}

// Constructor builds a live Executor from a descriptor's attributes.
type Constructor func(attrs map[string]any) (Executor, error)

// Registry resolves executor short names to constructors.
//
// A Registry is safe for concurrent registration and lookup, though in
// practice registration happens once at process start.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under the given short name, overwriting any
// existing registration for that name.
func (r *Registry) Register(shortName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[shortName] = ctor
}

// Build constructs a new Executor instance from a descriptor.
func (r *Registry) Build(d Descriptor) (Executor, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[d.ShortName]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownExecutorError{ShortName: d.ShortName}
	}
	return ctor(d.Attributes)
}

// UnknownExecutorError is returned when a descriptor names an unregistered
// executor plug-in.
type UnknownExecutorError struct {
	ShortName string
}

func (e *UnknownExecutorError) Error() string {
	return "executor: no plug-in registered under short name " + e.ShortName
}
