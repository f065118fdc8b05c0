// Package local provides the default in-process Executor plug-in.
//
// It runs a node's callable synchronously on the calling goroutine, with a
// semaphore bounding how many calls run at once; the dispatch engine calls
// it from the Scheduler's worker goroutines, not from its event loop.
// Grounded in the teacher engine's worker-pool dispatch (graph/engine.go
// runConcurrent) generalized from "run a Node[S]" to "run an opaque
// executor.Callable".
package local

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/flowlattice/dispatcher/executor"
)

// Func is the signature a registered callable payload decodes to. The
// dispatcher's SDK-facing layer is responsible for turning a serialized
// executor.Callable into a Func; this package only knows how to invoke one
// once it has been resolved.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Resolver turns an executor.Callable's opaque payload into a runnable Func.
// The default resolver expects the Callable.Name to be a key into a
// process-wide function table registered via Register.
type Resolver func(c executor.Callable) (Func, error)

var funcTable = make(map[string]Func)

// Register makes a Go function available to be selected as a node's
// callable by name. Used by workflow authors and by tests.
func Register(name string, fn Func) {
	funcTable[name] = fn
}

func defaultResolver(c executor.Callable) (Func, error) {
	fn, ok := funcTable[c.Name]
	if !ok {
		return nil, fmt.Errorf("local executor: no function registered under name %q", c.Name)
	}
	return fn, nil
}

// Executor runs callables synchronously, gated by a weighted semaphore
// that bounds how many tasks run concurrently through this instance.
type Executor struct {
	sem      *semaphore.Weighted
	resolver Resolver
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithResolver overrides how a Callable's payload is turned into a Func.
func WithResolver(r Resolver) Option {
	return func(e *Executor) { e.resolver = r }
}

// New creates a local Executor with the given worker pool size. A
// poolSize of 0 defaults to 16.
func New(poolSize int, opts ...Option) *Executor {
	if poolSize <= 0 {
		poolSize = 16
	}
	e := &Executor{
		sem:      semaphore.NewWeighted(int64(poolSize)),
		resolver: defaultResolver,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewConstructor adapts New into an executor.Constructor for registration
// with an executor.Registry.
func NewConstructor(poolSize int, opts ...Option) executor.Constructor {
	return func(attrs map[string]any) (executor.Executor, error) {
		return New(poolSize, opts...), nil
	}
}

// ShortName implements executor.Executor.
func (e *Executor) ShortName() string { return "local" }

// Execute implements executor.Executor. It acquires a worker slot, runs fn
// on the calling goroutine (which callers are expected to have already
// offloaded onto their own worker pool), and releases the slot on return.
func (e *Executor) Execute(ctx context.Context, c executor.Callable, args []any, kwargs map[string]any, dispatchID string, nodeID int) (executor.Result, error) {
	fn, err := e.resolver(c)
	if err != nil {
		return executor.Result{}, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return executor.Result{}, err
	}
	defer e.sem.Release(1)

	output, err := fn(ctx, args, kwargs)
	if err != nil {
		return executor.Result{ExceptionFlag: true}, err
	}
	return executor.Result{Output: output}, nil
}

// Teardown implements executor.Executor. The local executor holds no
// external resources.
func (e *Executor) Teardown(_ context.Context) error { return nil }
