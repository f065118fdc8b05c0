package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowlattice/dispatcher/executor"
)

// fakeExecutor runs a registered Go function synchronously, standing in
// for executor/local so that dispatch's tests stay free of a concrete
// plug-in dependency, matching how the teacher's own engine tests stub
// Node[S] rather than importing a real model backend.
type fakeExecutor struct {
	fn func(args []any, kwargs map[string]any) (any, error)
}

func (f *fakeExecutor) Execute(_ context.Context, _ executor.Callable, args []any, kwargs map[string]any, _ string, _ int) (executor.Result, error) {
	out, err := f.fn(args, kwargs)
	if err != nil {
		return executor.Result{}, err
	}
	return executor.Result{Output: out}, nil
}
func (f *fakeExecutor) Teardown(_ context.Context) error { return nil }
func (f *fakeExecutor) ShortName() string                { return "fake" }

func newTestEngine(t *testing.T, fns map[string]func(args []any, kwargs map[string]any) (any, error)) *Engine {
	t.Helper()
	registry := executor.NewRegistry()
	for name, fn := range fns {
		fn := fn
		registry.Register(name, func(map[string]any) (executor.Executor, error) {
			return &fakeExecutor{fn: fn}, nil
		})
	}
	e, err := Open(nil, registry)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

func runAndWait(t *testing.T, e *Engine, g *Graph) *Workflow {
	t.Helper()
	wf, err := e.MakeDispatch(g, nil, PostprocessExecutor{})
	if err != nil {
		t.Fatalf("MakeDispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.RunWorkflow(ctx, wf.DispatchID); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	return wf
}

func TestSchedulerLinearChain(t *testing.T) {
	e := newTestEngine(t, map[string]func(args []any, kwargs map[string]any) (any, error){
		"add_one": func(args []any, _ map[string]any) (any, error) { return args[0].(int) + 1, nil },
		"double":  func(args []any, _ map[string]any) (any, error) { return args[0].(int) * 2, nil },
	})

	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 3})
	mustAddNode(t, g, &Node{ID: 1, Name: "add_one", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "add_one"}})
	mustAddNode(t, g, &Node{ID: 2, Name: "double", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "double"}})
	mustAddEdge(t, g, Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 1, To: 2, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})

	wf := runAndWait(t, e, g)
	if wf.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", wf.Status)
	}
	if got := g.Node(2).Value; got != 8 {
		t.Errorf("node 2 value = %v, want 8", got)
	}
}

func TestSchedulerDiamond(t *testing.T) {
	var mu sync.Mutex
	order := make([]string, 0, 4)
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	e := newTestEngine(t, map[string]func(args []any, kwargs map[string]any) (any, error){
		"left": func(args []any, _ map[string]any) (any, error) {
			record("left")
			return args[0].(int) + 1, nil
		},
		"right": func(args []any, _ map[string]any) (any, error) {
			record("right")
			return args[0].(int) + 10, nil
		},
		"join": func(args []any, _ map[string]any) (any, error) {
			record("join")
			return args[0].(int) + args[1].(int), nil
		},
	})

	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 1})
	mustAddNode(t, g, &Node{ID: 1, Name: "left", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "left"}})
	mustAddNode(t, g, &Node{ID: 2, Name: "right", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "right"}})
	mustAddNode(t, g, &Node{ID: 3, Name: "join", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "join"}})
	mustAddEdge(t, g, Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 0, To: 2, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 1, To: 3, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 2, To: 3, EdgeName: "arg1", ParamType: ParamArg, ArgIndex: 1})

	wf := runAndWait(t, e, g)
	if wf.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", wf.Status)
	}
	if got := g.Node(3).Value; got != 13 {
		t.Errorf("node 3 value = %v, want 13", got)
	}
	if len(order) != 3 || order[2] != "join" {
		t.Errorf("execution order = %v, want join last", order)
	}
}

func TestSchedulerFailingMiddleNode(t *testing.T) {
	var rightRan atomic.Bool
	e := newTestEngine(t, map[string]func(args []any, kwargs map[string]any) (any, error){
		"boom": func(args []any, _ map[string]any) (any, error) { return nil, fmt.Errorf("boom") },
		"never": func(args []any, _ map[string]any) (any, error) {
			rightRan.Store(true)
			return nil, nil
		},
	})

	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 1})
	mustAddNode(t, g, &Node{ID: 1, Name: "boom", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "boom"}})
	mustAddNode(t, g, &Node{ID: 2, Name: "never", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "never"}})
	mustAddEdge(t, g, Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 1, To: 2, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})

	wf, err := e.MakeDispatch(g, nil, PostprocessExecutor{})
	if err != nil {
		t.Fatalf("MakeDispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.RunWorkflow(ctx, wf.DispatchID); err == nil {
		t.Fatal("expected RunWorkflow to return an error")
	}
	if wf.Status != WorkflowFailed {
		t.Fatalf("status = %s, want FAILED", wf.Status)
	}
	if rightRan.Load() {
		t.Error("downstream node of a failed node must never run")
	}
}

func mustAddNode(t *testing.T, g *Graph, n *Node) {
	t.Helper()
	if err := g.AddNode(n); err != nil {
		t.Fatalf("AddNode(%d): %v", n.ID, err)
	}
}

func mustAddEdge(t *testing.T, g *Graph, e Edge) {
	t.Helper()
	if err := g.AddEdge(e); err != nil {
		t.Fatalf("AddEdge(%d->%d): %v", e.From, e.To, err)
	}
}
