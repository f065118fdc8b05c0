package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowlattice/dispatcher/executor"
)

// countingExecutor tracks how many times it runs and is torn down, standing
// in for a long-lived resource (a model handle, a connection) that several
// nodes share through one instance_id.
type countingExecutor struct {
	executes  *atomic.Int32
	teardowns *atomic.Int32
}

func (c *countingExecutor) Execute(_ context.Context, _ executor.Callable, args []any, _ map[string]any, _ string, _ int) (executor.Result, error) {
	c.executes.Add(1)
	var out any
	if len(args) > 0 {
		out = args[0]
	}
	return executor.Result{Output: out}, nil
}

func (c *countingExecutor) Teardown(_ context.Context) error {
	c.teardowns.Add(1)
	return nil
}

func (c *countingExecutor) ShortName() string { return "shared" }

// TestSharedExecutorAccounting is seed scenario 4: four tasks sharing one
// executor instance must see exactly one construction, four executes, and
// one teardown.
func TestSharedExecutorAccounting(t *testing.T) {
	var builds, executes, teardowns atomic.Int32

	registry := executor.NewRegistry()
	registry.Register("shared", func(map[string]any) (executor.Executor, error) {
		builds.Add(1)
		return &countingExecutor{executes: &executes, teardowns: &teardowns}, nil
	})

	e, err := Open(nil, registry)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 1})
	for i := 1; i <= 4; i++ {
		mustAddNode(t, g, &Node{
			ID: i, Name: "task", Kind: KindRegular,
			Executor: &ExecutorRef{
				ShortName:  "shared",
				Attributes: map[string]any{"instance_id": "inst1", "shared": true},
			},
		})
		mustAddEdge(t, g, Edge{From: 0, To: i, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	}

	wf := runAndWait(t, e, g)
	if wf.Status != WorkflowCompleted {
		t.Fatalf("status = %s, want COMPLETED", wf.Status)
	}
	if got := builds.Load(); got != 1 {
		t.Errorf("constructions = %d, want 1", got)
	}
	if got := executes.Load(); got != 4 {
		t.Errorf("executes = %d, want 4", got)
	}
	if got := teardowns.Load(); got != 1 {
		t.Errorf("teardowns = %d, want 1", got)
	}
}

// TestSublatticeReentry is seed scenario 5: a sublattice node whose callable,
// once built, yields a 2-node sub-graph whose sink resolves to 42. The
// parent node's output must equal 42 and both workflows must end COMPLETED.
func TestSublatticeReentry(t *testing.T) {
	e := newTestEngine(t, map[string]func(args []any, kwargs map[string]any) (any, error){
		"build_sub": func(args []any, _ map[string]any) (any, error) {
			sub := NewGraph()
			if err := sub.AddNode(&Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 20}); err != nil {
				return nil, err
			}
			if err := sub.AddNode(&Node{ID: 1, Name: "answer", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "answer"}}); err != nil {
				return nil, err
			}
			if err := sub.AddEdge(Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0}); err != nil {
				return nil, err
			}
			return EncodeGraph(sub, PostprocessExecutor{})
		},
		"answer": func(args []any, _ map[string]any) (any, error) { return 42, nil },
	})

	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 1})
	mustAddNode(t, g, &Node{
		ID: 1, Name: "spawn_sublattice", Kind: KindSublattice,
		Callable: []byte("sublattice-payload"),
		Executor: &ExecutorRef{ShortName: "answer"}, // unused by sublattice dispatch; only Validate needs it set
	})
	mustAddEdge(t, g, Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})

	wf, err := e.MakeDispatch(g, nil, PostprocessExecutor{ShortName: "build_sub"})
	if err != nil {
		t.Fatalf("MakeDispatch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.RunWorkflow(ctx, wf.DispatchID); err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if wf.Status != WorkflowCompleted {
		t.Fatalf("parent status = %s, want COMPLETED", wf.Status)
	}
	if got := g.Node(1).Value; got != 42 {
		t.Errorf("sublattice node output = %v, want 42", got)
	}
}

// TestCancellationMidFlight is seed scenario 6: cancellation arrives while
// a node is still running. The in-flight node is allowed to finish, but no
// node downstream of it ever starts.
func TestCancellationMidFlight(t *testing.T) {
	node1Done := make(chan struct{})
	node2Started := make(chan struct{})
	releaseNode2 := make(chan struct{})
	var node3Ran, node4Ran atomic.Bool

	e := newTestEngine(t, map[string]func(args []any, kwargs map[string]any) (any, error){
		"step1": func(args []any, _ map[string]any) (any, error) {
			defer close(node1Done)
			return args[0].(int) + 1, nil
		},
		"step2": func(args []any, _ map[string]any) (any, error) {
			close(node2Started)
			<-releaseNode2
			return args[0].(int) + 1, nil
		},
		"step3": func(args []any, _ map[string]any) (any, error) {
			node3Ran.Store(true)
			return args[0].(int) + 1, nil
		},
		"step4": func(args []any, _ map[string]any) (any, error) {
			node4Ran.Store(true)
			return args[0].(int) + 1, nil
		},
	})

	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: 1})
	mustAddNode(t, g, &Node{ID: 1, Name: "step1", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "step1"}})
	mustAddNode(t, g, &Node{ID: 2, Name: "step2", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "step2"}})
	mustAddNode(t, g, &Node{ID: 3, Name: "step3", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "step3"}})
	mustAddNode(t, g, &Node{ID: 4, Name: "step4", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "step4"}})
	mustAddEdge(t, g, Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 1, To: 2, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 2, To: 3, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})
	mustAddEdge(t, g, Edge{From: 3, To: 4, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})

	wf, err := e.MakeDispatch(g, nil, PostprocessExecutor{})
	if err != nil {
		t.Fatalf("MakeDispatch: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.RunWorkflow(context.Background(), wf.DispatchID)
	}()

	<-node1Done
	<-node2Started
	if err := e.CancelWorkflow(wf.DispatchID); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}
	close(releaseNode2)

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected RunWorkflow to return an error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunWorkflow did not return after cancellation")
	}

	if wf.Status != WorkflowCancelled {
		t.Fatalf("status = %s, want CANCELLED", wf.Status)
	}
	if got := g.Node(1).Status; got != StatusCompleted {
		t.Errorf("node 1 status = %s, want COMPLETED", got)
	}
	if node3Ran.Load() || node4Ran.Load() {
		t.Error("nodes downstream of the in-flight node must never start after cancellation")
	}
}
