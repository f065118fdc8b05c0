package dispatch

import "testing"

func chainGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	nodes := []*Node{
		{ID: 0, Name: "seed", Kind: KindParameter, Value: 1},
		{ID: 1, Name: "b", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "local"}},
		{ID: 2, Name: "c", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "local"}},
	}
	for _, n := range nodes {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	if err := g.AddEdge(Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(Edge{From: 1, To: 2, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	return g
}

func TestGraphAddNodeDuplicate(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(&Node{ID: 0, Name: "a", Kind: KindParameter}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(&Node{ID: 0, Name: "b", Kind: KindParameter}); err == nil {
		t.Fatal("expected duplicate node id to fail")
	}
}

func TestGraphAddEdgeUnknownNode(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(&Node{ID: 0, Name: "a", Kind: KindParameter}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddEdge(Edge{From: 0, To: 99, EdgeName: "arg0"}); err == nil {
		t.Fatal("expected edge to unknown node to fail")
	}
}

func TestGraphMultiEdgeInDegree(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(&Node{ID: 0, Name: "a", Kind: KindParameter}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(&Node{ID: 1, Name: "b", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "local"}}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddEdge(Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(Edge{From: 0, To: 1, EdgeName: "wait", WaitFor: true}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if got := g.InDegree(1); got != 2 {
		t.Errorf("InDegree(1) = %d, want 2 (one edge per instance)", got)
	}
}

func TestGraphValidateAcyclic(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(&Node{ID: 0, Name: "a", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "local"}}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(&Node{ID: 1, Name: "b", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "local"}}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddEdge(Edge{From: 0, To: 1, EdgeName: "arg0"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(Edge{From: 1, To: 0, EdgeName: "arg0"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.Validate(); err == nil {
		t.Fatal("expected cycle to fail validation")
	}
}

func TestGraphValidateMissingExecutor(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(&Node{ID: 0, Name: "a", Kind: KindRegular}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.Validate(); err == nil {
		t.Fatal("expected missing executor to fail validation")
	}
}

func TestGraphValidateNonContiguousArgIndex(t *testing.T) {
	g := NewGraph()
	if err := g.AddNode(&Node{ID: 0, Name: "a", Kind: KindParameter}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(&Node{ID: 1, Name: "b", Kind: KindParameter}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(&Node{ID: 2, Name: "c", Kind: KindRegular, Executor: &ExecutorRef{ShortName: "local"}}); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddEdge(Edge{From: 0, To: 2, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.AddEdge(Edge{From: 1, To: 2, EdgeName: "arg2", ParamType: ParamArg, ArgIndex: 2}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	if err := g.Validate(); err == nil {
		t.Fatal("expected non-contiguous arg_index to fail validation")
	}
}

func TestGraphValidateChainOK(t *testing.T) {
	g := chainGraph(t)
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestGraphNodeIDsSorted(t *testing.T) {
	g := NewGraph()
	for _, id := range []int{3, 1, 2} {
		if err := g.AddNode(&Node{ID: id, Name: "n", Kind: KindParameter}); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	ids := g.NodeIDs()
	want := []int{1, 2, 3}
	for i, id := range ids {
		if id != want[i] {
			t.Fatalf("NodeIDs() = %v, want %v", ids, want)
		}
	}
}
