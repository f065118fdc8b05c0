package dispatch

import "testing"

func TestParseGraphEncodeGraphRoundTrip(t *testing.T) {
	g := NewGraph()
	mustAddNode(t, g, &Node{ID: 0, Name: "seed", Kind: KindParameter, Value: float64(3)})
	mustAddNode(t, g, &Node{
		ID: 1, Name: "add_one", Kind: KindRegular,
		Executor: &ExecutorRef{ShortName: "add_one", Attributes: map[string]any{"instance_id": "i1"}},
	})
	mustAddEdge(t, g, Edge{From: 0, To: 1, EdgeName: "arg0", ParamType: ParamArg, ArgIndex: 0})

	post := PostprocessExecutor{ShortName: "local", Attributes: map[string]any{"k": "v"}}

	data, err := EncodeGraph(g, post)
	if err != nil {
		t.Fatalf("EncodeGraph: %v", err)
	}

	decoded, decodedPost, err := ParseGraph(data)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}

	if decodedPost.ShortName != post.ShortName {
		t.Errorf("workflow executor short name = %q, want %q", decodedPost.ShortName, post.ShortName)
	}

	n0 := decoded.Node(0)
	if n0 == nil || n0.Kind != KindParameter || n0.Value != float64(3) {
		t.Fatalf("node 0 round-tripped wrong: %+v", n0)
	}
	n1 := decoded.Node(1)
	if n1 == nil || n1.Kind != KindRegular || n1.Executor == nil || n1.Executor.ShortName != "add_one" {
		t.Fatalf("node 1 round-tripped wrong: %+v", n1)
	}

	edges := decoded.GetEdgeData(0, 1)
	data0, ok := edges["arg0"]
	if !ok || data0.ParamType != ParamArg || data0.ArgIndex != 0 {
		t.Errorf("edge 0->1 round-tripped wrong: %+v", edges)
	}

	if err := decoded.Validate(); err != nil {
		t.Errorf("decoded graph failed Validate: %v", err)
	}
}

func TestParseGraphMalformedJSON(t *testing.T) {
	_, _, err := ParseGraph([]byte("not json"))
	if err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("error = %T, want *InputError", err)
	}
}

func TestParseGraphUnknownCategory(t *testing.T) {
	data := []byte(`{"metadata":{},"graph":{"nodes":[{"id":0,"name":"x","category":"bogus","metadata":{}}],"links":[]}}`)
	_, _, err := ParseGraph(data)
	if err == nil {
		t.Fatal("expected an error for an unknown node category")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("error = %T, want *InputError", err)
	}
}

func TestParseGraphUnknownParamType(t *testing.T) {
	data := []byte(`{
		"metadata": {},
		"graph": {
			"nodes": [
				{"id": 0, "name": "a", "category": "parameter", "value": 1, "metadata": {}},
				{"id": 1, "name": "b", "category": "regular-task", "metadata": {"executor": "add_one"}}
			],
			"links": [
				{"source": 0, "target": 1, "edge_name": "arg0", "param_type": "bogus", "arg_index": 0, "wait_for": false}
			]
		}
	}`)
	_, _, err := ParseGraph(data)
	if err == nil {
		t.Fatal("expected an error for an unknown param_type")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("error = %T, want *InputError", err)
	}
}

func TestParseGraphDanglingEdge(t *testing.T) {
	data := []byte(`{
		"metadata": {},
		"graph": {
			"nodes": [
				{"id": 0, "name": "a", "category": "parameter", "value": 1, "metadata": {}}
			],
			"links": [
				{"source": 0, "target": 99, "edge_name": "arg0", "param_type": "arg", "arg_index": 0, "wait_for": false}
			]
		}
	}`)
	_, _, err := ParseGraph(data)
	if err == nil {
		t.Fatal("expected an error for an edge referencing an unknown node")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("error = %T, want *InputError", err)
	}
}
