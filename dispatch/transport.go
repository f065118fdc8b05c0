package dispatch

import (
	"encoding/json"
	"fmt"
)

// wireGraph is the JSON shape of the serialized graph format from §6: a
// document with a metadata block naming the trigger and the two executor
// references (per-node default and workflow-level), and a graph section of
// nodes and edges. Both the out-of-process SDK at submission time and the
// in-process sublattice builder (§4.4 point 4) produce this shape; ParseGraph
// is the one place the engine turns it into the in-memory Graph Store.
type wireGraph struct {
	Metadata wireMetadata `json:"metadata"`
	Graph    struct {
		Nodes []wireNode `json:"nodes"`
		Links []wireEdge `json:"links"`
	} `json:"graph"`
}

type wireMetadata struct {
	Trigger              string         `json:"trigger"`
	Executor             string         `json:"executor"`
	ExecutorData         map[string]any `json:"executor_data"`
	WorkflowExecutor     string         `json:"workflow_executor"`
	WorkflowExecutorData map[string]any `json:"workflow_executor_data"`
}

type wireNode struct {
	ID       int              `json:"id"`
	Name     string           `json:"name"`
	Category string           `json:"category"`
	Value    any              `json:"value,omitempty"`
	Callable []byte           `json:"callable,omitempty"`
	Metadata wireNodeMetadata `json:"metadata"`
}

type wireNodeMetadata struct {
	ExecutorShortName string           `json:"executor"`
	ExecutorData      map[string]any   `json:"executor_data"`
	CallBefore        []wireDependency `json:"call_before"`
	CallAfter         []wireDependency `json:"call_after"`
}

type wireDependency struct {
	Kind    string `json:"type"`
	Payload []byte `json:"payload"`
}

type wireEdge struct {
	Source    int    `json:"source"`
	Target    int    `json:"target"`
	EdgeName  string `json:"edge_name"`
	ParamType string `json:"param_type"`
	ArgIndex  int    `json:"arg_index"`
	WaitFor   bool   `json:"wait_for"`
}

// ParseGraph deserializes the §6 wire format into a Graph and the
// workflow-level executor reference named in its metadata. Any structural
// problem — unknown category, unknown param_type, a duplicate or dangling
// edge — is reported as an InputError, so a bad submission never registers
// a workflow, per §7's "fails the submission synchronously" rule.
func ParseGraph(data []byte) (*Graph, PostprocessExecutor, error) {
	var wg wireGraph
	if err := json.Unmarshal(data, &wg); err != nil {
		return nil, PostprocessExecutor{}, &InputError{Msg: fmt.Sprintf("invalid serialized graph: %v", err)}
	}

	g := NewGraph()
	for _, wn := range wg.Graph.Nodes {
		kind, err := parseNodeCategory(wn.Category)
		if err != nil {
			return nil, PostprocessExecutor{}, err
		}

		n := &Node{
			ID:         wn.ID,
			Name:       wn.Name,
			Kind:       kind,
			Callable:   wn.Callable,
			CallBefore: parseDeps(wn.Metadata.CallBefore),
			CallAfter:  parseDeps(wn.Metadata.CallAfter),
		}
		if kind == KindParameter {
			n.Value = wn.Value
			n.Status = StatusCompleted
		} else {
			n.Executor = &ExecutorRef{
				ShortName:  wn.Metadata.ExecutorShortName,
				Attributes: wn.Metadata.ExecutorData,
			}
		}
		if err := g.AddNode(n); err != nil {
			return nil, PostprocessExecutor{}, &InputError{Msg: err.Error()}
		}
	}

	for _, we := range wg.Graph.Links {
		paramType, err := parseParamType(we.ParamType, we.WaitFor)
		if err != nil {
			return nil, PostprocessExecutor{}, err
		}
		e := Edge{
			From:      we.Source,
			To:        we.Target,
			EdgeName:  we.EdgeName,
			ParamType: paramType,
			ArgIndex:  we.ArgIndex,
			WaitFor:   we.WaitFor,
		}
		if err := g.AddEdge(e); err != nil {
			return nil, PostprocessExecutor{}, &InputError{Msg: err.Error()}
		}
	}

	post := PostprocessExecutor{
		ShortName:  wg.Metadata.WorkflowExecutor,
		Attributes: wg.Metadata.WorkflowExecutorData,
	}
	return g, post, nil
}

func parseNodeCategory(category string) (NodeKind, error) {
	switch NodeKind(category) {
	case KindParameter, KindRegular, KindSublattice, KindListCollector, KindDictCollector:
		return NodeKind(category), nil
	default:
		return "", &InputError{Msg: fmt.Sprintf("unknown node category %q", category)}
	}
}

func parseParamType(paramType string, waitFor bool) (ParamType, error) {
	if waitFor {
		// wait-for edges carry no value binding; ParamType is informational.
		return ParamArg, nil
	}
	switch ParamType(paramType) {
	case ParamArg, ParamKwarg:
		return ParamType(paramType), nil
	default:
		return "", &InputError{Msg: fmt.Sprintf("unknown param_type %q", paramType)}
	}
}

func parseDeps(wds []wireDependency) []DependencySpec {
	if len(wds) == 0 {
		return nil
	}
	out := make([]DependencySpec, 0, len(wds))
	for _, wd := range wds {
		var kind DependencyKind
		switch wd.Kind {
		case "shell":
			kind = DepShell
		case "package":
			kind = DepPackage
		default:
			kind = DepUserCallback
		}
		out = append(out, DependencySpec{Kind: kind, Payload: wd.Payload})
	}
	return out
}

// EncodeGraph serializes g and post back into the §6 wire format, the
// inverse of ParseGraph. The sublattice builder's executor produces bytes
// in this shape when it deserializes user code into a child graph; tests
// use EncodeGraph to synthesize that payload without duplicating the wire
// schema.
func EncodeGraph(g *Graph, post PostprocessExecutor) ([]byte, error) {
	var wg wireGraph
	wg.Metadata.WorkflowExecutor = post.ShortName
	wg.Metadata.WorkflowExecutorData = post.Attributes

	for _, id := range g.NodeIDs() {
		n := g.Node(id)
		wn := wireNode{
			ID:       n.ID,
			Name:     n.Name,
			Category: string(n.Kind),
			Value:    n.Value,
			Callable: n.Callable,
		}
		if n.Executor != nil {
			wn.Metadata.ExecutorShortName = n.Executor.ShortName
			wn.Metadata.ExecutorData = n.Executor.Attributes
		}
		wn.Metadata.CallBefore = encodeDeps(n.CallBefore)
		wn.Metadata.CallAfter = encodeDeps(n.CallAfter)
		wg.Graph.Nodes = append(wg.Graph.Nodes, wn)

		for _, e := range g.OutEdges(id) {
			wg.Graph.Links = append(wg.Graph.Links, wireEdge{
				Source:    e.From,
				Target:    e.To,
				EdgeName:  e.EdgeName,
				ParamType: string(e.ParamType),
				ArgIndex:  e.ArgIndex,
				WaitFor:   e.WaitFor,
			})
		}
	}

	return json.Marshal(wg)
}

func encodeDeps(specs []DependencySpec) []wireDependency {
	if len(specs) == 0 {
		return nil
	}
	out := make([]wireDependency, 0, len(specs))
	for _, s := range specs {
		var kind string
		switch s.Kind {
		case DepShell:
			kind = "shell"
		case DepPackage:
			kind = "package"
		default:
			kind = "callback"
		}
		out = append(out, wireDependency{Kind: kind, Payload: s.Payload})
	}
	return out
}
