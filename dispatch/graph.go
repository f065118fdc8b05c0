package dispatch

import (
	"fmt"
	"sort"
	"sync"
)

// Graph is the in-memory transport graph model (C1, the Graph Store).
//
// Nodes and edges are held as maps keyed by integer id, not as
// pointer-linked objects, per §9's design note: this keeps serialisation
// trivial and makes cycles-by-construction impossible at the type level.
// All access is serialized per Graph via mu, satisfying §4.1's "all calls
// are serialized per workflow" guarantee; reads always observe the result
// of every prior completed write.
type Graph struct {
	mu sync.Mutex

	nodes map[int]*Node
	edges map[int][]Edge // keyed by the edge's From node

	values map[int]map[string]any // ad hoc per-node key/value slots
}

// NewGraph creates an empty transport graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:  make(map[int]*Node),
		edges:  make(map[int][]Edge),
		values: make(map[int]map[string]any),
	}
}

// AddNode registers a node. Node IDs must be unique.
func (g *Graph) AddNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("dispatch: node %d already exists", n.ID)
	}
	g.nodes[n.ID] = n
	return nil
}

// AddEdge registers one edge instance. Multiple edges between the same
// (from, to) pair are allowed provided their EdgeNames differ.
func (g *Graph) AddEdge(e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[e.From]; !ok {
		return fmt.Errorf("dispatch: edge references unknown node %d", e.From)
	}
	if _, ok := g.nodes[e.To]; !ok {
		return fmt.Errorf("dispatch: edge references unknown node %d", e.To)
	}
	for _, existing := range g.edges[e.From] {
		if existing.To == e.To && existing.EdgeName == e.EdgeName {
			return fmt.Errorf("dispatch: duplicate edge %d->%d named %q", e.From, e.To, e.EdgeName)
		}
	}
	g.edges[e.From] = append(g.edges[e.From], e)
	return nil
}

// Node returns the node registered under id, or nil if none exists.
func (g *Graph) Node(id int) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}

// NodeIDs returns every node id in ascending order.
func (g *Graph) NodeIDs() []int {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]int, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// OutEdges returns the outgoing edges from node id.
func (g *Graph) OutEdges(id int) []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Edge(nil), g.edges[id]...)
}

// GetNodeValue reads an ad hoc per-node key/value slot, used for metadata
// that isn't part of the Node struct proper (selected executor overrides,
// scheduling hints).
func (g *Graph) GetNodeValue(nodeID int, key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.values[nodeID]
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// SetNodeValue writes an ad hoc per-node key/value slot.
func (g *Graph) SetNodeValue(nodeID int, key string, value any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.values[nodeID]
	if !ok {
		m = make(map[string]any)
		g.values[nodeID] = m
	}
	m[key] = value
}

// EdgeData is the per-edge-key view returned by GetEdgeData.
type EdgeData struct {
	EdgeName  string
	ParamType ParamType
	ArgIndex  int
	WaitFor   bool
}

// GetEdgeData returns every edge between parent and child, keyed by edge
// name, per §4.1.
func (g *Graph) GetEdgeData(parent, child int) map[string]EdgeData {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]EdgeData)
	for _, e := range g.edges[parent] {
		if e.To != child {
			continue
		}
		out[e.EdgeName] = EdgeData{
			EdgeName:  e.EdgeName,
			ParamType: e.ParamType,
			ArgIndex:  e.ArgIndex,
			WaitFor:   e.WaitFor,
		}
	}
	return out
}

// GetDependencies returns the set of parent node ids feeding into node.
func (g *Graph) GetDependencies(node int) map[int]struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	deps := make(map[int]struct{})
	for from, edges := range g.edges {
		for _, e := range edges {
			if e.To == node {
				deps[from] = struct{}{}
			}
		}
	}
	return deps
}

// InDegree returns the number of incoming edge *instances* to node —
// multiple edges from the same parent under distinct names each count, so
// that dependency counting in the Scheduler decrements once per edge
// instance, per §5's ordering guarantees.
func (g *Graph) InDegree(node int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	for _, edges := range g.edges {
		for _, e := range edges {
			if e.To == node {
				count++
			}
		}
	}
	return count
}

// SinkNodeID returns the id of the graph's single terminal node (a node
// with no outgoing edges). A sub-graph built by a sublattice node carries
// no workflow function of its own (the §6 wire format has no such field),
// so its default post-processing result is its sink node's value. Returns
// an error if the graph has zero or more than one terminal node, leaving
// such a sub-graph to complete without a default result.
func (g *Graph) SinkNodeID() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sinks []int
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			sinks = append(sinks, id)
		}
	}
	if len(sinks) != 1 {
		return 0, fmt.Errorf("dispatch: graph has %d terminal nodes, want exactly 1", len(sinks))
	}
	return sinks[0], nil
}

// Validate checks the structural invariants from §3: the graph is acyclic,
// every non-parameter node has an executor descriptor, and arg_index
// values on a node's incoming positional edges are contiguous from zero.
func (g *Graph) Validate() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.checkAcyclic(); err != nil {
		return err
	}

	for id, n := range g.nodes {
		if n.Kind != KindParameter && n.Executor == nil {
			return &InputError{Msg: fmt.Sprintf("node %d (%s) has no executor descriptor", id, n.Name)}
		}
	}

	argIndexes := make(map[int][]int) // child -> observed arg indexes
	for _, edges := range g.edges {
		for _, e := range edges {
			if e.WaitFor || e.ParamType != ParamArg {
				continue
			}
			argIndexes[e.To] = append(argIndexes[e.To], e.ArgIndex)
		}
	}
	for child, indexes := range argIndexes {
		sort.Ints(indexes)
		for i, idx := range indexes {
			if idx != i {
				return &InputError{Msg: fmt.Sprintf("node %d has non-contiguous arg_index values %v", child, indexes)}
			}
		}
	}

	return nil
}

func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int]int, len(g.nodes))

	var visit func(id int) error
	visit = func(id int) error {
		color[id] = gray
		for _, e := range g.edges[id] {
			switch color[e.To] {
			case gray:
				return &InputError{Msg: fmt.Sprintf("graph contains a cycle through node %d", e.To)}
			case white:
				if err := visit(e.To); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
