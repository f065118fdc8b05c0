package dispatch

// ParamType classifies how an edge's value is bound into the child node's
// call.
type ParamType string

const (
	// ParamArg binds the edge's value as a positional argument at ArgIndex.
	ParamArg ParamType = "arg"
	// ParamKwarg binds the edge's value as a keyword argument under
	// EdgeName.
	ParamKwarg ParamType = "kwarg"
)

// Edge is one connection between two nodes in the transport multigraph.
//
// The same (From, To) pair may carry multiple Edges under distinct
// EdgeNames — e.g. one positional argument and one wait-for ordering edge
// between the same two nodes — per the transport graph invariant in §3.
type Edge struct {
	From     int
	To       int
	EdgeName string

	ParamType ParamType
	ArgIndex  int

	// WaitFor marks an edge that contributes only to dependency counting;
	// its parent's value is never bound into the child's call.
	WaitFor bool
}
