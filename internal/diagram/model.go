package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAgent    NodeKind = "agent"
	NodeKindFallback NodeKind = "fallback"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// Model is the intermediate representation consumed by renderers.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single pipeline step in the diagram.
type Node struct {
	ID        string
	Label     string
	Kind      NodeKind
	Condition string // CEL guard, empty if unconditional
	Status    *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.StepStatus
	DurationMs int64
	RetryCount int
	Error      string
}

// EdgeKind distinguishes dependency edges from fallback substitution edges.
type EdgeKind string

const (
	EdgeKindDependency EdgeKind = "dependency"
	EdgeKindFallback   EdgeKind = "fallback"
)

// Edge represents a relation between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
	Kind  EdgeKind
}
