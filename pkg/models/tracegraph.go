package models

// NodeKind distinguishes address nodes from transaction nodes in a
// TraceGraph (spec.md §3).
type NodeKind string

const (
	NodeAddress     NodeKind = "address"
	NodeTransaction NodeKind = "transaction"
)

// Node is one vertex of a TraceGraph. Exactly one of Address/Txid is set,
// matching Kind.
type Node struct {
	ID             string   `json:"id"`
	Kind           NodeKind `json:"kind"`
	Address        string   `json:"address,omitempty"`
	Txid           string   `json:"txid,omitempty"`
	IsStartingPoint bool    `json:"isStartingPoint,omitempty"`
	IsChange       bool     `json:"isChange,omitempty"`
	ChangeReasons  []string `json:"changeReasons,omitempty"`
	IsCoinJoin     bool     `json:"isCoinJoin,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Edge is a directed edge of a TraceGraph.
type Edge struct {
	From          string  `json:"from"`
	To            string  `json:"to"`
	Amount        int64   `json:"amount"`
	Vout          *uint32 `json:"vout,omitempty"`
	Confidence    float64 `json:"confidence"`
	HeuristicTag  string  `json:"heuristicTag,omitempty"`
}

// TraceGraph is the output of C8's trace entry points (spec.md §3).
type TraceGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// AddNode appends a node if its ID is not already present; otherwise it
// does nothing. Nodes and edges refer to each other by string ID
// ("tx:<txid>", "addr:<address>") rather than by pointer, per spec.md §9.
func (g *TraceGraph) AddNode(n Node) {
	for _, existing := range g.Nodes {
		if existing.ID == n.ID {
			return
		}
	}
	g.Nodes = append(g.Nodes, n)
}

// AddEdge appends an edge unconditionally; callers are responsible for
// not duplicating logical edges.
func (g *TraceGraph) AddEdge(e Edge) {
	g.Edges = append(g.Edges, e)
}

// FilterByConfidence drops edges below threshold. Orphaned nodes are left
// in place per spec.md §4.7.1 ("nodes they would have orphaned remain").
func (g *TraceGraph) FilterByConfidence(threshold float64) {
	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if e.Confidence >= threshold {
			kept = append(kept, e)
		}
	}
	g.Edges = kept
}
