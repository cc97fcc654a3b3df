package models

// EvidenceEdge is a single piece of evidence linking two graph nodes
// (addresses, in practice) with a log-likelihood-ratio weight. It backs
// the clustering confidence computed by internal/heuristics' factor-graph
// layer — an enrichment over the plain float Cluster.Confidence (spec.md
// §3), not a replacement for it.
type EvidenceEdge struct {
	EdgeID          string  `json:"edgeId"`
	CreatedHeight   int     `json:"createdHeight"`
	SrcNodeID       string  `json:"srcNodeId"`
	DstNodeID       string  `json:"dstNodeId"`
	EdgeType        int     `json:"edgeType"`
	LLRScore        float64 `json:"llrScore"`
	DependencyGroup int     `json:"dependencyGroup"`
	SnapshotID      int64   `json:"snapshotId"`
	AuditHash       string  `json:"auditHash"`
}

// InferenceResult is the calibrated posterior produced by fusing a set of
// EvidenceEdges that share dependency groups.
type InferenceResult struct {
	PosteriorLLR     float64 `json:"posteriorLlr"`
	ConfidenceLevel  string  `json:"confidenceLevel"`
	DiscountedEdges  int     `json:"discountedEdges"`
	TotalEdges       int     `json:"totalEdges"`
	EffectiveFactors int     `json:"effectiveFactors"`
}
