package models

// Cluster is a set of addresses believed to belong to one entity
// (spec.md §3). ClusterID is deterministic: sha256 of the sorted,
// comma-joined member addresses, truncated to 16 hex characters.
type Cluster struct {
	ClusterID      string   `json:"clusterId"`
	Addresses      []string `json:"addresses"`
	Confidence     float64  `json:"confidence"`
	PrimaryHeuristic string `json:"primaryHeuristic"`
	TxCount        int      `json:"txCount"`
}

// ClusterStats summarizes the state of a cluster engine at a point in
// time.
type ClusterStats struct {
	TotalClusters  int `json:"totalClusters"`
	TotalAddresses int `json:"totalAddresses"`
}
