package models

// PeelChainHop is one link in a peel chain (spec.md §3).
type PeelChainHop struct {
	HopNumber         int     `json:"hopNumber"`
	Txid              string  `json:"txid"`
	PaymentOutputIndex int    `json:"paymentOutputIndex"`
	PaymentValue      int64   `json:"paymentValue"`
	PaymentAddress    string  `json:"paymentAddress,omitempty"`
	ChangeOutputIndex int     `json:"changeOutputIndex"`
	ChangeValue       int64   `json:"changeValue"`
	ChangeAddress     string  `json:"changeAddress,omitempty"`
	Confidence        float64 `json:"confidence"`
	Timestamp         int64   `json:"timestamp"`
}

// PeelChainPattern classifies the regularity of a followed chain
// (spec.md §4.6).
type PeelChainPattern string

const (
	PatternSystematic     PeelChainPattern = "systematic"
	PatternSemiSystematic PeelChainPattern = "semi_systematic"
	PatternVariable       PeelChainPattern = "variable"
	PatternShortChain     PeelChainPattern = "short_chain"
)

// PeelChainResult is the aggregate result of following a chain from a
// starting transaction (spec.md §4.6, §4.7.1).
type PeelChainResult struct {
	Hops            []PeelChainHop   `json:"hops"`
	TotalPeeled      int64            `json:"totalPeeled"`
	AverageHopTimeSeconds float64     `json:"averageHopTimeSeconds"`
	Pattern         PeelChainPattern `json:"pattern"`
}
