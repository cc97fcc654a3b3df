package models

// Address is the normalized address summary returned by C6's
// fetch_address_info (spec.md §3).
type Address struct {
	Address          string `json:"address"`
	ConfirmedBalance int64  `json:"confirmedBalance"`
	MempoolDelta     int64  `json:"mempoolDelta"`
	TotalReceived    int64  `json:"totalReceived"`
	TotalSent        int64  `json:"totalSent"`
	TxCount          int    `json:"txCount"`
	ReceivingCount   int    `json:"receivingCount"`
	SpendingCount    int    `json:"spendingCount"`
	// CompactSummary is true when the upstream reported a non-zero
	// TxCount but zero funded/spent counts, triggering backfill (§4.5).
	CompactSummary bool `json:"compactSummary,omitempty"`
}

// UTXO is an unspent transaction output (spec.md §3).
type UTXO struct {
	Txid          string     `json:"txid"`
	Vout          uint32     `json:"vout"`
	Value         int64      `json:"value"`
	Address       string     `json:"address"`
	ScriptType    ScriptType `json:"scriptType"`
	Height        *int       `json:"height,omitempty"`
	Confirmations int        `json:"confirmations"`
}
