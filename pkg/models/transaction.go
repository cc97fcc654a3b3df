package models

// ScriptType tags the recognized output script templates (spec.md §3).
// Anything outside the canonical set normalizes to ScriptUnknown.
type ScriptType string

const (
	ScriptP2PK    ScriptType = "P2PK"
	ScriptP2PKH   ScriptType = "P2PKH"
	ScriptP2SH    ScriptType = "P2SH"
	ScriptP2WPKH  ScriptType = "P2WPKH"
	ScriptP2WSH   ScriptType = "P2WSH"
	ScriptP2TR    ScriptType = "P2TR"
	ScriptUnknown ScriptType = "UNKNOWN"
)

// coinbasePrevTxid is the all-zero marker upstream mempool-style APIs use
// for coinbase inputs.
const coinbasePrevTxid = "0000000000000000000000000000000000000000000000000000000000000000"

// TxIn is a transaction input. PrevAddress/PrevValue come straight from the
// upstream's embedded prevout data; normalization issues no extra fetch to
// fill them. Where they are empty, the trace engine resolves them by
// batch-fetching the previous transactions (internal/trace/metadata.go).
type TxIn struct {
	PrevTxid    string   `json:"prevTxid"`
	PrevVout    uint32   `json:"prevVout"`
	Sequence    uint32   `json:"sequence"`
	PrevAddress string   `json:"prevAddress,omitempty"`
	PrevValue   *int64   `json:"prevValue,omitempty"`
	ScriptSig   string   `json:"scriptSig,omitempty"`
	Witness     []string `json:"witness,omitempty"`
}

// IsCoinbase reports whether this input is the coinbase marker. Coinbase
// inputs are skipped by the trace engine (spec.md §3).
func (in TxIn) IsCoinbase() bool {
	return in.PrevTxid == "" || in.PrevTxid == coinbasePrevTxid
}

// TxOut is a transaction output, 0-indexed and contiguous as it appears
// on-chain (spec.md §3 invariant).
type TxOut struct {
	Index        int        `json:"index"`
	Value        int64      `json:"value"`
	ScriptPubKey string     `json:"scriptPubKey"`
	Address      string     `json:"address,omitempty"`
	ScriptType   ScriptType `json:"scriptType"`
	Spent        *bool      `json:"spent,omitempty"`
	SpendingTxid string     `json:"spendingTxid,omitempty"`
	// Placeholder is the display-only label produced for addressless
	// outputs (spec.md §4.5.1) — it is never consumed by a heuristic.
	Placeholder string `json:"placeholder,omitempty"`
}

// Transaction is the normalized, chain-semantic record every C6 fetcher
// returns. A nil BlockHeight means mempool-only (spec.md §3).
type Transaction struct {
	Txid        string  `json:"txid"`
	Version     int32   `json:"version"`
	LockTime    uint32  `json:"locktime"`
	Size        int     `json:"size"`
	Vsize       int     `json:"vsize"`
	Weight      int     `json:"weight"`
	Fee         *int64  `json:"fee,omitempty"`
	BlockHeight *int    `json:"blockHeight,omitempty"`
	BlockHash   string  `json:"blockHash,omitempty"`
	BlockTime   *int64  `json:"blockTime,omitempty"`
	Inputs      []TxIn  `json:"inputs"`
	Outputs     []TxOut `json:"outputs"`
}

// IsMempoolOnly reports the cache-freshness gate of spec.md §4.5: a cached
// record is only honored when it carries a confirmed block height.
func (t Transaction) IsMempoolOnly() bool {
	return t.BlockHeight == nil
}

// KnownInputValue sums resolved input values, skipping coinbase inputs, and
// reports how many inputs had no resolvable prevout value.
func (t Transaction) KnownInputValue() (sum int64, unknown int) {
	for _, in := range t.Inputs {
		if in.IsCoinbase() {
			continue
		}
		if in.PrevValue == nil {
			unknown++
			continue
		}
		sum += *in.PrevValue
	}
	return sum, unknown
}

// OutputValue sums all output values.
func (t Transaction) OutputValue() int64 {
	var sum int64
	for _, out := range t.Outputs {
		sum += out.Value
	}
	return sum
}

// FeeRateSatVB returns the fee rate in sat/vB, or 0 if fee/vsize are
// unavailable.
func (t Transaction) FeeRateSatVB() float64 {
	if t.Fee == nil || t.Vsize <= 0 {
		return 0
	}
	return float64(*t.Fee) / float64(t.Vsize)
}
