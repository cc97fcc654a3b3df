// Package chainservice is the upstream data service (C6): it turns raw
// mempool/Esplora-style JSON fetched through internal/upstream into the
// normalized models.Transaction/models.Address records every other
// component works with, and applies the cache-aside and pagination
// policies spec.md §4.5 describes. Grounded on
// `_examples/other_examples/6b99a5f8_..._btc.go.go` (BlockstreamProvider/
// MempoolProvider) for the raw JSON shapes, and on
// `blockchain_data.py`/`mempool_client.py` in original_source for the
// compact-summary/pagination rules.
package chainservice

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// rawTx mirrors the Esplora/mempool.space transaction JSON shape. Field
// names match the upstream wire format exactly; everything downstream
// works against models.Transaction instead (spec.md §4.5.1 — "the only
// script parsing the core performs" lives in this file).
type rawTx struct {
	Txid     string  `json:"txid"`
	Version  int32   `json:"version"`
	Locktime uint32  `json:"locktime"`
	Size     int     `json:"size"`
	Weight   int     `json:"weight"`
	Vsize    *int    `json:"vsize"`
	Fee      *int64  `json:"fee"`
	Vin      []rawIn `json:"vin"`
	Vout     []rawOut `json:"vout"`
	Status   *rawStatus `json:"status"`
}

type rawStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight *int   `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   *int64 `json:"block_time"`
}

type rawIn struct {
	Txid     string      `json:"txid"`
	Vout     uint32      `json:"vout"`
	Sequence uint32      `json:"sequence"`
	Prevout  *rawPrevout `json:"prevout"`
	Scriptsig string     `json:"scriptsig"`
	Witness   []string   `json:"witness"`
	IsCoinbase bool      `json:"is_coinbase"`
}

type rawPrevout struct {
	ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	ScriptpubkeyType     string `json:"scriptpubkey_type"`
	Value                int64  `json:"value"`
}

type rawOut struct {
	ScriptpubkeyAddress string `json:"scriptpubkey_address"`
	ScriptpubkeyType     string `json:"scriptpubkey_type"`
	Scriptpubkey         string `json:"scriptpubkey"`
	Value                int64  `json:"value"`
}

// ParseTransaction decodes and normalizes one upstream transaction
// response. Tolerant of missing/null fields the way a boundary decoder
// should be (spec.md §9) — only txid is required.
func ParseTransaction(body []byte) (models.Transaction, error) {
	var raw rawTx
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Transaction{}, err
	}
	return normalizeTransaction(raw), nil
}

func normalizeTransaction(raw rawTx) models.Transaction {
	tx := models.Transaction{
		Txid:     raw.Txid,
		Version:  raw.Version,
		LockTime: raw.Locktime,
		Size:     raw.Size,
		Weight:   raw.Weight,
	}

	if raw.Vsize != nil {
		tx.Vsize = *raw.Vsize
	} else if raw.Weight > 0 {
		// vsize = ceil(weight / 4) when the upstream omits it (§4.5.1).
		tx.Vsize = int(math.Ceil(float64(raw.Weight) / 4.0))
	}

	if raw.Status == nil || !raw.Status.Confirmed {
		// Missing or null status, or confirmed=false, means unconfirmed
		// (§4.5.1): BlockHeight/Hash/Time all stay zero-valued.
	} else {
		tx.BlockHeight = raw.Status.BlockHeight
		tx.BlockHash = raw.Status.BlockHash
		tx.BlockTime = raw.Status.BlockTime
	}

	tx.Inputs = make([]models.TxIn, 0, len(raw.Vin))
	for _, in := range raw.Vin {
		txin := models.TxIn{
			PrevTxid:  in.Txid,
			PrevVout:  in.Vout,
			Sequence:  in.Sequence,
			ScriptSig: in.Scriptsig,
			Witness:   in.Witness,
		}
		if in.Prevout != nil {
			txin.PrevAddress = in.Prevout.ScriptpubkeyAddress
			v := in.Prevout.Value
			txin.PrevValue = &v
		}
		tx.Inputs = append(tx.Inputs, txin)
	}

	tx.Outputs = make([]models.TxOut, 0, len(raw.Vout))
	allInputsKnown := len(raw.Vin) > 0
	var totalIn, totalOut int64
	for _, in := range raw.Vin {
		if in.IsCoinbase {
			continue
		}
		if in.Prevout == nil {
			allInputsKnown = false
			continue
		}
		totalIn += in.Prevout.Value
	}

	for i, out := range raw.Vout {
		txout := models.TxOut{
			Index:        i,
			Value:        out.Value,
			ScriptPubKey: out.Scriptpubkey,
			Address:      out.ScriptpubkeyAddress,
			ScriptType:   normalizeScriptType(out.ScriptpubkeyType),
		}
		if txout.Address == "" {
			// Display placeholder for addressless outputs (OP_RETURN,
			// bare multisig, ...) — never read by a heuristic.
			txout.Placeholder = "unparsed-script:" + shortHex(out.Scriptpubkey)
		}
		tx.Outputs = append(tx.Outputs, txout)
		totalOut += out.Value
	}

	if raw.Fee != nil {
		tx.Fee = raw.Fee
	} else if allInputsKnown && len(raw.Vin) > 0 {
		fee := totalIn - totalOut
		tx.Fee = &fee
	}

	return tx
}

// normalizeScriptType strips the v0_/v1_ segwit-version prefixes Esplora
// uses (v0_p2wpkh, v1_p2tr) down to the canonical script type (§4.5.1).
func normalizeScriptType(raw string) models.ScriptType {
	s := strings.ToLower(raw)
	s = strings.TrimPrefix(s, "v0_")
	s = strings.TrimPrefix(s, "v1_")
	switch s {
	case "p2pk":
		return models.ScriptP2PK
	case "p2pkh":
		return models.ScriptP2PKH
	case "p2sh":
		return models.ScriptP2SH
	case "p2wpkh":
		return models.ScriptP2WPKH
	case "p2wsh":
		return models.ScriptP2WSH
	case "p2tr":
		return models.ScriptP2TR
	default:
		return models.ScriptUnknown
	}
}

func shortHex(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}
