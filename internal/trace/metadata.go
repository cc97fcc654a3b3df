package trace

import (
	"context"

	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// buildTxMetadata resolves up to max inputs and outputs of tx into a node
// metadata map (spec.md §4.7.1 fast path, §4.7.2): the first max entries
// of each side, with display placeholders for non-address scripts.
// resolveInput supplies an address/value for inputs the upstream didn't
// embed a prevout for.
func buildTxMetadata(tx models.Transaction, max int, resolveInput func(models.TxIn) (addr string, value int64, ok bool)) map[string]any {
	if max <= 0 {
		max = 100
	}

	inputs := make([]map[string]any, 0, min(len(tx.Inputs), max))
	for i, in := range tx.Inputs {
		if i >= max {
			break
		}
		entry := map[string]any{"prevTxid": in.PrevTxid, "prevVout": in.PrevVout}
		if in.IsCoinbase() {
			entry["placeholder"] = "coinbase"
			inputs = append(inputs, entry)
			continue
		}
		addr, value, ok := resolveInput(in)
		entry["value"] = value
		if ok && addr != "" {
			entry["address"] = addr
		} else {
			entry["placeholder"] = "non-standard-input"
		}
		inputs = append(inputs, entry)
	}

	outputs := make([]map[string]any, 0, min(len(tx.Outputs), max))
	for i, out := range tx.Outputs {
		if i >= max {
			break
		}
		entry := map[string]any{"index": out.Index, "value": out.Value}
		switch {
		case out.Address != "":
			entry["address"] = out.Address
		case out.Placeholder != "":
			entry["placeholder"] = out.Placeholder
		default:
			entry["placeholder"] = "non-standard-output"
		}
		outputs = append(outputs, entry)
	}

	return map[string]any{"inputs": inputs, "outputs": outputs}
}

// batchResolver resolves prev addresses/values for every input across
// txs in a single batched fetch of whatever prev transactions weren't
// already embedded by the upstream (spec.md §4.7.1 fast path, §4.7.2's
// "resolve every input's prev address/value by batch-fetching prev
// transactions once").
func batchResolver(ctx context.Context, chain *chainservice.Service, txs []models.Transaction) func(models.TxIn) (string, int64, bool) {
	var needed []string
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			if !in.IsCoinbase() && in.PrevAddress == "" && in.PrevTxid != "" {
				needed = append(needed, in.PrevTxid)
			}
		}
	}

	byTxid := make(map[string]*models.Transaction)
	if len(needed) > 0 {
		resolved, err := chain.FetchTransactionsBatch(ctx, needed)
		if err == nil {
			for _, r := range resolved {
				if r != nil {
					byTxid[r.Txid] = r
				}
			}
		}
	}

	return func(in models.TxIn) (string, int64, bool) {
		if in.PrevAddress != "" {
			return in.PrevAddress, valueOrZero(in.PrevValue), true
		}
		prev, ok := byTxid[in.PrevTxid]
		if !ok || int(in.PrevVout) >= len(prev.Outputs) {
			return "", 0, false
		}
		out := prev.Outputs[in.PrevVout]
		return out.Address, out.Value, out.Address != ""
	}
}

// changeReasons turns a change-detection breakdown entry into the list of
// heuristics that fired for it (spec.md §4.6's signal names).
func changeReasons(s heuristics.OutputSignals) []string {
	var reasons []string
	if s.ScriptTypeMatch > 0 {
		reasons = append(reasons, "script_type_match")
	}
	if s.OptimalChange > 0 {
		reasons = append(reasons, "optimal_change")
	}
	if s.WalletPattern > 0 {
		reasons = append(reasons, "wallet_pattern")
	}
	if s.AddressReuse > 0 {
		reasons = append(reasons, "address_reuse")
	}
	if s.RoundAmount > 0 {
		reasons = append(reasons, "round_amount")
	}
	return reasons
}
