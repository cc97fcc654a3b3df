package heuristics

import (
	"strings"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// ChangeDetectionResult captures the per-output change probabilities and
// the argmax decision (spec.md §4.6).
type ChangeDetectionResult struct {
	ChangeIndex int                `json:"changeIndex"` // -1 if fewer than 2 outputs
	Confidence  float64            `json:"confidence"`
	Breakdown   []OutputSignals    `json:"breakdown"`
}

// OutputSignals is the per-heuristic breakdown for one output.
type OutputSignals struct {
	Index           int     `json:"index"`
	Probability     float64 `json:"probability"`
	AddressReuse    float64 `json:"addressReuse,omitempty"`
	RoundAmount     float64 `json:"roundAmount,omitempty"`
	ScriptTypeMatch float64 `json:"scriptTypeMatch,omitempty"`
	OptimalChange   float64 `json:"optimalChange,omitempty"`
	WalletPattern   float64 `json:"walletPattern,omitempty"`
}

// DetectChangeOutput scores every output of a ≥2-output transaction and
// picks the most likely change output (spec.md §4.6).
//
// Each output starts at probability 0.5. Address-reuse and round-amount
// signals are evidence the output is a *payment*, so they multiplicatively
// decrease the change probability (p *= 1-score). Script-type match,
// optimal-change, and wallet-pattern are evidence the output *is* change,
// so they boost the probability toward 1 (p += (1-p)*score).
func DetectChangeOutput(tx models.Transaction, knownAddresses map[string]bool) ChangeDetectionResult {
	result := ChangeDetectionResult{ChangeIndex: -1}
	if len(tx.Outputs) < 2 {
		return result
	}

	breakdown := make([]OutputSignals, len(tx.Outputs))
	probs := make([]float64, len(tx.Outputs))
	for i := range tx.Outputs {
		probs[i] = 0.5
		breakdown[i].Index = i
	}

	applyDecrease := func(i int, score float64, set func(*OutputSignals, float64)) {
		probs[i] *= 1 - score
		set(&breakdown[i], score)
	}
	applyBoost := func(i int, score float64, set func(*OutputSignals, float64)) {
		probs[i] += (1 - probs[i]) * score
		set(&breakdown[i], score)
	}

	// Address reuse: output address has appeared in prior known transactions.
	for i, out := range tx.Outputs {
		if out.Address != "" && knownAddresses != nil && knownAddresses[out.Address] {
			applyDecrease(i, 0.95, func(s *OutputSignals, v float64) { s.AddressReuse = v })
		}
	}

	// Round amount.
	for i, out := range tx.Outputs {
		score := roundAmountScore(out.Value)
		if score > 0 {
			applyDecrease(i, score, func(s *OutputSignals, v float64) { s.RoundAmount = v })
		}
	}

	// Script-type match: output script type equals any input's script type.
	inputTypes := make(map[ScriptTypeTag]bool)
	for _, in := range tx.Inputs {
		if t := classifyAddressType(in.PrevAddress); t != "" {
			inputTypes[t] = true
		}
	}
	for i, out := range tx.Outputs {
		if t := classifyAddressType(out.Address); t != "" && inputTypes[t] {
			applyBoost(i, 0.8, func(s *OutputSignals, v float64) { s.ScriptTypeMatch = v })
		}
	}

	// Optimal change (2-output only): if removing any single input still
	// covers the sum of outputs, the larger output is payment, smaller is
	// change.
	if len(tx.Outputs) == 2 && len(tx.Inputs) > 0 {
		totalIn, _ := tx.KnownInputValue()
		totalOut := tx.OutputValue()
		for _, in := range tx.Inputs {
			if in.PrevValue == nil {
				continue
			}
			if totalIn-*in.PrevValue >= totalOut {
				smaller := 0
				if tx.Outputs[1].Value < tx.Outputs[0].Value {
					smaller = 1
				}
				applyBoost(smaller, 0.75, func(s *OutputSignals, v float64) { s.OptimalChange = v })
				break
			}
		}
	}

	// Wallet pattern (BIP69): ascending value, exactly 2 outputs (scripts
	// are not compared).
	if len(tx.Outputs) == 2 && tx.Outputs[0].Value <= tx.Outputs[1].Value {
		applyBoost(1, 0.55, func(s *OutputSignals, v float64) { s.WalletPattern = v })
	}

	bestIdx, bestProb := 0, probs[0]
	for i, p := range probs {
		breakdown[i].Probability = p
		if p > bestProb {
			bestProb = p
			bestIdx = i
		}
	}

	result.ChangeIndex = bestIdx
	result.Confidence = bestProb
	result.Breakdown = breakdown
	return result
}

// roundAmountScore implements spec.md §4.6's round-amount signal: a value
// within 100 sats of the canonical BTC denomination set scores 0.7; ≤2 decimal
// places in BTC scores 0.6; otherwise 0.
func roundAmountScore(sats int64) float64 {
	if sats <= 0 {
		return 0
	}
	const sat = 100_000_000
	denominations := []int64{
		100 * sat, 50 * sat, 10 * sat, 5 * sat, sat,
		sat / 2, sat / 10, sat / 100, sat / 1000,
	}
	for _, d := range denominations {
		if abs64(sats-d) < 100 { // within 1e-6 BTC
			return 0.7
		}
	}
	if sats%(sat/100) == 0 {
		return 0.6
	}
	return 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// isRoundAmount is the boolean form used by peel-chain and amount-pattern
// heuristics.
func isRoundAmount(sats int64) bool {
	return roundAmountScore(sats) > 0
}

// ScriptTypeTag is the coarse address-type bucket used for script-type
// matching; distinct from models.ScriptType, which tags raw script_pubkey
// templates as reported by the upstream.
type ScriptTypeTag string

const (
	tagP2TR     ScriptTypeTag = "p2tr"
	tagP2WPKH   ScriptTypeTag = "p2wpkh"
	tagP2SH     ScriptTypeTag = "p2sh"
	tagP2PKH    ScriptTypeTag = "p2pkh"
	tagUnknown  ScriptTypeTag = ""
)

// classifyAddressType buckets an address string by its human-readable
// prefix. Used for the change-detection script-type-match signal and by
// the LLR engine's script-homogeneity check.
func classifyAddressType(addr string) ScriptTypeTag {
	switch {
	case addr == "":
		return tagUnknown
	case strings.HasPrefix(addr, "bc1p"), strings.HasPrefix(addr, "tb1p"):
		return tagP2TR
	case strings.HasPrefix(addr, "bc1q"), strings.HasPrefix(addr, "tb1q"):
		return tagP2WPKH
	case strings.HasPrefix(addr, "3"), strings.HasPrefix(addr, "2"):
		return tagP2SH
	case strings.HasPrefix(addr, "1"), strings.HasPrefix(addr, "m"), strings.HasPrefix(addr, "n"):
		return tagP2PKH
	default:
		return tagUnknown
	}
}
