package heuristics

import (
	"math"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// Amount Pattern Analysis
//
// Supplements the change/CoinJoin heuristics with signals over the raw
// output-value distribution: fixed-denomination clustering, pass-through
// structure, and Shannon-entropy normalization. Grounded on the original
// Python analysis/amount_patterns.py and the teacher's entropy helper in
// coinjoin_unmix.go.

// AmountPatternResult summarizes the value-distribution signals for a
// transaction's outputs.
type AmountPatternResult struct {
	FixedDenomination   bool    `json:"fixedDenomination"`
	DominantValue       int64   `json:"dominantValue,omitempty"`
	DominantFraction    float64 `json:"dominantFraction"`
	PassThroughSuspect  bool    `json:"passThroughSuspect"`
	Entropy             float64 `json:"entropy"`
	NormalizedEntropy   float64 `json:"normalizedEntropy"`
}

// AnalyzeAmountPatterns computes the amount-pattern signals for a
// transaction's outputs (spec.md §4.6).
func AnalyzeAmountPatterns(tx models.Transaction) AmountPatternResult {
	var result AmountPatternResult
	if len(tx.Outputs) == 0 {
		return result
	}

	result.Entropy = ComputeOutputValueEntropy(tx.Outputs)
	maxEntropy := math.Log2(float64(len(tx.Outputs)))
	if maxEntropy > 0 {
		result.NormalizedEntropy = result.Entropy / maxEntropy
	}

	if len(tx.Outputs) >= 5 {
		groups := GetOutputValueDistribution(tx.Outputs)
		if len(groups) > 0 {
			top := groups[0]
			fraction := float64(top.Count) / float64(len(tx.Outputs))
			result.DominantValue = top.Value
			result.DominantFraction = fraction
			if fraction >= 0.9 {
				result.FixedDenomination = true
			}
		}
	}

	result.PassThroughSuspect = isPassThrough(tx)

	return result
}

// isPassThrough is a heuristic placeholder (spec.md §4.6 names it as
// such): a single input funding a single dominant-value output, with at
// most one other output, looks like value being relayed rather than
// spent — the rest of the trace is expected to confirm or refute it.
func isPassThrough(tx models.Transaction) bool {
	if len(tx.Inputs) != 1 || len(tx.Outputs) > 2 {
		return false
	}
	in := tx.Inputs[0]
	if in.PrevValue == nil {
		return false
	}
	for _, out := range tx.Outputs {
		ratio := float64(out.Value) / float64(*in.PrevValue)
		if ratio >= 0.97 {
			return true
		}
	}
	return false
}
