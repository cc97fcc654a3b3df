package heuristics

import (
	"math"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// Peel Chain Detection Module
//
// Peel chains occur when a wallet makes serial payments, forwarding the
// bulk of value to a new change address at each step:
//
//   Tx₁: [UTXO_A] → [Payment₁, Change₁]
//   Tx₂: [Change₁] → [Payment₂, Change₂]
//   Tx₃: [Change₂] → [Payment₃, Change₃]
//   ...
//
// This file is pure: it never fetches a spending transaction itself.
// Following the chain (finding each change output's spending tx) is the
// trace orchestrator's job (internal/trace), which supplies the fetched
// transactions here in order.

// PeelChainCandidate is the per-transaction classification of whether a
// single transaction looks like one hop of a peel chain (spec.md §4.6).
type PeelChainCandidate struct {
	IsPeelStep   bool
	Confidence   float64
	ChangeIndex  int
	PaymentIndex int
	ChangeValue  int64
	PaymentValue int64
}

// DetectPeelChainStep classifies a single transaction as a peel hop.
//
// A hop requires exactly 2 outputs with payment/total ≤ 0.5. Base
// confidence comes from how lopsided the split is; if independent change
// detection agrees the larger output is change, confidence is boosted by
// 1.1x (capped at 0.99).
func DetectPeelChainStep(tx models.Transaction, isCoinJoin bool, changeDetection ChangeDetectionResult) PeelChainCandidate {
	result := PeelChainCandidate{ChangeIndex: -1, PaymentIndex: -1}
	if isCoinJoin || len(tx.Outputs) != 2 {
		return result
	}

	total := tx.Outputs[0].Value + tx.Outputs[1].Value
	if total <= 0 {
		return result
	}

	payIdx, changeIdx := 0, 1
	if tx.Outputs[1].Value < tx.Outputs[0].Value {
		payIdx, changeIdx = 1, 0
	}

	paymentRatio := float64(tx.Outputs[payIdx].Value) / float64(total)
	changeRatio := 1 - paymentRatio
	if paymentRatio > 0.5 {
		return result
	}

	var confidence float64
	switch {
	case paymentRatio < 0.05 && changeRatio > 0.95:
		confidence = 0.95
	case paymentRatio < 0.10:
		confidence = 0.85
	case paymentRatio < 0.20:
		confidence = 0.75
	default:
		confidence = 0.65
	}

	if changeDetection.ChangeIndex == changeIdx {
		confidence = math.Min(confidence*1.1, 0.99)
	}

	result.IsPeelStep = true
	result.Confidence = confidence
	result.ChangeIndex = changeIdx
	result.PaymentIndex = payIdx
	result.ChangeValue = tx.Outputs[changeIdx].Value
	result.PaymentValue = tx.Outputs[payIdx].Value
	return result
}

// ChainStep is one fetched transaction plus its peel classification,
// supplied by the caller in chain order (tx i+1 spends tx i's change
// output).
type ChainStep struct {
	Tx        models.Transaction
	Candidate PeelChainCandidate
	Timestamp int64
}

// BuildPeelChainSequence turns an ordered, already-followed sequence of
// peel steps into the aggregate PeelChainResult (spec.md §3, §4.6).
// minConfidence truncates the sequence at the first hop whose confidence
// falls below it (the caller is expected to have already stopped
// following at that point, but this re-asserts the invariant).
func BuildPeelChainSequence(steps []ChainStep, minConfidence float64) models.PeelChainResult {
	var result models.PeelChainResult
	if len(steps) == 0 {
		return result
	}

	var totalPeeled int64
	var hopTimes []float64
	var paymentValues []float64

	for i, step := range steps {
		if !step.Candidate.IsPeelStep || step.Candidate.Confidence < minConfidence {
			break
		}
		hop := models.PeelChainHop{
			HopNumber:          i + 1,
			Txid:               step.Tx.Txid,
			PaymentOutputIndex: step.Candidate.PaymentIndex,
			PaymentValue:       step.Candidate.PaymentValue,
			ChangeOutputIndex:  step.Candidate.ChangeIndex,
			ChangeValue:        step.Candidate.ChangeValue,
			Confidence:         step.Candidate.Confidence,
			Timestamp:          step.Timestamp,
		}
		if step.Candidate.PaymentIndex >= 0 && step.Candidate.PaymentIndex < len(step.Tx.Outputs) {
			hop.PaymentAddress = step.Tx.Outputs[step.Candidate.PaymentIndex].Address
		}
		if step.Candidate.ChangeIndex >= 0 && step.Candidate.ChangeIndex < len(step.Tx.Outputs) {
			hop.ChangeAddress = step.Tx.Outputs[step.Candidate.ChangeIndex].Address
		}
		result.Hops = append(result.Hops, hop)
		totalPeeled += step.Candidate.PaymentValue
		paymentValues = append(paymentValues, float64(step.Candidate.PaymentValue))
		if i > 0 {
			hopTimes = append(hopTimes, float64(step.Timestamp-steps[i-1].Timestamp))
		}
	}

	result.TotalPeeled = totalPeeled
	if len(hopTimes) > 0 {
		var sum float64
		for _, t := range hopTimes {
			sum += t
		}
		result.AverageHopTimeSeconds = sum / float64(len(hopTimes))
	}
	result.Pattern = classifyPeelPattern(len(result.Hops), paymentValues)
	return result
}

// classifyPeelPattern buckets a chain by the relative variance of its
// payment values (spec.md §4.6).
func classifyPeelPattern(hopCount int, paymentValues []float64) models.PeelChainPattern {
	if hopCount < 3 {
		return models.PatternShortChain
	}
	mean := 0.0
	for _, v := range paymentValues {
		mean += v
	}
	mean /= float64(len(paymentValues))
	if mean == 0 {
		return models.PatternVariable
	}
	var variance float64
	for _, v := range paymentValues {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(paymentValues))
	relStdDev := math.Sqrt(variance) / mean

	switch {
	case relStdDev < 0.1:
		return models.PatternSystematic
	case relStdDev < 0.35:
		return models.PatternSemiSystematic
	default:
		return models.PatternVariable
	}
}

// ScorePeelChainLLR converts peel-chain confidence into an LLR score for
// the evidence graph; longer chains scale it linearly by 1+0.5*(n-1),
// capped at 5x.
func ScorePeelChainLLR(chainLength int, confidence float64) float64 {
	baseLLR := ProbToLLR(confidence)
	lengthBonus := 1.0
	if chainLength > 1 {
		lengthBonus = 1.0 + 0.5*float64(chainLength-1)
		if lengthBonus > 5.0 {
			lengthBonus = 5.0
		}
	}
	return baseLLR * lengthBonus
}
