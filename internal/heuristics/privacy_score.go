package heuristics

import (
	"math"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// Calibrated Privacy Score Engine
//
// Replaces an ad-hoc penalty system with a Bayesian-calibrated model where
// each surviving signal contributes a weighted evidence factor:
//
//   Score = clamp(0, 100, base + Σ(signal_i * weight_i))
//
// Weights:
//   - Address reuse:     -40 (Meiklejohn 2013: single strongest deanon)
//   - Change detection:  -confidence*25
//   - Peel chain:        -confidence*15 (Harrigan 2016)
//   - Consolidation:     -20 (many-in-one-out UTXO cleanup)
//   - CoinJoin:          +35 (Möser 2017 anonymity set gain)
//   - Weak mix:          -linkability*30
//   - Large cluster:     -15 (common-input-ownership bleed)
//
// Traceability = 1.0 - (score/100), capped at [0, 1]

const (
	WeightAddressReuse  = -40
	WeightCoinJoinBoost = 35
	WeightConsolidation = -20
	WeightSimplePayment = -15
	WeightWeakMix       = -30
	WeightLargeCluster  = -15
)

// PrivacyAssessmentInput collects the heuristic-engine outputs that feed
// into a single calibrated privacy score for a transaction. Callers
// assemble this from whichever of the per-transaction analyses ran.
type PrivacyAssessmentInput struct {
	Tx          models.Transaction
	Change      ChangeDetectionResult
	CoinJoin    *models.CoinJoinRecord
	Peel        models.PeelChainResult
	Unmix       UnmixResult
	ClusterSize int
}

// ScoreBreakdown is the calibrated privacy verdict for a transaction.
type ScoreBreakdown struct {
	PrivacyScore    int      `json:"privacyScore"` // 0-100, higher = more private
	Traceability    float64  `json:"traceability"` // 0.0-1.0, inverse of PrivacyScore
	AddressReuse    int      `json:"addressReuse,omitempty"`
	ChangeDetection int      `json:"changeDetection,omitempty"`
	PeelChain       int      `json:"peelChain,omitempty"`
	Consolidation   int      `json:"consolidation,omitempty"`
	CoinJoinBoost   int      `json:"coinJoinBoost,omitempty"`
	WeakMixPenalty  int      `json:"weakMixPenalty,omitempty"`
	ClusterPenalty  int      `json:"clusterPenalty,omitempty"`
	Factors         []string `json:"factors"`
}

// CalibratePrivacyScore computes the final privacy score from the
// available heuristic signals using weighted composition.
func CalibratePrivacyScore(in PrivacyAssessmentInput) ScoreBreakdown {
	bd := ScoreBreakdown{}
	score := 70 // neutral baseline: neither provably private nor provably traceable

	if addressReused(in.Change) {
		bd.AddressReuse = WeightAddressReuse
		score += WeightAddressReuse
		bd.Factors = append(bd.Factors, "address_reuse")
	}

	if in.Change.Confidence > 0 {
		penalty := int(in.Change.Confidence * 25)
		bd.ChangeDetection = -penalty
		score -= penalty
		bd.Factors = append(bd.Factors, "change_detected")
	}

	if len(in.Peel.Hops) > 0 {
		avgConfidence := 0.0
		for _, hop := range in.Peel.Hops {
			avgConfidence += hop.Confidence
		}
		avgConfidence /= float64(len(in.Peel.Hops))
		penalty := int(avgConfidence * 15)
		bd.PeelChain = -penalty
		score -= penalty
		bd.Factors = append(bd.Factors, "peel_chain")
	}

	if len(in.Tx.Inputs) > 3 && len(in.Tx.Outputs) == 1 {
		bd.Consolidation = WeightConsolidation
		score += WeightConsolidation
		bd.Factors = append(bd.Factors, "consolidation")
	} else if len(in.Tx.Outputs) == 2 && len(in.Tx.Inputs) == 1 {
		bd.Consolidation = WeightSimplePayment
		score += WeightSimplePayment
		bd.Factors = append(bd.Factors, "simple_payment")
	}

	if in.CoinJoin != nil && in.CoinJoin.IsCoinJoin() {
		bd.CoinJoinBoost = WeightCoinJoinBoost
		score += WeightCoinJoinBoost
		bd.Factors = append(bd.Factors, "coinjoin:"+string(in.CoinJoin.Kind))

		if in.Unmix.LinkabilityScore > 0 {
			penalty := int(in.Unmix.LinkabilityScore * 30)
			bd.WeakMixPenalty = -penalty
			score -= penalty
			bd.Factors = append(bd.Factors, "weak_mix:"+in.Unmix.MixQuality)
		}
	}

	if in.ClusterSize > 5 {
		bd.ClusterPenalty = WeightLargeCluster
		score += WeightLargeCluster
		bd.Factors = append(bd.Factors, "large_cluster")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	bd.PrivacyScore = score
	bd.Traceability = ComputeTraceability(score)
	return bd
}

// addressReused reports whether the change-detection pass observed an
// address-reuse signal on any output.
func addressReused(change ChangeDetectionResult) bool {
	for _, out := range change.Breakdown {
		if out.AddressReuse > 0 {
			return true
		}
	}
	return false
}

// ComputeTraceability returns the inverse privacy metric: the probability
// that an analyst can de-anonymize the transaction. 0.0 = untraceable,
// 1.0 = fully transparent.
func ComputeTraceability(privacyScore int) float64 {
	return math.Round((1.0-float64(privacyScore)/100.0)*100) / 100
}
