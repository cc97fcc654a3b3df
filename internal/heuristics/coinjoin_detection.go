package heuristics

import "github.com/rawblock/coinjoin-engine/pkg/models"

// CoinJoin Detection Module
//
// A transaction qualifies as a CoinJoin candidate once it has at least 5
// inputs, at least 3 outputs, and its most common output value repeats at
// least 3 times — the "equal output" signature multi-party mixes share.
// Past that gate, the repeated value and its surrounding structure decide
// which known protocol produced it.

const (
	whirlpoolEqualCountMin = 5

	// BTC denominations Whirlpool pools use, in satoshis.
	satsPerBTC = 100_000_000
)

var whirlpoolDenominations = []int64{
	100_000,     // 0.001 BTC
	1_000_000,   // 0.01 BTC
	5_000_000,   // 0.05 BTC
	50_000_000,  // 0.5 BTC
}

// DetectCoinJoin classifies a transaction as a CoinJoin and, if so,
// identifies the likely protocol. Returns nil if the gating condition
// (≥5 inputs, ≥3 outputs, a value repeated ≥3 times) is not met.
func DetectCoinJoin(tx models.Transaction) *models.CoinJoinRecord {
	if len(tx.Inputs) < 5 || len(tx.Outputs) < 3 {
		return nil
	}

	counts := make(map[int64]int, len(tx.Outputs))
	for _, out := range tx.Outputs {
		counts[out.Value]++
	}

	commonValue, equalCount := mostCommonValue(counts)
	if equalCount < 3 {
		return nil
	}

	record := &models.CoinJoinRecord{
		Txid:              tx.Txid,
		NumParticipants:   len(tx.Inputs),
		EqualOutputValue:  commonValue,
		EqualOutputCount:  equalCount,
		ChangeOutputIndices: changeLikeIndices(tx, commonValue),
	}

	switch {
	case isWhirlpoolDenomination(commonValue):
		record.Kind = models.CoinJoinWhirlpool
		if equalCount == whirlpoolEqualCountMin {
			record.Confidence = 0.95
		} else {
			record.Confidence = 0.85
		}
	case commonValue >= 5_000_000 && commonValue <= 50_000_000 && equalCount >= 10 && hasCoordinatorOutput(tx, commonValue):
		record.Kind = models.CoinJoinWasabi
		record.Confidence = 0.9
	case tx.LockTime > 0 || distinctValueRatio(tx) > 0.5:
		record.Kind = models.CoinJoinJoinMarket
		record.Confidence = 0.8
	default:
		record.Kind = models.CoinJoinGeneric
		record.Confidence = 0.75
	}

	return record
}

func mostCommonValue(counts map[int64]int) (value int64, count int) {
	for v, c := range counts {
		if c > count || (c == count && v < value) {
			value, count = v, c
		}
	}
	return value, count
}

func isWhirlpoolDenomination(sats int64) bool {
	for _, d := range whirlpoolDenominations {
		if sats == d {
			return true
		}
	}
	return false
}

// hasCoordinatorOutput reports whether the transaction carries a tiny
// output (<1% of the common equal-output value) — Wasabi's coordinator fee.
func hasCoordinatorOutput(tx models.Transaction, commonValue int64) bool {
	threshold := commonValue / 100
	if threshold <= 0 {
		return false
	}
	for _, out := range tx.Outputs {
		if out.Value > 0 && out.Value < threshold {
			return true
		}
	}
	return false
}

// distinctValueRatio is the fraction of outputs whose value is unique
// among the transaction's outputs.
func distinctValueRatio(tx models.Transaction) float64 {
	if len(tx.Outputs) == 0 {
		return 0
	}
	counts := make(map[int64]int, len(tx.Outputs))
	for _, out := range tx.Outputs {
		counts[out.Value]++
	}
	distinct := 0
	for _, out := range tx.Outputs {
		if counts[out.Value] == 1 {
			distinct++
		}
	}
	return float64(distinct) / float64(len(tx.Outputs))
}

// changeLikeIndices returns the outputs that don't carry the common
// equal-output value — the candidate change/coordinator remnants of
// the mix.
func changeLikeIndices(tx models.Transaction, commonValue int64) []int {
	var idxs []int
	for i, out := range tx.Outputs {
		if out.Value != commonValue {
			idxs = append(idxs, i)
		}
	}
	return idxs
}
