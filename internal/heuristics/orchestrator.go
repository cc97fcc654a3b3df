package heuristics

import "github.com/rawblock/coinjoin-engine/pkg/models"

// Per-Transaction Analysis Orchestrator
//
// Ties the independent heuristic engines together into one result per
// transaction. Each engine stays a pure function over already-fetched
// data (spec.md §4.6); this just calls them in sequence and folds their
// outputs into a single calibrated verdict. Peel-chain following is
// deliberately excluded here — it requires fetching each hop's spending
// transaction, which is internal/trace's job, not this package's.

// TxAnalysis is the full per-transaction heuristic verdict: every engine
// output plus the composed privacy score and real-time threat assessment.
type TxAnalysis struct {
	Tx             models.Transaction
	Change         ChangeDetectionResult
	CoinJoin       *models.CoinJoinRecord
	Unmix          UnmixResult
	AmountPatterns AmountPatternResult
	Privacy        ScoreBreakdown
	Threat         ThreatAssessment
	WatchlistHits  []WatchlistHit
}

// AnalyzeTransaction runs the full heuristic pipeline over a single
// transaction. knownAddresses feeds the change-detection address-reuse
// signal; clusterSize is the size of the input-ownership cluster this
// transaction's inputs already belong to, if known; watchlist may be nil
// if no watchlist is configured.
func AnalyzeTransaction(tx models.Transaction, knownAddresses map[string]bool, clusterSize int, watchlist *AddressWatchlist) TxAnalysis {
	change := DetectChangeOutput(tx, knownAddresses)
	coinjoin := DetectCoinJoin(tx)
	isCoinJoin := coinjoin != nil && coinjoin.IsCoinJoin()

	unmix := AnalyzeUnmixability(tx, isCoinJoin)
	amounts := AnalyzeAmountPatterns(tx)

	privacy := CalibratePrivacyScore(PrivacyAssessmentInput{
		Tx:          tx,
		Change:      change,
		CoinJoin:    coinjoin,
		Unmix:       unmix,
		ClusterSize: clusterSize,
	})

	var hits []WatchlistHit
	if watchlist != nil {
		hits = watchlist.CheckTransaction(tx)
	}

	threat := ScoreTransaction(tx, coinjoin, privacy, hits)

	return TxAnalysis{
		Tx:             tx,
		Change:         change,
		CoinJoin:       coinjoin,
		Unmix:          unmix,
		AmountPatterns: amounts,
		Privacy:        privacy,
		Threat:         threat,
		WatchlistHits:  hits,
	}
}
