package heuristics

import (
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// Real-Time Risk Scorer
//
// Composites the surviving per-transaction signals (value, watchlist hits,
// CoinJoin detection, calibrated privacy score) into a single threat
// assessment for every mempool transaction.
//
// Risk composition:
//   Base score starts at 0 (clean)
//   Each signal adds weighted risk points
//   Watchlist hit = +20 to +60 per hit, by category
//   CoinJoin + watchlist hit + value over 1 BTC = +20 compound escalation
//
// Severity levels:
//   info     (0-10):   Normal transaction, no action
//   low      (11-30):  Minor flags, log only
//   medium   (31-50):  Notable patterns, review recommended
//   high     (51-75):  Suspicious activity, alert team
//   critical (76-100): Immediate action required

// ThreatAssessment is the real-time risk verdict for a transaction
type ThreatAssessment struct {
	TxID              string   `json:"txid"`
	RiskScore         int      `json:"riskScore"`         // 0-100
	Severity          string   `json:"severity"`          // info/low/medium/high/critical
	Signals           []string `json:"signals"`           // Contributing risk signals
	RecommendedAction string   `json:"recommendedAction"` // "none"/"log"/"review"/"alert"/"escalate"
	IsWatchlistHit    bool     `json:"isWatchlistHit"`
	IsCoinJoin        bool     `json:"isCoinJoin"`
	ValueBTC          float64  `json:"valueBtc"`
}

// ScoreTransaction produces a real-time threat assessment from the
// transaction plus whichever analyses already ran on it.
func ScoreTransaction(tx models.Transaction, coinjoin *models.CoinJoinRecord, privacy ScoreBreakdown, watchlistHits []WatchlistHit) ThreatAssessment {
	assessment := ThreatAssessment{
		TxID: tx.Txid,
	}

	riskScore := 0
	var signals []string

	// ─── Total transaction value ─────────────────────────────────────
	totalIn, _ := tx.KnownInputValue()
	totalOut := tx.OutputValue()

	// Prefer the larger observed side to remain robust when prevout input
	// lookups are missing and input values are partially unknown.
	totalValue := totalOut
	if totalIn > totalOut {
		totalValue = totalIn
	}
	assessment.ValueBTC = float64(totalValue) / 100000000.0

	if totalValue > 100000000 { // > 1 BTC
		riskScore += 5
		signals = append(signals, "high_value_tx")
	}
	if totalValue > 1000000000 { // > 10 BTC
		riskScore += 10
		signals = append(signals, "very_high_value_tx")
	}

	// ─── Watchlist hits = immediate escalation ───────────────────────
	if len(watchlistHits) > 0 {
		assessment.IsWatchlistHit = true
		for _, hit := range watchlistHits {
			switch hit.Category {
			case "theft":
				riskScore += 50
				signals = append(signals, "watchlist:theft:"+hit.Label)
			case "sanctioned":
				riskScore += 60
				signals = append(signals, "watchlist:sanctioned:"+hit.Label)
			case "suspect":
				riskScore += 40
				signals = append(signals, "watchlist:suspect:"+hit.Label)
			default:
				riskScore += 20
				signals = append(signals, "watchlist:"+hit.Category+":"+hit.Label)
			}
		}
	}

	// ─── CoinJoin detection ──────────────────────────────────────────
	if coinjoin != nil && coinjoin.IsCoinJoin() {
		assessment.IsCoinJoin = true
		riskScore += 15
		signals = append(signals, "coinjoin_detected:"+string(coinjoin.Kind))
	}

	// ─── Calibrated privacy score ─────────────────────────────────────
	if privacy.PrivacyScore < 30 {
		riskScore += 10
		signals = append(signals, "low_privacy_score")
	}
	if privacy.Traceability >= 0.8 {
		riskScore += 10
		signals = append(signals, "high_traceability")
	}
	for _, factor := range privacy.Factors {
		if factor == "address_reuse" {
			riskScore += 5
			signals = append(signals, "address_reuse")
		}
	}

	// ─── Compound escalation: CoinJoin + watchlist + high value ──────
	if assessment.IsCoinJoin && assessment.IsWatchlistHit && totalValue > 100000000 {
		riskScore += 20
		signals = append(signals, "compound_escalation")
	}

	// Cap at 100
	if riskScore > 100 {
		riskScore = 100
	}
	if riskScore < 0 {
		riskScore = 0
	}

	assessment.RiskScore = riskScore
	assessment.Signals = signals
	assessment.Severity = classifySeverity(riskScore)
	assessment.RecommendedAction = recommendAction(riskScore)

	return assessment
}

// classifySeverity maps risk score to severity level
func classifySeverity(score int) string {
	switch {
	case score <= 10:
		return "info"
	case score <= 30:
		return "low"
	case score <= 50:
		return "medium"
	case score <= 75:
		return "high"
	default:
		return "critical"
	}
}

// recommendAction maps risk score to recommended action
func recommendAction(score int) string {
	switch {
	case score <= 10:
		return "none"
	case score <= 30:
		return "log"
	case score <= 50:
		return "review"
	case score <= 75:
		return "alert"
	default:
		return "escalate"
	}
}
