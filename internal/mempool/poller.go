package mempool

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/api"
	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/db"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// Poller watches the live mempool through chainservice and runs the full
// heuristic pipeline over every transaction it hasn't seen yet, pushing
// results to the websocket dashboard feed and persisting CoinJoin
// detections. Grounded on the teacher's own polling loop, generalized
// from a direct bitcoind RPC connection to the same upstream endpoint
// pool the rest of the engine fetches through.
type Poller struct {
	chain     *chainservice.Service
	wsHub     *api.Hub
	dbStore   *db.PostgresStore
	seenTXs   map[string]bool
	Watchlist *heuristics.AddressWatchlist
	AlertMgr  *heuristics.AlertManager
	clusters  *heuristics.ClusterEngine
}

// StreamPayload is the real-time record pushed to the dashboard feed for
// every newly seen mempool transaction.
type StreamPayload struct {
	TxID           string  `json:"txid"`
	NumInputs      int     `json:"numInputs"`
	NumOutputs     int     `json:"numOutputs"`
	TotalIn        int64   `json:"totalIn"`
	TotalOut       int64   `json:"totalOut"`
	Fee            int64   `json:"fee"`
	VSize          int     `json:"vsize"`
	PrivacyScore   int     `json:"privacyScore"`
	RiskScore      int     `json:"riskScore"`
	IsCoinJoin     bool    `json:"isCoinJoin"`
	ProcessingTime float64 `json:"processingTimeMs"`
}

func NewPoller(chain *chainservice.Service, wsHub *api.Hub, dbStore *db.PostgresStore) *Poller {
	watchlist := heuristics.NewAddressWatchlist()
	alertMgr := heuristics.NewAlertManager(func(alert heuristics.Alert) {
		if wsHub == nil {
			return
		}
		payload, err := json.Marshal(map[string]any{
			"type":  "security_alert",
			"alert": alert,
		})
		if err != nil {
			log.Printf("[Poller] Failed to marshal security alert payload: %v", err)
			return
		}
		wsHub.Broadcast(payload)
	})

	return &Poller{
		chain:     chain,
		wsHub:     wsHub,
		dbStore:   dbStore,
		seenTXs:   make(map[string]bool),
		Watchlist: watchlist,
		AlertMgr:  alertMgr,
		clusters:  heuristics.NewClusterEngine(),
	}
}

func (p *Poller) Run(ctx context.Context) {
	if p.chain == nil {
		log.Println("[Poller] chain service is nil; poller will not start")
		return
	}

	log.Println("Starting mempool analytics poller...")

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	// Keep the seen-set bounded; it's a simple presence cache, not a
	// durable record, so periodic resets are fine.
	cleanupTicker := time.NewTicker(1 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stopping mempool poller...")
			return
		case <-cleanupTicker.C:
			p.seenTXs = make(map[string]bool)
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// clusterContext mirrors internal/scanner's lookup: what the running CIOH
// engine already knows about a transaction's inputs before this
// transaction's own inputs are merged in.
func (p *Poller) clusterContext(inputs []models.TxIn) (map[string]bool, int) {
	known := make(map[string]bool)
	clusterSize := 1
	for i, in := range inputs {
		if in.PrevAddress == "" {
			continue
		}
		known[in.PrevAddress] = true
		for _, addr := range p.clusters.GetCluster(in.PrevAddress) {
			known[addr] = true
		}
		if i == 0 {
			clusterSize = p.clusters.GetClusterSize(in.PrevAddress)
		}
	}
	return known, clusterSize
}

func (p *Poller) pollOnce(ctx context.Context) {
	txids, err := p.chain.FetchMempoolTxids(ctx)
	if err != nil {
		log.Printf("[Poller] Error fetching mempool txids: %v", err)
		return
	}

	var fresh []string
	for _, txid := range txids {
		if p.seenTXs[txid] {
			continue
		}
		p.seenTXs[txid] = true
		fresh = append(fresh, txid)
		// Process up to 20 new transactions per tick to avoid hammering
		// the endpoint pool.
		if len(fresh) >= 20 {
			break
		}
	}
	if len(fresh) == 0 {
		return
	}

	txs, err := p.chain.FetchTransactionsBatch(ctx, fresh)
	if err != nil {
		log.Printf("[Poller] Error batch-fetching mempool transactions: %v", err)
		return
	}

	for _, tx := range txs {
		if tx == nil || len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
			continue
		}

		knownAddresses, clusterSize := p.clusterContext(tx.Inputs)

		start := time.Now()
		analysis := heuristics.AnalyzeTransaction(*tx, knownAddresses, clusterSize, p.Watchlist)
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0

		isCoinJoin := analysis.CoinJoin != nil && analysis.CoinJoin.IsCoinJoin()
		p.clusters.MergeFromTransaction(*tx, isCoinJoin)

		if analysis.Threat.Severity != "info" && analysis.Threat.Severity != "low" {
			p.AlertMgr.EmitFromAssessment(analysis.Threat, analysis.WatchlistHits)
		}

		if p.dbStore != nil && isCoinJoin {
			edges := heuristics.GenerateCIOHEdges(*tx, isCoinJoin, 0)
			if err := p.dbStore.SaveAnalysisResult(ctx, 0, analysis, edges); err != nil {
				log.Printf("[Poller] Failed to persist CoinJoin detection to DB: %v", err)
			}
		}

		totalIn, _ := tx.KnownInputValue()
		totalOut := tx.OutputValue()
		var fee int64
		if tx.Fee != nil {
			fee = *tx.Fee
		}

		payload := StreamPayload{
			TxID:           tx.Txid,
			NumInputs:      len(tx.Inputs),
			NumOutputs:     len(tx.Outputs),
			TotalIn:        totalIn,
			TotalOut:       totalOut,
			Fee:            fee,
			VSize:          tx.Vsize,
			PrivacyScore:   analysis.Privacy.PrivacyScore,
			RiskScore:      analysis.Threat.RiskScore,
			IsCoinJoin:     analysis.CoinJoin != nil && analysis.CoinJoin.IsCoinJoin(),
			ProcessingTime: elapsed,
		}

		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			log.Printf("[Poller] Failed to marshal stream payload: %v", err)
			continue
		}
		if p.wsHub != nil {
			p.wsHub.Broadcast(payloadBytes)
		}
	}
}
