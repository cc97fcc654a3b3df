package scanner

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/db"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// BlockScanner iterates confirmed blocks and applies the full heuristic
// pipeline to every transaction, persisting CoinJoin detections to the
// isolated database. It fetches through the same chainservice.Service the
// live API uses (SPEC_FULL.md §5), rather than a direct RPC connection —
// a backfill run rides the same endpoint pool, cache, and heuristics
// stack as the interactive path.
type BlockScanner struct {
	chain     *chainservice.Service
	dbStore   *db.PostgresStore
	watchlist *heuristics.AddressWatchlist
	clusters  *heuristics.ClusterEngine // CIOH clustering accumulated across the whole scan
	alertFunc func(alert CoinJoinAlert) // Optional broadcast callback

	// Progress tracking (atomic for safe concurrent reads)
	currentHeight  atomic.Int64
	totalScanned   atomic.Int64
	totalCoinJoins atomic.Int64
	isRunning      atomic.Bool
}

// CoinJoinAlert represents a real-time notification emitted when a CoinJoin is detected
type CoinJoinAlert struct {
	Txid          string  `json:"txid"`
	BlockHeight   int     `json:"blockHeight"`
	MixerType     string  `json:"mixerType"`
	NumInputs     int     `json:"numInputs"`
	NumOutputs    int     `json:"numOutputs"`
	TotalValueBTC float64 `json:"totalValueBtc"`
	PrivacyScore  int     `json:"privacyScore"`
	Timestamp     string  `json:"timestamp"`
}

// ScanProgress represents the scanner's current state for the API
type ScanProgress struct {
	IsRunning      bool  `json:"isRunning"`
	CurrentHeight  int64 `json:"currentHeight"`
	TotalScanned   int64 `json:"totalScanned"`
	TotalCoinJoins int64 `json:"totalCoinJoins"`
}

func NewBlockScanner(chain *chainservice.Service, dbStore *db.PostgresStore, watchlist *heuristics.AddressWatchlist, alertFunc func(CoinJoinAlert)) *BlockScanner {
	return &BlockScanner{
		chain:     chain,
		dbStore:   dbStore,
		watchlist: watchlist,
		clusters:  heuristics.NewClusterEngine(),
		alertFunc: alertFunc,
	}
}

// GetProgress returns the current scanning progress (thread-safe)
func (s *BlockScanner) GetProgress() ScanProgress {
	return ScanProgress{
		IsRunning:      s.isRunning.Load(),
		CurrentHeight:  s.currentHeight.Load(),
		TotalScanned:   s.totalScanned.Load(),
		TotalCoinJoins: s.totalCoinJoins.Load(),
	}
}

// ScanRange processes a specific block range asynchronously, analyzing
// every transaction in each block and persisting CoinJoin detections.
func (s *BlockScanner) ScanRange(ctx context.Context, startHeight, endHeight int64) {
	if s.isRunning.Load() {
		log.Println("[BlockScanner] Scan already in progress, ignoring duplicate request")
		return
	}

	s.isRunning.Store(true)
	s.totalScanned.Store(0)
	s.totalCoinJoins.Store(0)

	go func() {
		defer s.isRunning.Store(false)

		log.Printf("[BlockScanner] Starting historical scan: blocks %d → %d (%d blocks)",
			startHeight, endHeight, endHeight-startHeight+1)

		for height := startHeight; height <= endHeight; height++ {
			select {
			case <-ctx.Done():
				log.Printf("[BlockScanner] Scan cancelled at block %d", height)
				return
			default:
			}

			s.currentHeight.Store(height)
			s.scanBlock(ctx, height)

			scanned := s.totalScanned.Load()
			if scanned%100 == 0 && scanned > 0 {
				log.Printf("[BlockScanner] Progress: block %d | scanned %d txs | found %d CoinJoins",
					height, scanned, s.totalCoinJoins.Load())
			}
		}

		log.Printf("[BlockScanner] Scan complete: %d transactions analyzed, %d CoinJoins detected",
			s.totalScanned.Load(), s.totalCoinJoins.Load())
	}()
}

// clusterContext looks up what the running CIOH engine already knows about
// a transaction's input addresses, before this transaction's own inputs are
// merged in: the first input's existing cluster size, and every address
// already linked to it (fed into change-detection as the address-reuse
// signal).
func (s *BlockScanner) clusterContext(inputs []models.TxIn) (map[string]bool, int) {
	known := make(map[string]bool)
	clusterSize := 1
	for i, in := range inputs {
		if in.PrevAddress == "" {
			continue
		}
		known[in.PrevAddress] = true
		for _, addr := range s.clusters.GetCluster(in.PrevAddress) {
			known[addr] = true
		}
		if i == 0 {
			clusterSize = s.clusters.GetClusterSize(in.PrevAddress)
		}
	}
	return known, clusterSize
}

// scanBlock fetches one block's txids and analyzes every transaction,
// batching the fetches through chainservice so the endpoint pool's
// global/per-endpoint caps still apply.
func (s *BlockScanner) scanBlock(ctx context.Context, height int64) {
	_, txids, err := s.chain.FetchBlockTxids(ctx, height)
	if err != nil {
		log.Printf("[BlockScanner] Error fetching txids for block %d: %v", height, err)
		return
	}
	if len(txids) <= 1 {
		return
	}
	// Skip the coinbase transaction, always first in the block.
	txs, err := s.chain.FetchTransactionsBatch(ctx, txids[1:])
	if err != nil {
		log.Printf("[BlockScanner] Error batch-fetching block %d: %v", height, err)
		return
	}

	for _, tx := range txs {
		if tx == nil {
			continue // fetch failed for this txid; skipped per spec.md §7.
		}
		if len(tx.Inputs) < 2 || len(tx.Outputs) < 2 {
			s.totalScanned.Add(1)
			continue
		}

		knownAddresses, clusterSize := s.clusterContext(tx.Inputs)
		analysis := heuristics.AnalyzeTransaction(*tx, knownAddresses, clusterSize, s.watchlist)
		s.totalScanned.Add(1)

		isCoinJoin := analysis.CoinJoin != nil && analysis.CoinJoin.IsCoinJoin()
		s.clusters.MergeFromTransaction(*tx, isCoinJoin)

		// Every transaction gets an evidence-edge row, not just CoinJoins:
		// non-CoinJoin edges are the actual CIOH clustering signal;
		// CoinJoin edges are the negative gating evidence against it.
		edges := heuristics.GenerateCIOHEdges(*tx, isCoinJoin, int(height))
		if s.dbStore != nil {
			if err := s.dbStore.SaveAnalysisResult(ctx, int(height), analysis, edges); err != nil {
				log.Printf("[BlockScanner] DB persist error at block %d tx %s: %v", height, tx.Txid, err)
			}
		}

		if !isCoinJoin {
			continue
		}
		s.totalCoinJoins.Add(1)

		if s.alertFunc != nil {
			s.alertFunc(CoinJoinAlert{
				Txid:          tx.Txid,
				BlockHeight:   int(height),
				MixerType:     string(analysis.CoinJoin.Kind),
				NumInputs:     len(tx.Inputs),
				NumOutputs:    len(tx.Outputs),
				TotalValueBTC: float64(tx.OutputValue()) / 100000000.0,
				PrivacyScore:  analysis.Privacy.PrivacyScore,
				Timestamp:     time.Now().Format(time.RFC3339),
			})
		}
	}
}
