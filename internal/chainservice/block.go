package chainservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FetchBlockTxids resolves the block hash at height and returns every
// txid in that block, for the historical scanner (SPEC_FULL.md §5's
// "historical block scanner... call the new C6 Upstream Data Service
// instead of direct RPC"). Esplora-style upstreams expose both
// /block-height/{height} (plain-text hash) and /block/{hash}/txids
// (JSON array), the same shape normalize.go already assumes for
// /tx/{txid} and /address/{address}/txs.
func (s *Service) FetchBlockTxids(ctx context.Context, height int64) (string, []string, error) {
	hashResult, err := s.Driver.RequestWithFailover(ctx, fmt.Sprintf("/block-height/%d", height), 0)
	if err != nil {
		return "", nil, fmt.Errorf("resolving block hash for height %d: %w", height, err)
	}
	hash := strings.TrimSpace(string(hashResult.Body))

	txidsResult, err := s.Driver.RequestWithFailover(ctx, "/block/"+hash+"/txids", 0)
	if err != nil {
		return hash, nil, fmt.Errorf("fetching txids for block %s: %w", hash, err)
	}

	var txids []string
	if err := json.Unmarshal(txidsResult.Body, &txids); err != nil {
		return hash, nil, fmt.Errorf("parsing txids for block %s: %w", hash, err)
	}
	return hash, txids, nil
}

// FetchMempoolTxids returns the current set of unconfirmed txids, for
// the live mempool poller.
func (s *Service) FetchMempoolTxids(ctx context.Context) ([]string, error) {
	result, err := s.Driver.RequestWithFailover(ctx, "/mempool/txids", 0)
	if err != nil {
		return nil, fmt.Errorf("fetching mempool txids: %w", err)
	}
	var txids []string
	if err := json.Unmarshal(result.Body, &txids); err != nil {
		return nil, fmt.Errorf("parsing mempool txids: %w", err)
	}
	return txids, nil
}
