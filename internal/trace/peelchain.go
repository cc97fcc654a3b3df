// Package trace is the trace orchestration engine (C8): it fetches
// transactions through internal/chainservice, classifies each one with
// the pure internal/heuristics engines, and assembles the results into
// either a models.TraceGraph or a models.PeelChainResult. Grounded on
// internal/heuristics/peel_chain.go's own description of the split
// ("this file is pure... following the chain is the trace
// orchestrator's job") and on spec.md §4.6/§4.7.1/§8's peel-chain
// invariants (hops ordered by time, confidence >= min_confidence).
package trace

import (
	"context"
	"fmt"

	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// PeelChainTracer follows a peel chain forward from a starting
// transaction, fetching each hop's spending transaction as it goes.
type PeelChainTracer struct {
	Chain *chainservice.Service
}

func NewPeelChainTracer(svc *chainservice.Service) *PeelChainTracer {
	return &PeelChainTracer{Chain: svc}
}

// Trace follows the chain starting at startTxid for up to maxHops,
// stopping early the first time a hop's confidence falls below
// minConfidence or the change output has no recorded spend yet.
func (t *PeelChainTracer) Trace(ctx context.Context, startTxid string, maxHops int, minConfidence float64) (models.PeelChainResult, error) {
	tx, err := t.Chain.FetchTransaction(ctx, startTxid)
	if err != nil {
		return models.PeelChainResult{}, fmt.Errorf("fetching starting transaction %s: %w", startTxid, err)
	}

	var steps []heuristics.ChainStep
	for hop := 0; hop < maxHops; hop++ {
		change := heuristics.DetectChangeOutput(tx, nil)
		coinjoin := heuristics.DetectCoinJoin(tx)
		isCoinJoin := coinjoin != nil && coinjoin.IsCoinJoin()

		candidate := heuristics.DetectPeelChainStep(tx, isCoinJoin, change)
		timestamp := int64(0)
		if tx.BlockTime != nil {
			timestamp = *tx.BlockTime
		}
		steps = append(steps, heuristics.ChainStep{Tx: tx, Candidate: candidate, Timestamp: timestamp})

		if !candidate.IsPeelStep || candidate.Confidence < minConfidence {
			break
		}

		nextTx, ok := t.findSpendOfChangeOutput(ctx, tx, candidate.ChangeIndex)
		if !ok {
			break
		}
		tx = nextTx
	}

	return heuristics.BuildPeelChainSequence(steps, minConfidence), nil
}

// findSpendOfChangeOutput resolves the transaction that spends a hop's
// change output, using the output's SpendingTxid when the upstream
// already reports it, falling back to an address-history lookup
// otherwise.
func (t *PeelChainTracer) findSpendOfChangeOutput(ctx context.Context, tx models.Transaction, changeIndex int) (models.Transaction, bool) {
	if changeIndex < 0 || changeIndex >= len(tx.Outputs) {
		return models.Transaction{}, false
	}
	out := tx.Outputs[changeIndex]

	if out.SpendingTxid != "" {
		next, err := t.Chain.FetchTransaction(ctx, out.SpendingTxid)
		if err != nil {
			return models.Transaction{}, false
		}
		return next, true
	}

	if out.Address == "" {
		return models.Transaction{}, false
	}
	txids, _, err := t.Chain.FetchAddressHistory(ctx, out.Address, 10)
	if err != nil {
		return models.Transaction{}, false
	}
	candidates, err := t.Chain.FetchTransactionsBatch(ctx, txids)
	if err != nil {
		return models.Transaction{}, false
	}
	for _, candidate := range candidates {
		if candidate == nil || candidate.Txid == tx.Txid {
			continue
		}
		for _, in := range candidate.Inputs {
			if in.PrevTxid == tx.Txid && in.PrevVout == uint32(changeIndex) {
				return *candidate, true
			}
		}
	}
	return models.Transaction{}, false
}
