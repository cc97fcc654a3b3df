package trace

import (
	"context"
	"fmt"

	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// AddressTracer builds a graph centered on one address (spec.md §4.7.2):
// one batched history fetch, one batched prev-transaction resolution,
// then a single pass classifying each history TX as received-from,
// sent-to, both, or neither.
type AddressTracer struct {
	Chain           *chainservice.Service
	MaxTransactions int
}

func NewAddressTracer(svc *chainservice.Service) *AddressTracer {
	return &AddressTracer{Chain: svc, MaxTransactions: 500}
}

// AddressTraceParams are the POST /trace/address request parameters
// (spec.md §6).
type AddressTraceParams struct {
	Address             string
	HopsBefore          int
	HopsAfter           int
	MaxTransactions     int
	ConfidenceThreshold float64
}

// Trace implements spec.md §4.7.2. If both hops are zero, it returns
// just the address node flagged as the starting point — no history
// fetch at all. Otherwise it fetches up to MaxTransactions txids from
// the address's history, resolves the full transactions and every
// input's prev address/value in two batched calls, then includes a TX
// iff it pays the address (and hops_before>0) or spends from it (and
// hops_after>0). Receiving outputs become TX→address edges; every
// sending input is folded into one aggregated address→TX edge with the
// summed input value, rather than one edge per input.
func (a *AddressTracer) Trace(ctx context.Context, p AddressTraceParams) (models.TraceGraph, error) {
	graph := models.TraceGraph{}
	graph.AddNode(models.Node{ID: addrNodeID(p.Address), Kind: models.NodeAddress, Address: p.Address, IsStartingPoint: true})

	if p.HopsBefore <= 0 && p.HopsAfter <= 0 {
		return graph, nil
	}

	txids, err := a.HistoryTxids(ctx, p)
	if err != nil {
		return graph, err
	}

	batch, err := a.TraceBatch(ctx, p, txids)
	if err != nil {
		return graph, err
	}
	for _, n := range batch.Nodes {
		graph.AddNode(n)
	}
	graph.Edges = append(graph.Edges, batch.Edges...)
	return graph, nil
}

// HistoryTxids resolves the txids that Trace (or a streaming caller) would
// page through for p.Address, capped at MaxTransactions. Used by the
// streaming handler to drive EmitTransactionBatches over the same history
// Trace would fetch, without pulling the transaction bodies up front.
func (a *AddressTracer) HistoryTxids(ctx context.Context, p AddressTraceParams) ([]string, error) {
	maxTx := p.MaxTransactions
	if maxTx <= 0 || maxTx > a.MaxTransactions {
		maxTx = a.MaxTransactions
	}
	txids, _, err := a.Chain.FetchAddressHistory(ctx, p.Address, maxTx)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", p.Address, err)
	}
	return txids, nil
}

// TraceBatch resolves exactly the given txids (a group carved out of
// HistoryTxids' result, not necessarily the whole history) against the
// inclusion rule for p.Address, returning the nodes/edges that group
// contributes. Used by the streaming handler to build one `batch` event
// per group of spec.md §4.8's incremental protocol; Trace itself calls it
// once with the full history.
func (a *AddressTracer) TraceBatch(ctx context.Context, p AddressTraceParams, txids []string) (models.TraceGraph, error) {
	fetched, err := a.Chain.FetchTransactionsBatch(ctx, txids)
	if err != nil {
		return models.TraceGraph{}, fmt.Errorf("batch-fetching transactions for %s: %w", p.Address, err)
	}

	history := make([]models.Transaction, 0, len(fetched))
	for _, tx := range fetched {
		if tx != nil {
			history = append(history, *tx)
		}
	}
	resolve := batchResolver(ctx, a.Chain, history)

	graph := models.TraceGraph{}
	for _, tx := range history {
		var outputsToAddr []models.TxOut
		for _, out := range tx.Outputs {
			if out.Address == p.Address {
				outputsToAddr = append(outputsToAddr, out)
			}
		}

		var sumFromAddr int64
		hasInputFromAddr := false
		for _, in := range tx.Inputs {
			addr, value, ok := resolve(in)
			if ok && addr == p.Address {
				hasInputFromAddr = true
				sumFromAddr += value
			}
		}

		hasOutputToAddr := len(outputsToAddr) > 0
		include := (hasOutputToAddr && p.HopsBefore > 0) || (hasInputFromAddr && p.HopsAfter > 0)
		if !include {
			continue
		}

		coinjoin := heuristics.DetectCoinJoin(tx)
		isCoinJoin := coinjoin != nil && coinjoin.IsCoinJoin()

		graph.AddNode(models.Node{
			ID:         txNodeID(tx.Txid),
			Kind:       models.NodeTransaction,
			Txid:       tx.Txid,
			IsCoinJoin: isCoinJoin,
			Metadata:   buildTxMetadata(tx, 100, resolve),
		})

		for _, out := range outputsToAddr {
			graph.AddEdge(models.Edge{From: txNodeID(tx.Txid), To: addrNodeID(p.Address), Amount: out.Value, Confidence: 1.0})
		}
		if hasInputFromAddr {
			graph.AddEdge(models.Edge{From: addrNodeID(p.Address), To: txNodeID(tx.Txid), Amount: sumFromAddr, Confidence: inputEdgeConfidence(isCoinJoin)})
		}
	}

	if p.ConfidenceThreshold > 0 {
		graph.FilterByConfidence(p.ConfidenceThreshold)
	}
	return graph, nil
}
