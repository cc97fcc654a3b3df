package trace

import (
	"context"
	"fmt"

	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// UTXOTracer builds a bounded forward/backward graph around one output
// of one transaction (POST /trace/utxo, spec.md §6). Grounded on
// models.TraceGraph's own "integer-indexed arrays + hash maps, no
// pointer cycles" design note (spec.md §9) — nodes are deduplicated by
// ID before being added, edges reference node IDs rather than pointers.
type UTXOTracer struct {
	Chain *chainservice.Service
}

func NewUTXOTracer(svc *chainservice.Service) *UTXOTracer {
	return &UTXOTracer{Chain: svc}
}

// UTXOTraceParams are the POST /trace/utxo request parameters (spec.md §6).
type UTXOTraceParams struct {
	Txid                string
	Vout                int
	HopsBefore          int
	HopsAfter           int
	IncludeCoinJoin     bool
	ConfidenceThreshold float64
	MaxAddressesPerTx   int
}

func txNodeID(txid string) string   { return "tx:" + txid }
func addrNodeID(addr string) string { return "addr:" + addr }

// inputEdgeConfidence is spec.md §4.7.1 step 4: edges into a CoinJoin
// carry confidence 0.3, everything else 0.9 (output edges are observed
// and always 1.0, handled at their own call sites).
func inputEdgeConfidence(isCoinJoin bool) float64 {
	if isCoinJoin {
		return 0.3
	}
	return 0.9
}

// Trace builds the graph outward from params.Txid's output params.Vout:
// params.HopsBefore transaction-hops backward (following that output's
// own inputs), params.HopsAfter hops forward (following whoever spends
// it). A CoinJoin node blocks further *forward* traversal past it
// whenever IncludeCoinJoin is false (spec.md §8 invariant, §4.7.1 step 1,
// exercised by seed scenario S7).
//
// hops_before<=1 AND hops_after<=1 takes the fast path: a single
// batched fetch of the starting TX's parents, no recursion. Anything
// deeper takes the recursive path: BFS backward with common-input
// clustering and change detection at every hop, followed by a
// peel-chain attachment pass over every 2-output TX discovered along
// the way.
func (t *UTXOTracer) Trace(ctx context.Context, p UTXOTraceParams) (models.TraceGraph, error) {
	if p.MaxAddressesPerTx <= 0 {
		p.MaxAddressesPerTx = 100
	}

	graph := models.TraceGraph{}
	visited := make(map[string]bool)

	root, err := t.Chain.FetchTransaction(ctx, p.Txid)
	if err != nil {
		return graph, fmt.Errorf("fetching starting transaction %s: %w", p.Txid, err)
	}
	visited[root.Txid] = true

	resolve := batchResolver(ctx, t.Chain, []models.Transaction{root})
	rootMeta := buildTxMetadata(root, p.MaxAddressesPerTx, resolve)
	if p.HopsBefore == 0 && p.HopsAfter == 0 {
		rootMeta["inputCount"] = len(root.Inputs)
		rootMeta["outputCount"] = len(root.Outputs)
	}
	t.addTxNode(&graph, root, true, rootMeta)

	fastPath := p.HopsBefore <= 1 && p.HopsAfter <= 1
	discovered := []models.Transaction{root}

	if fastPath {
		t.traceBackwardFast(ctx, &graph, visited, root, p.HopsBefore, p.MaxAddressesPerTx)
	} else {
		clusters := heuristics.NewClusterEngine()
		t.traceBackwardRecursive(ctx, &graph, visited, clusters, &discovered, root, p.HopsBefore, p.MaxAddressesPerTx, p.IncludeCoinJoin)
	}

	t.traceForward(ctx, &graph, visited, root, p.Vout, p.HopsAfter, p.IncludeCoinJoin, p.MaxAddressesPerTx)

	if !fastPath {
		t.attachPeelChains(ctx, &graph, discovered)
	}

	if p.ConfidenceThreshold > 0 {
		graph.FilterByConfidence(p.ConfidenceThreshold)
	}
	return graph, nil
}

func (t *UTXOTracer) addTxNode(graph *models.TraceGraph, tx models.Transaction, isStart bool, metadata map[string]any) {
	coinjoin := heuristics.DetectCoinJoin(tx)
	graph.AddNode(models.Node{
		ID:              txNodeID(tx.Txid),
		Kind:            models.NodeTransaction,
		Txid:            tx.Txid,
		IsStartingPoint: isStart,
		IsCoinJoin:      coinjoin != nil && coinjoin.IsCoinJoin(),
		Metadata:        metadata,
	})
}

// annotateChangeNode must run before the first AddNode call for addr's
// node ID: AddNode is a no-op once an ID is already present, so the
// is_change annotation (spec.md §4.7.1 step 3) has to be set on the
// node literal up front rather than patched in afterward.
func annotateChangeNode(graph *models.TraceGraph, addr string, isChange bool, reasons []string) {
	graph.AddNode(models.Node{
		ID:            addrNodeID(addr),
		Kind:          models.NodeAddress,
		Address:       addr,
		IsChange:      isChange,
		ChangeReasons: reasons,
	})
}

// traceBackwardFast resolves the immediate parent transactions of tx in
// a single batched fetch (spec.md §4.7.1 fast path) and adds one hop's
// worth of address/TX nodes and edges. Only reachable when hops_before
// and hops_after are both <=1, so no further recursion is needed.
func (t *UTXOTracer) traceBackwardFast(ctx context.Context, graph *models.TraceGraph, visited map[string]bool, tx models.Transaction, hopsBefore, maxFanout int) {
	if hopsBefore <= 0 {
		return
	}

	coinjoin := heuristics.DetectCoinJoin(tx)
	confidence := inputEdgeConfidence(coinjoin != nil && coinjoin.IsCoinJoin())

	var prevTxids []string
	for i, in := range tx.Inputs {
		if in.IsCoinbase() || i >= maxFanout || in.PrevTxid == "" {
			continue
		}
		prevTxids = append(prevTxids, in.PrevTxid)
	}
	prevTxs, err := t.Chain.FetchTransactionsBatch(ctx, prevTxids)
	if err != nil {
		prevTxs = nil
	}
	byTxid := make(map[string]*models.Transaction, len(prevTxs))
	for _, p := range prevTxs {
		if p != nil {
			byTxid[p.Txid] = p
		}
	}

	for i, in := range tx.Inputs {
		if in.IsCoinbase() || i >= maxFanout {
			continue
		}
		if in.PrevAddress != "" {
			graph.AddNode(models.Node{ID: addrNodeID(in.PrevAddress), Kind: models.NodeAddress, Address: in.PrevAddress})
			graph.AddEdge(models.Edge{From: addrNodeID(in.PrevAddress), To: txNodeID(tx.Txid), Amount: valueOrZero(in.PrevValue), Confidence: confidence})
		}
		if in.PrevTxid == "" || visited[in.PrevTxid] {
			continue
		}
		prevTx, ok := byTxid[in.PrevTxid]
		if !ok {
			// spec.md §4.7.3: a fetch failure for a non-starting TX is
			// skipped, not fatal.
			continue
		}
		visited[prevTx.Txid] = true
		t.addTxNode(graph, *prevTx, false, nil)
		graph.AddEdge(models.Edge{From: txNodeID(prevTx.Txid), To: txNodeID(tx.Txid), Amount: valueOrZero(in.PrevValue), Confidence: confidence})
	}
}

// traceBackwardRecursive implements spec.md §4.7.1's recursive path: at
// each dequeued TX, a CoinJoin with include_coinjoin=false is recorded
// but not recursed through (step 1); otherwise its input addresses feed
// the running clustering engine (step 2) and its own outputs run
// through change detection so the address node reached via each input
// edge can be annotated is_change (step 3); TX nodes and edges are added
// with CoinJoin-aware confidence (step 4); non-coinbase inputs are
// enqueued up to hopsRemaining (step 5). Every parent TX fetched is
// appended to *discovered for the post-BFS peel-chain attachment pass.
func (t *UTXOTracer) traceBackwardRecursive(ctx context.Context, graph *models.TraceGraph, visited map[string]bool, clusters *heuristics.ClusterEngine, discovered *[]models.Transaction, tx models.Transaction, hopsRemaining, maxFanout int, includeCoinJoin bool) {
	if hopsRemaining <= 0 {
		return
	}

	coinjoinRec := heuristics.DetectCoinJoin(tx)
	isCoinJoin := coinjoinRec != nil && coinjoinRec.IsCoinJoin()
	confidence := inputEdgeConfidence(isCoinJoin)

	if !isCoinJoin {
		clusters.MergeFromTransaction(tx, isCoinJoin)
	}

	if isCoinJoin && !includeCoinJoin {
		// step 1: the node is already in the graph from the caller;
		// record it and stop recursing through it.
		return
	}

	for i, in := range tx.Inputs {
		if in.IsCoinbase() || i >= maxFanout {
			continue
		}
		if in.PrevTxid == "" || visited[in.PrevTxid] {
			if in.PrevAddress != "" {
				graph.AddNode(models.Node{ID: addrNodeID(in.PrevAddress), Kind: models.NodeAddress, Address: in.PrevAddress})
				graph.AddEdge(models.Edge{From: addrNodeID(in.PrevAddress), To: txNodeID(tx.Txid), Amount: valueOrZero(in.PrevValue), Confidence: confidence})
			}
			continue
		}

		prevTx, err := t.Chain.FetchTransaction(ctx, in.PrevTxid)
		if err != nil {
			// spec.md §4.7.3: skip the missing TX, no dangling reference.
			continue
		}
		visited[prevTx.Txid] = true
		*discovered = append(*discovered, prevTx)

		// step 3: change detection on the parent's own outputs, applied
		// to the address node the very edge below is about to create.
		if in.PrevAddress != "" {
			change := heuristics.DetectChangeOutput(prevTx, nil)
			isChange := change.ChangeIndex >= 0 && uint32(change.ChangeIndex) == in.PrevVout
			var reasons []string
			if isChange {
				reasons = changeReasons(change.Breakdown[change.ChangeIndex])
			}
			annotateChangeNode(graph, in.PrevAddress, isChange, reasons)
			graph.AddEdge(models.Edge{From: addrNodeID(in.PrevAddress), To: txNodeID(tx.Txid), Amount: valueOrZero(in.PrevValue), Confidence: confidence})
		}

		t.addTxNode(graph, prevTx, false, nil)
		graph.AddEdge(models.Edge{From: txNodeID(prevTx.Txid), To: txNodeID(tx.Txid), Amount: valueOrZero(in.PrevValue), Confidence: confidence})

		t.traceBackwardRecursive(ctx, graph, visited, clusters, discovered, prevTx, hopsRemaining-1, maxFanout, includeCoinJoin)
	}
}

func (t *UTXOTracer) traceForward(ctx context.Context, graph *models.TraceGraph, visited map[string]bool, tx models.Transaction, vout, hopsRemaining int, includeCoinJoin bool, maxFanout int) {
	if hopsRemaining <= 0 {
		return
	}

	coinjoin := heuristics.DetectCoinJoin(tx)
	if coinjoin != nil && coinjoin.IsCoinJoin() && !includeCoinJoin {
		// CoinJoin barrier: stop outbound traversal past this node
		// (spec.md §8 invariant, S7).
		return
	}

	if vout < 0 || vout >= len(tx.Outputs) {
		return
	}
	out := tx.Outputs[vout]
	if out.Address != "" {
		graph.AddNode(models.Node{ID: addrNodeID(out.Address), Kind: models.NodeAddress, Address: out.Address})
		graph.AddEdge(models.Edge{From: txNodeID(tx.Txid), To: addrNodeID(out.Address), Amount: out.Value, Confidence: 1.0})
	}

	tracer := PeelChainTracer{Chain: t.Chain}
	nextTx, ok := tracer.findSpendOfChangeOutput(ctx, tx, vout)
	if !ok || visited[nextTx.Txid] {
		return
	}
	visited[nextTx.Txid] = true

	nextCoinjoinRec := heuristics.DetectCoinJoin(nextTx)
	nextIsCoinJoin := nextCoinjoinRec != nil && nextCoinjoinRec.IsCoinJoin()

	t.addTxNode(graph, nextTx, false, nil)
	graph.AddEdge(models.Edge{From: txNodeID(tx.Txid), To: txNodeID(nextTx.Txid), Amount: out.Value, Confidence: inputEdgeConfidence(nextIsCoinJoin)})

	// The continuation output is whichever one change detection (or the
	// peel-chain heuristic, when it agrees this looks like a peel step)
	// says keeps following the same entity — never the index of the
	// input that happened to spend our watched output.
	change := heuristics.DetectChangeOutput(nextTx, nil)
	candidate := heuristics.DetectPeelChainStep(nextTx, nextIsCoinJoin, change)
	nextVout := change.ChangeIndex
	if candidate.IsPeelStep {
		nextVout = candidate.ChangeIndex
	}
	if nextVout < 0 {
		return
	}

	t.traceForward(ctx, graph, visited, nextTx, nextVout, hopsRemaining-1, includeCoinJoin, maxFanout)
}

// attachPeelChains runs peel-chain detection on every TX with exactly
// two outputs discovered during the backward BFS (spec.md §4.6,
// §4.7.1's "after BFS" step) and attaches any chain of >=3 hops to the
// graph.
func (t *UTXOTracer) attachPeelChains(ctx context.Context, graph *models.TraceGraph, discovered []models.Transaction) {
	tracer := PeelChainTracer{Chain: t.Chain}
	seen := make(map[string]bool)
	for _, tx := range discovered {
		if len(tx.Outputs) != 2 || seen[tx.Txid] {
			continue
		}
		seen[tx.Txid] = true

		result, err := tracer.Trace(ctx, tx.Txid, 20, 0)
		if err != nil || len(result.Hops) < 3 {
			continue
		}

		for i, hop := range result.Hops {
			graph.AddNode(models.Node{ID: txNodeID(hop.Txid), Kind: models.NodeTransaction, Txid: hop.Txid})
			if hop.PaymentAddress != "" {
				graph.AddNode(models.Node{ID: addrNodeID(hop.PaymentAddress), Kind: models.NodeAddress, Address: hop.PaymentAddress})
				graph.AddEdge(models.Edge{From: txNodeID(hop.Txid), To: addrNodeID(hop.PaymentAddress), Amount: hop.PaymentValue, Confidence: 1.0, HeuristicTag: "peel_chain"})
			}
			if i > 0 {
				prev := result.Hops[i-1]
				graph.AddEdge(models.Edge{From: txNodeID(prev.Txid), To: txNodeID(hop.Txid), Amount: prev.ChangeValue, Confidence: hop.Confidence, HeuristicTag: "peel_chain"})
			}
		}
	}
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
