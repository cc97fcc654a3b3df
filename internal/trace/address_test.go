package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// TestAddressTraceZeroHopsShortCircuits covers spec.md §4.7.2's zero-hop
// case: no history fetch at all, just the starting address node.
func TestAddressTraceZeroHopsShortCircuits(t *testing.T) {
	calls := 0
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})
	tracer := NewAddressTracer(svc)

	graph, err := tracer.Trace(context.Background(), AddressTraceParams{Address: "addr-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no upstream calls for a zero-hop trace, got %d", calls)
	}
	if len(graph.Nodes) != 1 || !graph.Nodes[0].IsStartingPoint {
		t.Fatalf("expected exactly the starting address node, got %+v", graph.Nodes)
	}
}

// TestAddressTraceAggregatesSendingEdgeAndAppliesInclusionRule covers the
// inclusion rule (a TX appears only when it actually pays or spends the
// traced address, gated on hops_before/hops_after) and the aggregated
// address->TX edge (one edge, input values summed, not one per input).
func TestAddressTraceAggregatesSendingEdgeAndAppliesInclusionRule(t *testing.T) {
	const addr = "addr-a"

	// tx1 pays addr twice; should appear with two TX->addr receiving edges.
	tx1 := `{"txid":"tx1","vin":[],"vout":[
		{"scriptpubkey_address":"` + addr + `","value":1000},
		{"scriptpubkey_address":"` + addr + `","value":2000}
	]}`
	// tx2 spends two of addr's outputs (from tx1); should collapse to one
	// aggregated addr->tx2 edge summing both input values.
	tx2 := `{"txid":"tx2","vin":[
		{"txid":"tx1","vout":0},
		{"txid":"tx1","vout":1}
	],"vout":[{"scriptpubkey_address":"addr-other","value":2900}]}`
	// tx3 neither pays nor spends addr; must be excluded from the graph.
	tx3 := `{"txid":"tx3","vin":[],"vout":[{"scriptpubkey_address":"addr-unrelated","value":500}]}`

	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/txs/chain"):
			w.Write([]byte(`[` + tx1 + `,` + tx2 + `,` + tx3 + `]`))
		case strings.Contains(r.URL.Path, "/tx/tx1"):
			w.Write([]byte(tx1))
		case strings.Contains(r.URL.Path, "/tx/tx2"):
			w.Write([]byte(tx2))
		case strings.Contains(r.URL.Path, "/tx/tx3"):
			w.Write([]byte(tx3))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	tracer := NewAddressTracer(svc)

	graph, err := tracer.Trace(context.Background(), AddressTraceParams{
		Address:    addr,
		HopsBefore: 2,
		HopsAfter:  2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var txNodeIDs []string
	for _, n := range graph.Nodes {
		if n.Kind == models.NodeTransaction {
			txNodeIDs = append(txNodeIDs, n.Txid)
		}
	}
	if len(txNodeIDs) != 2 {
		t.Fatalf("expected exactly tx1 and tx2 included, got %v", txNodeIDs)
	}
	for _, id := range txNodeIDs {
		if id == "tx3" {
			t.Fatal("tx3 neither pays nor spends the address and must be excluded")
		}
	}

	var receivingEdges, sendingEdges int
	for _, e := range graph.Edges {
		switch {
		case e.To == addrNodeID(addr):
			receivingEdges++
		case e.From == addrNodeID(addr):
			sendingEdges++
			if e.Amount != 3000 {
				t.Fatalf("expected the aggregated sending edge to sum both input values to 3000, got %d", e.Amount)
			}
		}
	}
	if receivingEdges != 2 {
		t.Fatalf("expected 2 receiving edges (one per output paying the address), got %d", receivingEdges)
	}
	if sendingEdges != 1 {
		t.Fatalf("expected exactly 1 aggregated sending edge, got %d", sendingEdges)
	}
}

// TestAddressTraceBatchCoversSameTxidsAsFullTrace ensures TraceBatch,
// used by the streaming handler to build one SSE batch per group of
// txids, applies the identical inclusion rule as a full Trace call.
func TestAddressTraceBatchCoversSameTxidsAsFullTrace(t *testing.T) {
	const addr = "addr-a"
	tx1 := `{"txid":"tx1","vin":[],"vout":[{"scriptpubkey_address":"` + addr + `","value":1000}]}`

	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/txs/chain"):
			w.Write([]byte(`[` + tx1 + `]`))
		case strings.Contains(r.URL.Path, "/tx/tx1"):
			w.Write([]byte(tx1))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	tracer := NewAddressTracer(svc)
	params := AddressTraceParams{Address: addr, HopsBefore: 1, HopsAfter: 1}

	txids, err := tracer.HistoryTxids(context.Background(), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txids) != 1 || txids[0] != "tx1" {
		t.Fatalf("expected [tx1], got %v", txids)
	}

	batch, err := tracer.TraceBatch(context.Background(), params, txids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Nodes) != 1 || batch.Nodes[0].Txid != "tx1" {
		t.Fatalf("expected tx1's node in the batch, got %+v", batch.Nodes)
	}
	if len(batch.Edges) != 1 || batch.Edges[0].Amount != 1000 {
		t.Fatalf("expected one receiving edge for 1000, got %+v", batch.Edges)
	}
}
