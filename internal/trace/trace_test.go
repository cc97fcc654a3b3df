package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

func newTestChainService(t *testing.T, handler http.HandlerFunc) *chainservice.Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := upstream.Config{
		LocalURL:                    srv.URL,
		LocalMaxConcurrent:          4,
		GlobalMaxInflight:           16,
		RequestTimeout:              time.Second,
		MinRequestTimeout:           100 * time.Millisecond,
		HardRequestTimeout:          2 * time.Second,
		RequestTotalTimeout:         5 * time.Second,
		FailureCooldown:             time.Second,
		ConcurrencyAdjustWindow:     4,
		ConcurrencySuccessTarget:    0.95,
		ConcurrencyLatencyTarget:    500 * time.Millisecond,
		ConcurrencyFailureThreshold: 3,
		DefaultPageSize:             50,
		CacheTTLTransaction:         time.Minute,
		CacheTTLAddressHistory:      time.Minute,
	}
	pool := upstream.NewPool(cfg)
	driver := upstream.NewDriver(pool, cfg)
	return chainservice.NewService(driver, cache.NewMemoryStore(), cfg)
}

// S7: a CoinJoin node must block further forward traversal when the
// caller sets IncludeCoinJoin=false.
func TestUTXOTraceStopsAtCoinJoinBarrier(t *testing.T) {
	coinjoinOutputs := `[
		{"scriptpubkey_address":"addr-eq-1","value":100000},
		{"scriptpubkey_address":"addr-eq-2","value":100000},
		{"scriptpubkey_address":"addr-eq-3","value":100000},
		{"scriptpubkey_address":"addr-eq-4","value":100000},
		{"scriptpubkey_address":"addr-change","value":50000}
	]`
	cj1JSON := `{"txid":"cj1","vin":[{"txid":"root","vout":0},{},{},{},{}],"vout":` + coinjoinOutputs + `}`
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/tx/root"):
			w.Write([]byte(`{"txid":"root","vin":[],"vout":[{"scriptpubkey_address":"addr-cj-out","value":100000}]}`))
		case strings.HasSuffix(r.URL.Path, "/txs/chain"):
			w.Write([]byte(`[` + cj1JSON + `]`))
		case strings.Contains(r.URL.Path, "/tx/cj1"):
			w.Write([]byte(cj1JSON))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tracer := NewUTXOTracer(svc)

	graph, err := tracer.Trace(context.Background(), UTXOTraceParams{
		Txid:            "root",
		Vout:            0,
		HopsAfter:       2,
		IncludeCoinJoin: false,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sawCoinJoin := false
	for _, n := range graph.Nodes {
		if n.Kind != models.NodeTransaction {
			continue
		}
		if n.Txid == "cj1" {
			sawCoinJoin = true
			if !n.IsCoinJoin {
				t.Fatal("expected cj1 to be classified as a CoinJoin node")
			}
			continue
		}
		if n.Txid != "root" {
			t.Fatalf("expected no transaction nodes past the CoinJoin barrier, found %s", n.Txid)
		}
	}
	if !sawCoinJoin {
		t.Fatal("expected the CoinJoin node itself to still appear in the graph")
	}
}

func TestUTXOTraceRootNodeIsMarkedStartingPoint(t *testing.T) {
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"txid":"root","vin":[],"vout":[{"scriptpubkey_address":"a","value":1000}]}`))
	})
	tracer := NewUTXOTracer(svc)

	graph, err := tracer.Trace(context.Background(), UTXOTraceParams{Txid: "root", Vout: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, n := range graph.Nodes {
		if n.Txid == "root" {
			found = true
			if !n.IsStartingPoint {
				t.Fatal("expected root node to be marked as the starting point")
			}
		}
	}
	if !found {
		t.Fatal("expected root transaction node to be present")
	}
}

func TestPeelChainTraceRespectsMinConfidence(t *testing.T) {
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		// A single, non-lopsided 2-output tx: payment ratio ~0.5 means
		// low confidence, which should stop the chain immediately.
		w.Write([]byte(`{"txid":"t1","vin":[],"vout":[{"scriptpubkey_address":"a","value":49000},{"scriptpubkey_address":"b","value":51000}]}`))
	})
	tracer := NewPeelChainTracer(svc)

	result, err := tracer.Trace(context.Background(), "t1", 5, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Hops) != 0 {
		t.Fatalf("expected no hops to clear a 0.9 confidence threshold, got %d", len(result.Hops))
	}
}
