package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/internal/chainservice"
	"github.com/rawblock/coinjoin-engine/internal/heuristics"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
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

// A 5-input Whirlpool-denomination CoinJoin (5 equal 0.001 BTC outputs)
// should be counted and persisted; the coinbase txid must be skipped.
func TestScanBlockSkipsCoinbaseAndCountsCoinJoins(t *testing.T) {
	coinjoinTx := `{"txid":"cj1","vin":[{"txid":"a","vout":0},{"txid":"b","vout":0},{"txid":"c","vout":0},{"txid":"d","vout":0},{"txid":"e","vout":0}],` +
		`"vout":[{"scriptpubkey_address":"out1","value":100000},{"scriptpubkey_address":"out2","value":100000},` +
		`{"scriptpubkey_address":"out3","value":100000},{"scriptpubkey_address":"out4","value":100000},` +
		`{"scriptpubkey_address":"out5","value":100000}]}`

	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/block-height/"):
			w.Write([]byte("blockhash1"))
		case strings.HasSuffix(r.URL.Path, "/txids"):
			w.Write([]byte(`["coinbase-tx","cj1"]`))
		case strings.Contains(r.URL.Path, "/tx/cj1"):
			w.Write([]byte(coinjoinTx))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	watchlist := heuristics.NewAddressWatchlist()
	s := NewBlockScanner(svc, nil, watchlist, nil)
	s.scanBlock(context.Background(), 850000)

	if got := s.totalScanned.Load(); got != 1 {
		t.Fatalf("expected 1 transaction scanned (coinbase skipped), got %d", got)
	}
	if got := s.totalCoinJoins.Load(); got != 1 {
		t.Fatalf("expected the Whirlpool-pattern transaction to be counted as a CoinJoin, got %d", got)
	}
}

func TestScanBlockHandlesEmptyBlock(t *testing.T) {
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/block-height/"):
			w.Write([]byte("blockhash1"))
		case strings.HasSuffix(r.URL.Path, "/txids"):
			w.Write([]byte(`["coinbase-tx"]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	s := NewBlockScanner(svc, nil, heuristics.NewAddressWatchlist(), nil)
	s.scanBlock(context.Background(), 850001)

	if got := s.totalScanned.Load(); got != 0 {
		t.Fatalf("expected 0 transactions scanned for a coinbase-only block, got %d", got)
	}
}

func TestGetProgressReflectsAtomicCounters(t *testing.T) {
	s := NewBlockScanner(nil, nil, nil, nil)
	s.currentHeight.Store(850005)
	s.totalScanned.Store(42)
	s.totalCoinJoins.Store(3)

	p := s.GetProgress()
	if p.CurrentHeight != 850005 || p.TotalScanned != 42 || p.TotalCoinJoins != 3 {
		t.Fatalf("unexpected progress snapshot: %+v", p)
	}
}
