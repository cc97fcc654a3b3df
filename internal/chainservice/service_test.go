package chainservice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
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
	return NewService(driver, cache.NewMemoryStore(), cfg)
}

func TestFetchTransactionCachesConfirmedOnly(t *testing.T) {
	calls := 0
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"txid":"abc","vin":[],"vout":[{"scriptpubkey_address":"bc1q","value":1000}],
			"status":{"confirmed":true,"block_height":1,"block_hash":"h","block_time":1}}`))
	})

	ctx := context.Background()
	if _, err := svc.FetchTransaction(ctx, "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.FetchTransaction(ctx, "abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a confirmed transaction to be served from cache on the second call, got %d upstream calls", calls)
	}
}

func TestFetchTransactionsBatchPreservesOrderAndDuplicates(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		txid := r.URL.Path[len("/tx/"):]
		w.Write([]byte(`{"txid":"` + txid + `","vin":[],"vout":[]}`))
	})

	ctx := context.Background()
	txids := []string{"a", "b", "a", "c"}
	results, err := svc.FetchTransactionsBatch(ctx, txids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results for 4 input positions, got %d", len(results))
	}
	if results[0] == nil || results[2] == nil || results[0].Txid != results[2].Txid {
		t.Fatal("expected both positions of the duplicated txid to resolve to the same transaction")
	}
	if results[1].Txid != "b" || results[3].Txid != "c" {
		t.Fatal("expected output order to match input order")
	}
}

func TestFetchTransactionsBatchSkipsFailedPositionsAsNil(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tx/missing" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"txid":"ok","vin":[],"vout":[]}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results, err := svc.FetchTransactionsBatch(ctx, []string{"ok", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0] == nil || results[0].Txid != "ok" {
		t.Fatal("expected the successful fetch to resolve")
	}
	if results[1] != nil {
		t.Fatal("expected the failed fetch's position to be nil, not an aborted batch")
	}
}
