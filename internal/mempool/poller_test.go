package mempool

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/internal/chainservice"
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

// A single poll tick should fetch once, skip already-seen txids on the
// next tick, and never re-analyze the same transaction twice.
func TestPollOnceSkipsAlreadySeenTxids(t *testing.T) {
	txJSON := `{"txid":"t1","vin":[{"txid":"a","vout":0},{"txid":"b","vout":0}],` +
		`"vout":[{"scriptpubkey_address":"o1","value":50000},{"scriptpubkey_address":"o2","value":50000}]}`

	fetchCount := 0
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/mempool/txids"):
			w.Write([]byte(`["t1"]`))
		case strings.Contains(r.URL.Path, "/tx/t1"):
			fetchCount++
			w.Write([]byte(txJSON))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	p := NewPoller(svc, nil, nil)
	p.pollOnce(t.Context())
	p.pollOnce(t.Context())

	if fetchCount != 1 {
		t.Fatalf("expected exactly one transaction fetch across two ticks, got %d", fetchCount)
	}
	if !p.seenTXs["t1"] {
		t.Fatal("expected t1 to be recorded in the seen set")
	}
}

func TestPollOnceIgnoresEmptyMempool(t *testing.T) {
	svc := newTestChainService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	p := NewPoller(svc, nil, nil)
	p.pollOnce(t.Context())

	if len(p.seenTXs) != 0 {
		t.Fatalf("expected no seen txids for an empty mempool, got %d", len(p.seenTXs))
	}
}
