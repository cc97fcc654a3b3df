package chainservice

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func txPageJSON(prefix string, n int) string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"txid":"%s-%d","vin":[],"vout":[]}`, prefix, i)
	}
	b.WriteString("]")
	return b.String()
}

// Stop condition (a): an empty page ends pagination.
func TestFetchAddressHistoryStopsOnEmptyPage(t *testing.T) {
	page := 0
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			w.Write([]byte(txPageJSON("p1", 50)))
			return
		}
		w.Write([]byte("[]"))
	})

	txs, fromCache, err := svc.FetchAddressHistory(context.Background(), "bc1qaddr", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromCache {
		t.Fatal("expected a fresh fetch, not a cache hit")
	}
	if len(txs) != 50 {
		t.Fatalf("expected 50 transactions from the single non-empty page, got %d", len(txs))
	}
}

// Stop condition (b): maxResults reached truncates the accumulated set.
func TestFetchAddressHistoryStopsAtMaxResults(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(txPageJSON("p", 50)))
	})

	txs, _, err := svc.FetchAddressHistory(context.Background(), "bc1qaddr", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 30 {
		t.Fatalf("expected exactly maxResults=30 transactions, got %d", len(txs))
	}
}

// Stop condition (c): repeated all-duplicate pages end pagination even
// though the upstream never returns an empty page.
func TestFetchAddressHistoryStopsOnConsecutiveDuplicatePages(t *testing.T) {
	calls := 0
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(txPageJSON("p", 10)))
			return
		}
		// Every subsequent page repeats the same txids forever.
		w.Write([]byte(txPageJSON("p", 10)))
	})

	txs, _, err := svc.FetchAddressHistory(context.Background(), "bc1qaddr", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 10 {
		t.Fatalf("expected pagination to stop after the first page repeats, got %d transactions", len(txs))
	}
	if calls > 1+consecutiveDupeStop+1 {
		t.Fatalf("expected pagination to halt quickly once duplicates repeat, made %d calls", calls)
	}
}

func TestFetchAddressInfoBackfillsOnCompactSummary(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/txs/chain"):
			w.Write([]byte(`[{"txid":"t1","vin":[],"vout":[{"scriptpubkey_address":"bc1qaddr","value":1000}]}]`))
		default:
			w.Write([]byte(`{"address":"bc1qaddr","chain_stats":{"tx_count":5,"funded_txo_count":0,"spent_txo_count":0},"mempool_stats":{}}`))
		}
	})

	info, err := svc.FetchAddressInfo(context.Background(), "bc1qaddr", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.CompactSummary {
		t.Fatal("expected compact summary to be resolved by backfill")
	}
	if info.ReceivingCount != 1 {
		t.Fatalf("expected backfilled receiving count 1, got %d", info.ReceivingCount)
	}
}
