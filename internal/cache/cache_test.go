package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, _ := store.Get(ctx, TransactionKey("abc")); ok {
		t.Fatal("expected miss on empty store")
	}

	if err := store.Set(ctx, TransactionKey("abc"), []byte(`{"txid":"abc"}`), time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, ok, err := store.Get(ctx, TransactionKey("abc"))
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(val) != `{"txid":"abc"}` {
		t.Fatalf("unexpected value %s", val)
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, AddressHistoryKey("1abc"), []byte("[]"), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := store.Get(ctx, AddressHistoryKey("1abc")); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Set(ctx, TransactionKey("abc"), []byte("x"), time.Minute)
	_ = store.Delete(ctx, TransactionKey("abc"))

	if _, ok, _ := store.Get(ctx, TransactionKey("abc")); ok {
		t.Fatal("expected miss after delete")
	}
}
