package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// httptest.ResponseRecorder implements http.Flusher as a no-op, which is
// enough to exercise the emitter's framing without a live connection.
func TestEmitWritesSSEFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)
	e.WriteHeaders()

	if err := e.Emit(EventMetadata, map[string]int{"hopsBefore": 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: metadata\n") {
		t.Fatalf("expected an event: metadata line, got %q", body)
	}
	if !strings.Contains(body, `"hopsBefore":2`) {
		t.Fatalf("expected json payload in data line, got %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Fatal("expected frame to end with a blank line")
	}

	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatal("expected SSE content type header")
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Fatal("expected X-Accel-Buffering: no header")
	}
}

func txidSlice(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tx-%d", i)
	}
	return out
}

func TestEmitTransactionBatchesSplitsIntoFixedSizeGroupsAndCoversEveryTxidOnce(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	txids := txidSlice(45)
	var seen []string
	var progressCalls []int
	err := EmitTransactionBatches(context.Background(), e, txids, func(_ context.Context, group []string) (models.TraceGraph, error) {
		seen = append(seen, group...)
		nodes := make([]models.Node, len(group))
		for i, txid := range group {
			nodes[i] = models.Node{ID: "tx:" + txid, Kind: models.NodeTransaction, Txid: txid}
		}
		return models.TraceGraph{Nodes: nodes}, nil
	}, func(batch models.TraceGraph, processed int) {
		progressCalls = append(progressCalls, processed)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := strings.Count(rec.Body.String(), "event: batch\n")
	if frames != 3 {
		t.Fatalf("expected 3 batches for 45 txids at size 20, got %d", frames)
	}
	if len(progressCalls) != 3 || progressCalls[len(progressCalls)-1] != 45 {
		t.Fatalf("expected progress callbacks 20,40,45, got %v", progressCalls)
	}
	if len(seen) != len(txids) {
		t.Fatalf("expected every txid to be built exactly once across batches, saw %d for %d txids", len(seen), len(txids))
	}
	seenSet := make(map[string]int, len(seen))
	for _, txid := range seen {
		seenSet[txid]++
	}
	for _, txid := range txids {
		if seenSet[txid] != 1 {
			t.Fatalf("txid %s appeared in %d batches, expected exactly 1", txid, seenSet[txid])
		}
	}
}

func TestEmitTransactionBatchesStopsFetchingOnCancellation(t *testing.T) {
	rec := httptest.NewRecorder()
	e := NewEmitter(rec)

	ctx, cancel := context.WithCancel(context.Background())
	txids := txidSlice(60)

	var builds int
	err := EmitTransactionBatches(ctx, e, txids, func(_ context.Context, group []string) (models.TraceGraph, error) {
		builds++
		if builds == 2 {
			cancel()
		}
		return models.TraceGraph{}, nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if builds != 2 {
		t.Fatalf("expected exactly 2 groups built before the cancellation was observed, got %d", builds)
	}
}
