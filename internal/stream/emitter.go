// Package stream implements the SSE streaming layer (C9) for
// GET /trace/address/stream (spec.md §4.8, §6). Grounded on the
// teacher's gorilla/websocket Hub in internal/api/websocket.go for the
// "broadcast incremental progress to a live connection" shape, adapted
// from a fan-out hub to a single-request SSE writer since streaming
// trace progress is inherently one response per request, not a shared
// broadcast channel.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// EventKind tags each frame emitted over an SSE trace stream (spec.md §4.8).
type EventKind string

const (
	EventMetadata EventKind = "metadata"
	EventBatch    EventKind = "batch"
	EventProgress EventKind = "progress"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// Flusher is the subset of http.ResponseWriter an SSE emitter needs;
// gin.Context's underlying writer satisfies both http.ResponseWriter and
// http.Flusher, so handlers can pass c.Writer directly.
type Flusher interface {
	http.ResponseWriter
	Flush()
}

// Emitter writes one SSE event stream to a single HTTP response. Not
// safe for concurrent use by multiple goroutines on the same request.
type Emitter struct {
	w Flusher
}

func NewEmitter(w Flusher) *Emitter {
	return &Emitter{w: w}
}

// WriteHeaders sets the SSE response headers (spec.md §6): callers must
// call this before the first Emit.
func (e *Emitter) WriteHeaders() {
	e.w.Header().Set("Content-Type", "text/event-stream")
	e.w.Header().Set("Cache-Control", "no-cache")
	e.w.Header().Set("Connection", "keep-alive")
	e.w.Header().Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	e.w.Flush()
}

// Emit writes one "event: <kind>\ndata: <json>\n\n" frame and flushes
// it immediately so the client sees it without buffering delay.
func (e *Emitter) Emit(kind EventKind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", kind, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", kind, body); err != nil {
		return err
	}
	e.w.Flush()
	return nil
}

// EmitError emits a terminal error event; callers should stop writing
// after this.
func (e *Emitter) EmitError(message string) error {
	return e.Emit(EventError, map[string]string{"message": message})
}

const batchSize = 20
const yieldDelay = 100 * time.Millisecond

// TransactionBatchBuilder resolves exactly the given slice of the
// history (never more, never less) into the nodes and edges that slice
// contributes to the trace graph.
type TransactionBatchBuilder func(ctx context.Context, txids []string) (models.TraceGraph, error)

// EmitTransactionBatches processes txids in groups of batchSize,
// building and emitting each group as one `batch` event before moving
// on to the next (spec.md §4.8): every transaction appears in exactly
// one batch event, and nothing past the current group is fetched from
// upstream until the previous group has been built and emitted. Between
// groups it yields yieldDelay, checking ctx at each suspension point so
// a cancelled/disconnected client (ctx.Done()) stops further upstream
// fetches immediately rather than finishing the remaining groups first.
// progress is called with the batch just emitted and the running
// processed count.
func EmitTransactionBatches(ctx context.Context, e *Emitter, txids []string, build TransactionBatchBuilder, progress func(batch models.TraceGraph, processed int)) error {
	total := len(txids)
	for start := 0; start < total; start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + batchSize
		if end > total {
			end = total
		}

		batch, err := build(ctx, txids[start:end])
		if err != nil {
			return err
		}
		if err := e.Emit(EventBatch, batch); err != nil {
			return err
		}
		if progress != nil {
			progress(batch, end)
		}

		if end < total {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(yieldDelay):
			}
		}
	}
	return nil
}
