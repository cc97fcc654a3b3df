package upstream

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		LocalURL:                    "http://local.example",
		LocalMaxConcurrent:          4,
		GlobalMaxInflight:           16,
		RequestTimeout:              time.Second,
		MinRequestTimeout:           100 * time.Millisecond,
		HardRequestTimeout:          2 * time.Second,
		RequestTotalTimeout:         5 * time.Second,
		FailureCooldown:             30 * time.Second,
		ConcurrencyAdjustWindow:     4,
		ConcurrencySuccessTarget:    0.95,
		ConcurrencyLatencyTarget:    500 * time.Millisecond,
		ConcurrencyFailureThreshold: 3,
	}
}

// Invariant: an endpoint's in-flight count never exceeds its current
// concurrency limit, and acquiring beyond the limit fails fast rather
// than granting an extra slot.
func TestEndpointSlotBounds(t *testing.T) {
	cfg := testConfig()
	pool := NewPool(cfg)
	ep := pool.Registry.Endpoints[0]
	ep.concurrencyLimit = 2

	ctx := context.Background()
	if !pool.AcquireEndpointSlot(ctx, ep) {
		t.Fatal("expected first acquire to succeed")
	}
	if !pool.AcquireEndpointSlot(ctx, ep) {
		t.Fatal("expected second acquire to succeed")
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if pool.AcquireEndpointSlot(shortCtx, ep) {
		t.Fatal("expected third acquire to fail fast, limit is saturated")
	}

	pool.ReleaseEndpointSlot(ep)
	if ep.inflight != 1 {
		t.Fatalf("expected inflight=1 after release, got %d", ep.inflight)
	}
}

// A concurrency_limit of zero must fail fast instead of waiting out the
// cooldown window.
func TestEndpointZeroLimitFailsFast(t *testing.T) {
	cfg := testConfig()
	pool := NewPool(cfg)
	ep := pool.Registry.Endpoints[0]
	ep.concurrencyLimit = 0

	start := time.Now()
	ok := pool.AcquireEndpointSlot(context.Background(), ep)
	if ok {
		t.Fatal("expected acquire to fail when concurrency_limit is 0")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected fail-fast, not a cooldown wait")
	}
}

// Invariant: concurrency_limit only moves once the rolling window is
// full, and moves by exactly one step per adjustment (S3).
func TestAdaptiveConcurrencyStepsByOne(t *testing.T) {
	cfg := testConfig()
	cfg.LocalMaxConcurrent = 4
	pool := NewPool(cfg)
	ep := pool.Registry.Endpoints[0]
	ep.MaxConcurrent = 4
	ep.concurrencyLimit = 4

	// Drive the limit down to the floor with a window of all failures,
	// waiting past the once-per-second adjustment cap between each.
	for round := 0; round < 6; round++ {
		for i := 0; i < cfg.ConcurrencyAdjustWindow; i++ {
			pool.RecordResult(ep, false, 10*time.Millisecond)
		}
		ep.mu.Lock()
		ep.lastAdjust = time.Time{}
		ep.mu.Unlock()
	}
	if ep.ConcurrencyLimit() != ep.MinConcurrent {
		t.Fatalf("expected concurrency_limit to settle at floor %d, got %d", ep.MinConcurrent, ep.ConcurrencyLimit())
	}

	// Now feed one full clean window and confirm it climbs by exactly 1.
	before := ep.ConcurrencyLimit()
	ep.mu.Lock()
	ep.lastAdjust = time.Time{}
	ep.mu.Unlock()
	for i := 0; i < cfg.ConcurrencyAdjustWindow; i++ {
		pool.RecordResult(ep, true, 10*time.Millisecond)
	}
	after := ep.ConcurrencyLimit()
	if after != before+1 {
		t.Fatalf("expected concurrency_limit to increase by exactly 1 (%d -> %d), got %d", before, before+1, after)
	}
}

// S4: three consecutive failures on a non-local endpoint hard-disables
// it; priority-0 endpoints are never hard-disabled.
func TestConsecutiveFailureThresholdDisables(t *testing.T) {
	cfg := testConfig()
	cfg.ConcurrencyFailureThreshold = 3
	pool := NewPool(cfg)

	additional := newEndpoint(EndpointConfig{
		Name:          "additional-0",
		BaseURL:       "http://additional.example",
		Priority:      1,
		MaxConcurrent: 4,
	}, cfg.ConcurrencyAdjustWindow)
	pool.Registry.Endpoints = append(pool.Registry.Endpoints, additional)

	for i := 0; i < 3; i++ {
		pool.RecordResult(additional, false, 10*time.Millisecond)
	}
	if additional.IsAvailable(cfg.FailureCooldown) {
		t.Fatal("expected endpoint to be hard-disabled after reaching the failure threshold")
	}

	local := pool.Registry.Endpoints[0]
	for i := 0; i < 10; i++ {
		pool.RecordResult(local, false, 10*time.Millisecond)
	}
	if local.hardDisabled {
		t.Fatal("priority-0 endpoints must never be hard-disabled")
	}
}

func TestCompactSummaryPenaltyDecays(t *testing.T) {
	cfg := testConfig()
	pool := NewPool(cfg)
	ep := pool.Registry.Endpoints[0]

	for i := 0; i < 3; i++ {
		pool.RecordCompactSummary(ep, true)
	}
	if ep.CompactPenalty() != 3 {
		t.Fatalf("expected penalty 3, got %d", ep.CompactPenalty())
	}
	pool.RecordCompactSummary(ep, false)
	if ep.CompactPenalty() != 1 {
		t.Fatalf("expected penalty to decay by 2 to 1, got %d", ep.CompactPenalty())
	}

	for i := 0; i < 20; i++ {
		pool.RecordCompactSummary(ep, true)
	}
	if ep.CompactPenalty() != 10 {
		t.Fatalf("expected penalty capped at 10, got %d", ep.CompactPenalty())
	}
}
