package upstream

import (
	"context"
	"time"
)

// Pool is the endpoint multiplexer (C4): it owns the global inflight
// semaphore, hands slot acquisition and release to the right endpoint,
// records request outcomes into each endpoint's rolling window, and
// applies the adaptive concurrency and health rules from spec.md §4.3.
// Grounded on MempoolEndpointState.mark_success/mark_failure in
// endpoint_registry.py, generalized from a plain healthy/unhealthy flag
// into a rolling-window success rate plus an adaptive concurrency limit.
type Pool struct {
	Registry *Registry
	Router   *Router
	cfg      Config

	global chan struct{}
}

func NewPool(cfg Config) *Pool {
	registry := NewRegistry(cfg)
	return &Pool{
		Registry: registry,
		Router:   NewRouter(registry),
		cfg:      cfg,
		global:   make(chan struct{}, cfg.GlobalMaxInflight),
	}
}

// AcquireGlobal blocks until a process-wide inflight slot is free or ctx
// is cancelled.
func (p *Pool) AcquireGlobal(ctx context.Context) error {
	select {
	case p.global <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrCancelled
	}
}

func (p *Pool) ReleaseGlobal() {
	<-p.global
}

// AcquireEndpointSlot attempts to reserve a concurrency slot on ep. If
// the endpoint's current limit is saturated it waits up to 500ms (or
// until ctx is cancelled, whichever is sooner) before giving up —
// spec.md §4.3's "cooldown-bounded wait". An endpoint whose
// concurrency limit has been adaptively driven to zero fails fast
// instead of waiting.
func (p *Pool) AcquireEndpointSlot(ctx context.Context, ep *Endpoint) bool {
	const maxWait = 500 * time.Millisecond

	ep.mu.Lock()
	if ep.concurrencyLimit <= 0 {
		ep.mu.Unlock()
		return false
	}
	if ep.inflight < ep.concurrencyLimit {
		ep.inflight++
		ep.mu.Unlock()
		return true
	}
	ep.mu.Unlock()

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			ep.mu.Lock()
			if ep.concurrencyLimit > 0 && ep.inflight < ep.concurrencyLimit {
				ep.inflight++
				ep.mu.Unlock()
				return true
			}
			ep.mu.Unlock()
		}
	}
}

func (p *Pool) ReleaseEndpointSlot(ep *Endpoint) {
	ep.mu.Lock()
	if ep.inflight > 0 {
		ep.inflight--
	}
	ep.mu.Unlock()
}

// RecordResult folds a completed request's outcome into ep's rolling
// window and applies the health and adaptive-concurrency rules. The
// driver passes success=true for HTTP 200/204 and also for 404, which is
// a domain not-found rather than an endpoint failure (spec.md §4.3).
func (p *Pool) RecordResult(ep *Endpoint, success bool, latency time.Duration) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.window.record(success, latency)

	if success {
		ep.totalSuccesses++
		ep.consecutiveSuccesses++
		ep.consecutiveFailures = 0
	} else {
		ep.totalFailures++
		ep.consecutiveFailures++
		ep.consecutiveSuccesses = 0
		ep.lastFailure = time.Now()

		if ep.Priority >= 1 && ep.consecutiveFailures >= p.cfg.ConcurrencyFailureThreshold {
			ep.hardDisabled = true
			ep.concurrencyLimit = 0
		}
	}

	p.maybeAdjustConcurrency(ep)
}

// maybeAdjustConcurrency applies the increase/decrease rule once the
// window is full, at most once per second per endpoint (spec.md §4.3).
// Must be called with ep.mu held.
func (p *Pool) maybeAdjustConcurrency(ep *Endpoint) {
	if !ep.window.isFull() {
		return
	}
	now := time.Now()
	if !ep.lastAdjust.IsZero() && now.Sub(ep.lastAdjust) < time.Second {
		return
	}

	rate := ep.window.successRate()
	avgLatency := ep.window.avgLatency()

	switch {
	case rate >= p.cfg.ConcurrencySuccessTarget && avgLatency <= p.cfg.ConcurrencyLatencyTarget:
		if ep.concurrencyLimit < ep.MaxConcurrent {
			ep.concurrencyLimit++
			ep.lastAdjust = now
		}
	case rate < p.cfg.ConcurrencySuccessTarget || avgLatency > p.cfg.ConcurrencyLatencyTarget:
		if ep.concurrencyLimit > ep.MinConcurrent {
			ep.concurrencyLimit--
			ep.lastAdjust = now
		}
	}
}

// RecordCompactSummary applies the compact-summary penalty (spec.md
// §4.5.2): +1 capped at 10 when a paginated address summary comes back
// truncated, decaying by 2 on the next clean response from the same
// endpoint.
func (p *Pool) RecordCompactSummary(ep *Endpoint, wasCompact bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if wasCompact {
		ep.compactPenalty++
		if ep.compactPenalty > 10 {
			ep.compactPenalty = 10
		}
	} else {
		ep.compactPenalty -= 2
		if ep.compactPenalty < 0 {
			ep.compactPenalty = 0
		}
	}
}

// IsAvailable reports whether ep can currently be chosen: enabled (not
// hard-disabled, or priority 0 which is never permanently disabled),
// and either healthy or past its failure cooldown.
func (ep *Endpoint) IsAvailable(cooldown time.Duration) bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.hardDisabled && ep.Priority >= 1 {
		if ep.lastFailure.IsZero() {
			return false
		}
		if time.Since(ep.lastFailure) > 24*time.Hour {
			// hard-disable applies a one-day cooldown; restore a minimal
			// concurrency slot so the endpoint can earn its way back up.
			ep.hardDisabled = false
			ep.concurrencyLimit = ep.MinConcurrent
			return true
		}
		return false
	}
	if ep.consecutiveFailures == 0 {
		return true
	}
	return time.Since(ep.lastFailure) > cooldown
}

func (ep *Endpoint) RecentSuccessRate() float64 {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.window.successRate()
}

func (ep *Endpoint) AvgLatency() time.Duration {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.window.avgLatency()
}

func (ep *Endpoint) ConcurrencyLimit() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.concurrencyLimit
}

func (ep *Endpoint) TotalFailures() int64 {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.totalFailures
}

func (ep *Endpoint) CompactPenalty() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.compactPenalty
}

func (ep *Endpoint) consecutiveFailuresSnapshot() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.consecutiveFailures
}

// EndpointSnapshot is a point-in-time, lock-free copy of one endpoint's
// health for the GET /metrics/mempool adapter (spec.md §6).
type EndpointSnapshot struct {
	Name                string    `json:"name"`
	BaseURL             string    `json:"baseUrl"`
	Priority            int       `json:"priority"`
	Healthy             bool      `json:"healthy"`
	ConcurrencyLimit    int       `json:"concurrencyLimit"`
	TotalSuccesses      int64     `json:"totalSuccesses"`
	TotalFailures       int64     `json:"totalFailures"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
}

// Snapshot copies ep's current health fields under its mutex.
func (ep *Endpoint) Snapshot() EndpointSnapshot {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return EndpointSnapshot{
		Name:                ep.Name,
		BaseURL:             ep.BaseURL,
		Priority:            ep.Priority,
		Healthy:             !ep.hardDisabled && ep.consecutiveFailures == 0,
		ConcurrencyLimit:    ep.concurrencyLimit,
		TotalSuccesses:      ep.totalSuccesses,
		TotalFailures:       ep.totalFailures,
		ConsecutiveFailures: ep.consecutiveFailures,
		LastFailure:         ep.lastFailure,
	}
}

// Snapshots returns a health snapshot of every configured endpoint, in
// registry order, for the metrics adapter.
func (p *Pool) Snapshots() []EndpointSnapshot {
	out := make([]EndpointSnapshot, 0, len(p.Registry.Endpoints))
	for _, ep := range p.Registry.Endpoints {
		out = append(out, ep.Snapshot())
	}
	return out
}
