package upstream

import (
	"strconv"
	"sync"
	"time"
)

// rollingWindow is a fixed-capacity ring buffer of per-request outcomes,
// used to compute the recent success rate and average latency that feed
// both routing (C2) and adaptive concurrency (C4). Grounded on
// MempoolEndpointState's success/failure counters in endpoint_registry.py,
// generalized from unbounded lifetime counters to a bounded recent window
// since spec.md §4.3 measures "windows of N completed requests" rather
// than all-time totals.
type rollingWindow struct {
	successes []bool
	latencies []time.Duration
	size      int
	next      int
	filled    bool
}

func newRollingWindow(capacity int) *rollingWindow {
	return &rollingWindow{
		successes: make([]bool, capacity),
		latencies: make([]time.Duration, capacity),
		size:      capacity,
	}
}

func (w *rollingWindow) record(success bool, latency time.Duration) {
	w.successes[w.next] = success
	w.latencies[w.next] = latency
	w.next++
	if w.next == w.size {
		w.next = 0
		w.filled = true
	}
}

func (w *rollingWindow) count() int {
	if w.filled {
		return w.size
	}
	return w.next
}

func (w *rollingWindow) isFull() bool {
	return w.filled
}

func (w *rollingWindow) successRate() float64 {
	n := w.count()
	if n == 0 {
		return 1.0
	}
	ok := 0
	for i := 0; i < n; i++ {
		if w.successes[i] {
			ok++
		}
	}
	return float64(ok) / float64(n)
}

func (w *rollingWindow) avgLatency() time.Duration {
	n := w.count()
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += w.latencies[i]
	}
	return total / time.Duration(n)
}

// Endpoint is the runtime state for one configured mempool-style
// upstream: identity, concurrency slot accounting, health, and the
// rolling window adaptive concurrency reads from. One mutex per
// endpoint serializes all state transitions (spec.md §5 — "per-endpoint
// stat updates are serialized by the endpoint's own mutex").
type Endpoint struct {
	Name          string
	BaseURL       string
	Priority      int
	RequestDelay  time.Duration
	MinConcurrent int
	MaxConcurrent int

	mu                  sync.Mutex
	concurrencyLimit    int
	inflight            int
	hardDisabled        bool
	consecutiveFailures int
	consecutiveSuccesses int
	lastFailure         time.Time
	lastAdjust          time.Time
	totalFailures       int64
	totalSuccesses      int64
	compactPenalty      int
	window              *rollingWindow
}

func newEndpoint(cfg EndpointConfig, adjustWindow int) *Endpoint {
	return &Endpoint{
		Name:          cfg.Name,
		BaseURL:       cfg.BaseURL,
		Priority:      cfg.Priority,
		RequestDelay:  cfg.RequestDelay,
		MinConcurrent: 1,
		MaxConcurrent: cfg.MaxConcurrent,

		concurrencyLimit: cfg.MaxConcurrent,
		window:           newRollingWindow(adjustWindow),
	}
}

// Registry holds every configured endpoint, tier-built from Config the
// way build_mempool_endpoints assembles MempoolEndpointState instances:
// one local (priority 0), N additional (priority 1), N public (priority 2).
type Registry struct {
	Endpoints []*Endpoint
	cfg       Config
}

// NewRegistry builds the endpoint set from config. Disabled endpoints
// (by normalized base URL, per MEMPOOL_ENDPOINT_DISABLED) are dropped
// entirely rather than kept-but-unavailable, matching
// build_mempool_endpoints' final filter.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{cfg: cfg}

	if cfg.LocalURL != "" && !cfg.DisabledEndpoints[normalizeURL(cfg.LocalURL)] {
		r.Endpoints = append(r.Endpoints, newEndpoint(EndpointConfig{
			Name:          "local",
			BaseURL:       normalizeURL(cfg.LocalURL),
			Priority:      0,
			MaxConcurrent: cfg.LocalMaxConcurrent,
			RequestDelay:  cfg.LocalRequestDelay,
			Enabled:       true,
		}, cfg.ConcurrencyAdjustWindow))
	}

	for i, url := range cfg.AdditionalURLs {
		norm := normalizeURL(url)
		if cfg.DisabledEndpoints[norm] {
			continue
		}
		r.Endpoints = append(r.Endpoints, newEndpoint(EndpointConfig{
			Name:          tierName(TierAdditional, i),
			BaseURL:       norm,
			Priority:      1,
			MaxConcurrent: cfg.AdditionalMaxConcurrent,
			RequestDelay:  cfg.AdditionalRequestDelay,
			Enabled:       true,
		}, cfg.ConcurrencyAdjustWindow))
	}

	for i, url := range cfg.PublicURLs {
		norm := normalizeURL(url)
		if cfg.DisabledEndpoints[norm] {
			continue
		}
		r.Endpoints = append(r.Endpoints, newEndpoint(EndpointConfig{
			Name:          tierName(TierPublic, i),
			BaseURL:       norm,
			Priority:      2,
			MaxConcurrent: cfg.PublicMaxConcurrent,
			RequestDelay:  cfg.PublicRequestDelay,
			Enabled:       true,
		}, cfg.ConcurrencyAdjustWindow))
	}

	return r
}

func tierName(t Tier, idx int) string {
	switch t {
	case TierAdditional:
		return "additional-" + strconv.Itoa(idx)
	case TierPublic:
		return "public-" + strconv.Itoa(idx)
	default:
		return "local"
	}
}

func normalizeURL(url string) string {
	for len(url) > 0 && url[len(url)-1] == '/' {
		url = url[:len(url)-1]
	}
	return url
}
