package upstream

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// maxAttempts bounds how many endpoints the failover driver will try
// within one logical request, independent of the total deadline
// (spec.md §4.4). Not exposed as an env key in the spec's config table;
// kept as a driver constant the way internal/bitcoin hardcodes its
// per-call timeouts rather than threading them through config.
const maxAttempts = 5

// Driver is the request/failover driver (C5): it turns "fetch this path
// at this minimum priority" into a deadline-budgeted sequence of
// attempts across the endpoint pool, retrying on transient failure and
// giving up only when the total deadline or attempt budget is spent.
// Grounded on internal/bitcoin/client.go's manual http.Client call
// pattern and fmt.Errorf(...: %w) wrapping — no HTTP client library is
// introduced here, matching the teacher's idiom throughout.
type Driver struct {
	Pool    *Pool
	Clients *ClientFactory
	cfg     Config
}

func NewDriver(pool *Pool, cfg Config) *Driver {
	return &Driver{Pool: pool, Clients: NewClientFactory(), cfg: cfg}
}

// Result is one successful response from the failover driver.
type Result struct {
	Body       []byte
	StatusCode int
	Endpoint   string
}

// RequestWithFailover fetches path from the pool, trying up to
// maxAttempts endpoints at priority >= minPriority within the
// configured total timeout. A 200, 204, or 404 response counts as a
// successful attempt (404 is a valid "not found" answer from a healthy
// endpoint, not an endpoint failure); anything else is recorded as a
// failure and the driver moves on to the next endpoint.
func (d *Driver) RequestWithFailover(ctx context.Context, path string, minPriority int) (*Result, error) {
	deadline := time.Now().Add(d.cfg.RequestTotalTimeout)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		ep := d.Pool.Router.Choose(minPriority, d.cfg.FailureCooldown)
		if ep == nil {
			// No endpoint is available right now; wait briefly and try
			// again. This iteration still counts against maxAttempts,
			// as does every pass through the loop.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		attemptTimeout := d.cfg.HardRequestTimeout
		if remaining < attemptTimeout {
			attemptTimeout = remaining
		}
		if attemptTimeout < d.cfg.MinRequestTimeout {
			attemptTimeout = d.cfg.MinRequestTimeout
		}

		result, err := d.attempt(ctx, ep, path, attemptTimeout)
		if err == nil {
			return result, nil
		}
	}

	d.logExhaustion(minPriority)
	return nil, fmt.Errorf("%s: %w", path, ErrAllUpstreamsFailed)
}

func (d *Driver) attempt(ctx context.Context, ep *Endpoint, path string, timeout time.Duration) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := d.Pool.AcquireGlobal(attemptCtx); err != nil {
		return nil, err
	}
	defer d.Pool.ReleaseGlobal()

	if !d.Pool.AcquireEndpointSlot(attemptCtx, ep) {
		return nil, fmt.Errorf("%s: %w", ep.Name, ErrUpstreamTransient)
	}
	defer d.Pool.ReleaseEndpointSlot(ep)

	if ep.RequestDelay > 0 {
		select {
		case <-time.After(ep.RequestDelay):
		case <-attemptCtx.Done():
			return nil, ErrCancelled
		}
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, ep.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", ep.Name, err)
	}

	client := d.Clients.ClientFor(timeout)
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		d.Pool.RecordResult(ep, false, latency)
		if attemptCtx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("%s: %w", ep.Name, ErrUpstreamTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		d.Pool.RecordResult(ep, false, latency)
		return nil, fmt.Errorf("reading response from %s: %w", ep.Name, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		d.Pool.RecordResult(ep, true, latency)
		return &Result{Body: body, StatusCode: resp.StatusCode, Endpoint: ep.Name}, nil
	default:
		d.Pool.RecordResult(ep, false, latency)
		return nil, fmt.Errorf("%s returned status %d: %w", ep.Name, resp.StatusCode, ErrUpstreamTransient)
	}
}

func (d *Driver) logExhaustion(minPriority int) {
	for _, ep := range d.Pool.Registry.Endpoints {
		if ep.Priority < minPriority {
			continue
		}
		log.Printf("upstream: endpoint %s unavailable (priority=%d consecutive_failures=%d concurrency_limit=%d)",
			ep.Name, ep.Priority, ep.consecutiveFailuresSnapshot(), ep.ConcurrencyLimit())
	}
}
