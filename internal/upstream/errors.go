package upstream

import "errors"

// Error taxonomy (spec.md §7). Retries live only in the driver (C5); every
// other layer treats a failure as a signal to try something else or give
// up, never to retry on its own.
var (
	// ErrUpstreamTransient means a single endpoint failed but others may
	// still succeed. Never leaves the pool/driver — C6 only sees a null
	// result, not this error.
	ErrUpstreamTransient = errors.New("upstream: transient endpoint failure")

	// ErrAllUpstreamsFailed means every attempt across the failover
	// budget was exhausted without a success.
	ErrAllUpstreamsFailed = errors.New("upstream: all endpoints failed")

	// ErrNotFound means the upstream responded 404. Callers decide
	// whether that's a valid empty result or a domain-level not-found.
	ErrNotFound = errors.New("upstream: not found")

	// ErrInvalidInput means the caller's parameters are malformed or
	// out of range. Never reaches the pool.
	ErrInvalidInput = errors.New("upstream: invalid input")

	// ErrCacheUnavailable means the KV store is down. Logged at warn by
	// callers; never surfaced past the cache layer.
	ErrCacheUnavailable = errors.New("upstream: cache unavailable")

	// ErrCancelled means the caller's context was cancelled. Propagated
	// without being logged as an error.
	ErrCancelled = errors.New("upstream: request cancelled")
)
