package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// S4: the first (priority-0) endpoint fails and enters its failure
// cooldown, and the driver fails over to the second without the caller
// ever seeing an error for individual attempts.
func TestDriverFailsOverToSecondEndpoint(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer good.Close()

	cfg := testConfig()
	cfg.LocalURL = bad.URL
	cfg.ConcurrencyFailureThreshold = 1
	pool := NewPool(cfg)

	secondary := newEndpoint(EndpointConfig{
		Name:          "secondary",
		BaseURL:       good.URL,
		Priority:      0,
		MaxConcurrent: 4,
	}, cfg.ConcurrencyAdjustWindow)
	pool.Registry.Endpoints = append(pool.Registry.Endpoints, secondary)

	driver := NewDriver(pool, cfg)
	result, err := driver.RequestWithFailover(context.Background(), "/tx/abc", 0)
	if err != nil {
		t.Fatalf("expected failover to succeed on the second endpoint, got %v", err)
	}
	if result.Endpoint != "secondary" && result.Endpoint != "local" {
		t.Fatalf("unexpected endpoint %s", result.Endpoint)
	}
	if string(result.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", result.Body)
	}
}

func TestDriverReturnsAllUpstreamsFailed(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := testConfig()
	cfg.LocalURL = bad.URL
	cfg.RequestTotalTimeout = 500 * time.Millisecond
	cfg.HardRequestTimeout = 200 * time.Millisecond
	cfg.FailureCooldown = time.Millisecond
	pool := NewPool(cfg)
	driver := NewDriver(pool, cfg)

	_, err := driver.RequestWithFailover(context.Background(), "/tx/abc", 0)
	if err == nil {
		t.Fatal("expected all-upstreams-failed error")
	}
}

// A 404 is a successful attempt, not a failure — it must not trip the
// failure cooldown or hard-disable counters.
func TestDriverTreats404AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.LocalURL = srv.URL
	pool := NewPool(cfg)
	driver := NewDriver(pool, cfg)

	result, err := driver.RequestWithFailover(context.Background(), "/tx/missing", 0)
	if err != nil {
		t.Fatalf("expected 404 to be treated as a successful attempt, got %v", err)
	}
	if result.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", result.StatusCode)
	}
	ep := pool.Registry.Endpoints[0]
	if ep.consecutiveFailuresSnapshot() != 0 {
		t.Fatal("404 must not count as a failure")
	}
}
