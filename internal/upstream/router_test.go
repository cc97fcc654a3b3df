package upstream

import (
	"testing"
	"time"
)

func newTestRegistry(names ...string) *Registry {
	r := &Registry{}
	for _, n := range names {
		ep := newEndpoint(EndpointConfig{
			Name:          n,
			BaseURL:       "http://" + n,
			Priority:      0,
			MaxConcurrent: 4,
		}, 4)
		r.Endpoints = append(r.Endpoints, ep)
	}
	return r
}

func TestRouterRespectsMinPriority(t *testing.T) {
	registry := newTestRegistry("a")
	registry.Endpoints[0].Priority = 2
	router := NewRouter(registry)

	if ep := router.Choose(1, time.Second); ep == nil {
		t.Fatal("expected a priority-2 endpoint to satisfy min_priority=1")
	}
	if ep := router.Choose(3, time.Second); ep != nil {
		t.Fatal("expected no endpoint to satisfy min_priority=3")
	}
}

// Within the top-5 ranked candidates, Choose must hand endpoints out in
// round robin order rather than always returning the top-ranked one.
func TestRouterRoundRobinsAcrossTopN(t *testing.T) {
	registry := newTestRegistry("a", "b", "c")
	router := NewRouter(registry)

	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		ep := router.Choose(0, time.Second)
		if ep == nil {
			t.Fatal("expected an endpoint")
		}
		seen[ep.Name]++
	}
	for _, name := range []string{"a", "b", "c"} {
		if seen[name] != 3 {
			t.Fatalf("expected endpoint %s to be chosen 3 times in round robin, got %d", name, seen[name])
		}
	}
}

func TestRouterRanksBySuccessRateThenLatency(t *testing.T) {
	registry := newTestRegistry("slow-but-reliable", "fast-but-flaky")
	router := NewRouter(registry)
	reliable, flaky := registry.Endpoints[0], registry.Endpoints[1]

	for i := 0; i < 4; i++ {
		reliable.window.record(true, 200*time.Millisecond)
		flaky.window.record(i != 0, 10*time.Millisecond)
	}

	ep := router.Choose(0, time.Second)
	if ep.Name != "slow-but-reliable" {
		t.Fatalf("expected higher success rate to outrank lower latency, got %s", ep.Name)
	}
}

func TestRouterReturnsNilWhenNoneAvailable(t *testing.T) {
	registry := newTestRegistry("a")
	registry.Endpoints[0].hardDisabled = true
	registry.Endpoints[0].Priority = 1
	registry.Endpoints[0].lastFailure = time.Now()
	router := NewRouter(registry)

	if ep := router.Choose(0, time.Second); ep != nil {
		t.Fatal("expected nil when the only endpoint is hard-disabled")
	}
}
