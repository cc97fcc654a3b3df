package upstream

import (
	"sort"
	"sync"
	"time"
)

// Router selects an endpoint for a request. Selection rule (spec.md
// §4.1): among endpoints whose priority >= minPriority and which are
// currently available, rank by (-recent_success_rate, avg_latency,
// -concurrency_limit, total_failures) and hand out the top 5 in round
// robin order by an internal rotation counter. The original's
// router.py only ever picked the lowest available priority; this
// generalizes that into a scored top-N round robin per the expanded
// contract.
type Router struct {
	registry *Registry

	mu      sync.Mutex
	counter uint64
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

const topN = 5

// Choose returns the next endpoint to try for a request requiring at
// least minPriority, or nil if none are available.
func (r *Router) Choose(minPriority int, cooldown time.Duration) *Endpoint {
	candidates := make([]*Endpoint, 0, len(r.registry.Endpoints))
	for _, ep := range r.registry.Endpoints {
		if ep.Priority < minPriority {
			continue
		}
		if !ep.IsAvailable(cooldown) {
			continue
		}
		candidates = append(candidates, ep)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		sa, sb := a.RecentSuccessRate(), b.RecentSuccessRate()
		if sa != sb {
			return sa > sb // -success_rate ascending == success_rate descending
		}
		la, lb := a.AvgLatency(), b.AvgLatency()
		if la != lb {
			return la < lb
		}
		ca, cb := a.ConcurrencyLimit(), b.ConcurrencyLimit()
		if ca != cb {
			return ca > cb // -concurrency_limit ascending == concurrency_limit descending
		}
		return a.TotalFailures() < b.TotalFailures()
	})

	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	r.mu.Lock()
	idx := r.counter % uint64(len(candidates))
	r.counter++
	r.mu.Unlock()

	return candidates[idx]
}
