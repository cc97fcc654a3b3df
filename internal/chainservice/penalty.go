package chainservice

import "sync"

// priorityTracker implements the endpoint-preference escalation rule of
// spec.md §4.5.2: address-summary fetches start at priority 0 and climb
// to 1 then 2 as compact-summary responses accumulate, while plain
// transaction fetches always default back to priority 0 (the fast path
// doesn't carry the same per-address degradation risk). One counter per
// address key, +1 per compact response (capped at 10) and decayed by 2
// whenever a clean (non-compact) response arrives.
type priorityTracker struct {
	mu      sync.Mutex
	penalty map[string]int
}

func newPriorityTracker() *priorityTracker {
	return &priorityTracker{penalty: make(map[string]int)}
}

const maxAddressPriority = 2

// MinPriorityFor returns the minimum endpoint priority an address-summary
// fetch for this address should require, given its accumulated
// compact-summary penalty.
func (t *priorityTracker) MinPriorityFor(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.penalty[address]
	if p > maxAddressPriority {
		p = maxAddressPriority
	}
	return p
}

// RecordOutcome applies the +1 capped at 10 / decay by 2 rule and maps
// the result down into the 0-2 priority range MinPriorityFor reports.
func (t *priorityTracker) RecordOutcome(address string, wasCompact bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	raw := t.penalty[address]
	if wasCompact {
		raw++
		if raw > 10 {
			raw = 10
		}
	} else {
		raw -= 2
		if raw < 0 {
			raw = 0
		}
	}
	t.penalty[address] = raw
}
