package upstream

import (
	"net/http"
	"sync"
	"time"
)

// ClientFactory lazily builds and caches one *http.Client per distinct
// timeout, the way internal/bitcoin's rpcclient.Client holds a single
// configured client per long-running call (ScanTxOutset's 5-minute
// client, GetTxOutSetInfoLong's 3-minute client) rather than allocating
// a fresh client per request. Endpoints share a client when their
// per-attempt timeout matches, since *http.Client is safe for
// concurrent use and its connection pool is worth reusing.
type ClientFactory struct {
	mu      sync.Mutex
	clients map[time.Duration]*http.Client
}

func NewClientFactory() *ClientFactory {
	return &ClientFactory{clients: make(map[time.Duration]*http.Client)}
}

// ClientFor returns the cached *http.Client for timeout, creating one
// if this is the first request to ask for it.
func (f *ClientFactory) ClientFor(timeout time.Duration) *http.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[timeout]; ok {
		return c
	}
	c := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	f.clients[timeout] = c
	return c
}
