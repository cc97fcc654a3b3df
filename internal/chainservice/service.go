package chainservice

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// Service is the upstream data service (C6): the only component that
// turns a txid/address into a normalized models.Transaction/
// models.Address, via the cache-aside pattern and the endpoint pool.
type Service struct {
	Driver *upstream.Driver
	Cache  cache.Store
	cfg    upstream.Config

	addressPriority *priorityTracker
}

func NewService(driver *upstream.Driver, store cache.Store, cfg upstream.Config) *Service {
	return &Service{
		Driver:          driver,
		Cache:           store,
		cfg:             cfg,
		addressPriority: newPriorityTracker(),
	}
}

// FetchTransaction returns one transaction, preferring the cache but
// never trusting a cached mempool-only record as fresh (spec.md §4.5 —
// freshness requires block_height != null).
func (s *Service) FetchTransaction(ctx context.Context, txid string) (models.Transaction, error) {
	key := cache.TransactionKey(txid)

	if cached, ok := s.cacheGetTransaction(ctx, key); ok {
		return cached, nil
	}

	result, err := s.Driver.RequestWithFailover(ctx, "/tx/"+txid, 0)
	if err != nil {
		return models.Transaction{}, err
	}
	if result.StatusCode == 404 {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", txid, upstream.ErrNotFound)
	}

	tx, err := ParseTransaction(result.Body)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("parsing transaction %s: %w", txid, err)
	}

	if !tx.IsMempoolOnly() {
		s.cacheSetTransaction(ctx, key, result.Body)
	}
	return tx, nil
}

func (s *Service) cacheGetTransaction(ctx context.Context, key string) (models.Transaction, bool) {
	body, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		log.Printf("chainservice: cache get failed for %s: %v", key, err)
		return models.Transaction{}, false
	}
	if !ok {
		return models.Transaction{}, false
	}
	tx, err := ParseTransaction(body)
	if err != nil {
		return models.Transaction{}, false
	}
	return tx, true
}

func (s *Service) cacheSetTransaction(ctx context.Context, key string, body []byte) {
	if err := s.Cache.Set(ctx, key, body, s.cfg.CacheTTLTransaction); err != nil {
		log.Printf("chainservice: cache set failed for %s: %v", key, err)
	}
}

// FetchTransactionsBatch fetches many transactions concurrently,
// preserving input order and input-duplicate structure: if the same
// txid appears twice in txids, both output positions reference the same
// underlying result rather than issuing the fetch twice (spec.md §4.5
// step 1 dedup/index-mapping, step 6 position-preserving output).
func (s *Service) FetchTransactionsBatch(ctx context.Context, txids []string) ([]*models.Transaction, error) {
	// Step 1: dedup, building unique-txid -> all positions that want it.
	positions := make(map[string][]int, len(txids))
	unique := make([]string, 0, len(txids))
	for i, txid := range txids {
		if _, seen := positions[txid]; !seen {
			unique = append(unique, txid)
		}
		positions[txid] = append(positions[txid], i)
	}

	// Step 2: concurrent fetch of the unique set.
	results := make(map[string]*models.Transaction, len(unique))
	var mu sync.Mutex
	var wg sync.WaitGroup
	failures := 0

	for _, txid := range unique {
		wg.Add(1)
		go func(txid string) {
			defer wg.Done()
			tx, err := s.FetchTransaction(ctx, txid)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				return
			}
			results[txid] = &tx
		}(txid)
	}
	wg.Wait()

	// Steps 3-5: log at escalating severity by failure fraction.
	if len(unique) > 0 {
		rate := float64(failures) / float64(len(unique))
		switch {
		case rate > 0.5:
			log.Printf("chainservice: batch fetch lost more than half the set (%d/%d failed)", failures, len(unique))
		case rate >= 0.1:
			log.Printf("chainservice: batch fetch degraded (%d/%d failed)", failures, len(unique))
		case failures > 0:
			log.Printf("chainservice: batch fetch had isolated failures (%d/%d)", failures, len(unique))
		}
	}

	// Step 6: reconstruct output preserving input order and duplicate
	// references — two positions for the same txid point at the same
	// *models.Transaction.
	out := make([]*models.Transaction, len(txids))
	for txid, idxs := range positions {
		tx := results[txid] // nil if the fetch failed; callers treat nils as skips.
		for _, idx := range idxs {
			out[idx] = tx
		}
	}
	return out, nil
}
