package chainservice

import (
	"context"
	"fmt"
	"log"

	"github.com/rawblock/coinjoin-engine/internal/cache"
	"github.com/rawblock/coinjoin-engine/pkg/models"
)

const maxHistoryPages = 200 // spec.md §4.5 step (e): 200-page safety net.
const consecutiveDupeStop = 3

// FetchAddressInfo returns the confirmed+mempool balance summary for an
// address, backfilling via pagination when the upstream reports the
// compact-summary condition (§4.5.2), up to min(maxTransactions, 500).
func (s *Service) FetchAddressInfo(ctx context.Context, address string, maxTransactions int) (models.Address, error) {
	minPriority := s.addressPriority.MinPriorityFor(address)

	result, err := s.Driver.RequestWithFailover(ctx, "/address/"+address, minPriority)
	if err != nil {
		return models.Address{}, err
	}

	info, err := ParseAddressInfo(result.Body)
	if err != nil {
		return models.Address{}, fmt.Errorf("parsing address %s: %w", address, err)
	}

	s.addressPriority.RecordOutcome(address, info.CompactSummary)

	if info.CompactSummary {
		limit := maxTransactions
		if limit <= 0 || limit > 500 {
			limit = 500
		}
		backfilled, err := s.backfillAddressCounts(ctx, address, limit)
		if err == nil {
			info.ReceivingCount = backfilled.ReceivingCount
			info.SpendingCount = backfilled.SpendingCount
			info.CompactSummary = false
		} else {
			log.Printf("chainservice: compact-summary backfill failed for %s: %v", address, err)
		}
	}

	return info, nil
}

func (s *Service) backfillAddressCounts(ctx context.Context, address string, limit int) (models.Address, error) {
	txs, _, err := s.fetchAddressHistoryTxs(ctx, address, limit)
	if err != nil {
		return models.Address{}, err
	}
	var info models.Address
	info.Address = address
	for _, tx := range txs {
		for _, out := range tx.Outputs {
			if out.Address == address {
				info.ReceivingCount++
			}
		}
		for _, in := range tx.Inputs {
			if in.PrevAddress == address {
				info.SpendingCount++
			}
		}
	}
	return info, nil
}

// FetchAddressHistory pages through an address's transaction history and
// returns the txids, newest first, matching the fetch_address_history
// contract (spec.md §3/§4.5/§4.7.2: "→ [txid]"). Callers that need the
// full transaction bodies fetch them in a single batched call via
// FetchTransactionsBatch, rather than paying for a per-page full fetch
// here.
func (s *Service) FetchAddressHistory(ctx context.Context, address string, maxResults int) ([]string, bool, error) {
	txs, fromCache, err := s.fetchAddressHistoryTxs(ctx, address, maxResults)
	if err != nil {
		return nil, false, err
	}
	txids := make([]string, len(txs))
	for i, tx := range txs {
		txids[i] = tx.Txid
	}
	return txids, fromCache, nil
}

// fetchAddressHistoryTxs pages through an address's transaction history,
// deduplicating by txid and stopping on an empty page, maxResults
// reached, N consecutive dupe-only pages, offset past 2x maxResults, or
// the 200-page safety net. It does not fetch the address summary, so
// there is no stop on reaching the summary's expected transaction total.
// maxResults <= 0 means "no limit, rely on the other stop conditions".
// Cache is bypassed entirely whenever maxResults is given, since a
// bounded request is assumed to want the freshest possible slice; an
// unbounded walk is cached only when it returned at least one
// transaction (spec.md Open Question 3).
func (s *Service) fetchAddressHistoryTxs(ctx context.Context, address string, maxResults int) ([]models.Transaction, bool, error) {
	bypassCache := maxResults > 0
	key := cache.AddressHistoryKey(address)

	if !bypassCache {
		if cached, ok := s.cacheGetHistory(ctx, key); ok {
			return cached, true, nil
		}
	}

	// History pages start at priority 0 like transaction fetches; the
	// per-address compact penalty only gates summary fetches.
	minPriority := 0
	pageSize := s.cfg.DefaultPageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	seen := make(map[string]bool)
	var all []models.Transaction
	lastTxid := ""
	consecutiveDupeOnlyPages := 0
	compactPagesSeen := false

	for page := 0; page < maxHistoryPages; page++ {
		path := "/address/" + address + "/txs/chain"
		if lastTxid != "" {
			path += "/" + lastTxid
		}

		result, err := s.Driver.RequestWithFailover(ctx, path, minPriority)
		if err != nil {
			if len(all) > 0 {
				break // partial results are still useful (spec.md §7).
			}
			return nil, false, err
		}

		txs, err := ParseTransactionList(result.Body)
		if err != nil {
			return nil, false, fmt.Errorf("parsing address history for %s: %w", address, err)
		}
		if len(txs) == 0 {
			break // (a) no more pages.
		}

		if IsCompactPage(pageSize, len(txs)) {
			compactPagesSeen = true
		}

		newCount := 0
		for _, tx := range txs {
			if seen[tx.Txid] {
				continue
			}
			seen[tx.Txid] = true
			all = append(all, tx)
			newCount++
		}

		if newCount == 0 {
			consecutiveDupeOnlyPages++
		} else {
			consecutiveDupeOnlyPages = 0
		}

		lastTxid = txs[len(txs)-1].Txid

		// (b) maxResults reached.
		if maxResults > 0 && len(all) >= maxResults {
			all = all[:maxResults]
			break
		}
		// (c) N consecutive dupe-only pages.
		if consecutiveDupeOnlyPages >= consecutiveDupeStop {
			break
		}
		// (d) offset has run past 2x maxResults with no sign of stopping.
		if maxResults > 0 && (page+1)*pageSize > 2*maxResults {
			break
		}
	}

	s.addressPriority.RecordOutcome(address, compactPagesSeen)

	if !bypassCache && len(all) > 0 {
		s.cacheSetHistory(ctx, key, all)
	}
	return all, false, nil
}

func (s *Service) cacheGetHistory(ctx context.Context, key string) ([]models.Transaction, bool) {
	body, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		log.Printf("chainservice: cache get failed for %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	txs, err := ParseTransactionList(body)
	if err != nil {
		return nil, false
	}
	return txs, true
}

func (s *Service) cacheSetHistory(ctx context.Context, key string, txs []models.Transaction) {
	body, err := marshalTransactionList(txs)
	if err != nil {
		log.Printf("chainservice: failed to marshal address history for cache: %v", err)
		return
	}
	if err := s.Cache.Set(ctx, key, body, s.cfg.CacheTTLAddressHistory); err != nil {
		log.Printf("chainservice: cache set failed for %s: %v", key, err)
	}
}
