package chainservice

import (
	"encoding/json"

	"github.com/rawblock/coinjoin-engine/pkg/models"
)

// rawAddressInfo mirrors mempool.space's GET /address/{address} shape:
// confirmed and mempool activity reported as separate stat blocks.
type rawAddressInfo struct {
	Address     string        `json:"address"`
	ChainStats  rawAddrStats  `json:"chain_stats"`
	MempoolStats rawAddrStats `json:"mempool_stats"`
}

type rawAddrStats struct {
	FundedTxoCount int   `json:"funded_txo_count"`
	FundedTxoSum   int64 `json:"funded_txo_sum"`
	SpentTxoCount  int   `json:"spent_txo_count"`
	SpentTxoSum    int64 `json:"spent_txo_sum"`
	TxCount        int   `json:"tx_count"`
}

// ParseAddressInfo decodes an address summary and detects the
// compact-summary condition (§4.5.2): a non-zero tx_count (chain plus
// mempool) with zero chain_stats funded/spent counts.
func ParseAddressInfo(body []byte) (models.Address, error) {
	var raw rawAddressInfo
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Address{}, err
	}

	addr := models.Address{
		Address:          raw.Address,
		ConfirmedBalance: raw.ChainStats.FundedTxoSum - raw.ChainStats.SpentTxoSum,
		MempoolDelta:     raw.MempoolStats.FundedTxoSum - raw.MempoolStats.SpentTxoSum,
		TotalReceived:    raw.ChainStats.FundedTxoSum,
		TotalSent:        raw.ChainStats.SpentTxoSum,
		TxCount:          raw.ChainStats.TxCount + raw.MempoolStats.TxCount,
		ReceivingCount:   raw.ChainStats.FundedTxoCount,
		SpendingCount:    raw.ChainStats.SpentTxoCount,
	}

	if addr.TxCount > 0 && addr.ReceivingCount == 0 && addr.SpendingCount == 0 {
		addr.CompactSummary = true
	}

	return addr, nil
}

// ParseTransactionList decodes a page of an address's transaction
// history (GET /address/{address}/txs and its chain/txid-paginated
// continuations return the same array-of-transaction shape).
func ParseTransactionList(body []byte) ([]models.Transaction, error) {
	var raws []rawTx
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, err
	}
	txs := make([]models.Transaction, 0, len(raws))
	for _, raw := range raws {
		txs = append(txs, normalizeTransaction(raw))
	}
	return txs, nil
}

func marshalTransactionList(txs []models.Transaction) ([]byte, error) {
	return json.Marshal(txs)
}

// IsCompactPage reports whether a page of requested size pageSize came
// back as a majority of unexpectedly short entries — the upstream's
// "compact summary" degradation for paginated history (§4.5.2): a
// request for 50 items that mostly returns runs of 10.
func IsCompactPage(pageSize, actualCount int) bool {
	if pageSize < 25 {
		return false
	}
	return actualCount > 0 && actualCount <= pageSize/5
}
