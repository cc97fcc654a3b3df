package chainservice

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/coinjoin-engine/internal/upstream"
)

// ValidateTxid rejects a malformed txid at the API boundary before it
// reaches the endpoint pool — a 64-char hex string must parse as a
// chainhash.Hash. Internal recursive trace fetches skip this (the txids
// they pass came from an already-parsed transaction, not raw user input).
func ValidateTxid(txid string) error {
	if len(txid) != chainhash.MaxHashStringSize {
		return fmt.Errorf("%s: %w: expected %d hex characters", txid, upstream.ErrInvalidInput, chainhash.MaxHashStringSize)
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return fmt.Errorf("%s: %w: %v", txid, upstream.ErrInvalidInput, err)
	}
	return nil
}

// ValidateAddress rejects a malformed address at the API boundary.
// Accepts any network btcutil recognizes (mainnet, testnet, regtest)
// since the upstream, not this gateway, decides which chain it actually
// serves.
func ValidateAddress(address string) error {
	for _, params := range []*chaincfg.Params{
		&chaincfg.MainNetParams, &chaincfg.TestNet3Params, &chaincfg.RegressionNetParams,
	} {
		if _, err := btcutil.DecodeAddress(address, params); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%s: %w: not a valid bitcoin address", address, upstream.ErrInvalidInput)
}
