// Package xpub implements POST /xpub/derive (spec.md §6). The
// specification treats extended-public-key derivation math as an
// external collaborator (spec.md §1 Non-goals: "Extended-public-key
// derivation math (BIP32/49/84) — specified as an opaque 'derive N
// addresses' function") — rather than hand-rolling BIP32 here, this
// package delegates the actual math to btcsuite/btcutil/hdkeychain, the
// same family of libraries the teacher already depends on for
// chainhash/btcutil, so the "opaque function" the spec calls for is a
// real library call rather than new cryptographic code of our own.
package xpub

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// DerivedAddress is one address produced by walking a derivation path.
type DerivedAddress struct {
	Index    uint32 `json:"index"`
	Path     string `json:"path"`
	Address  string `json:"address"`
	IsChange bool   `json:"isChange"`
}

// DeriveParams are the POST /xpub/derive request parameters (spec.md §6).
type DeriveParams struct {
	Xpub           string
	DerivationPath string
	StartIndex     uint32
	Count          int
	IncludeChange  bool
}

const maxDeriveCount = 1000

// Derive walks params.Count addresses (and, if requested, their change
// counterparts) starting at params.StartIndex beneath the xpub's own
// account level — the caller-supplied DerivationPath is accepted for
// bookkeeping/labeling only, since an already-extended public key's
// remaining path is exactly "/{change}/{index}" (spec.md's opaque
// derivation contract; internal branch structure beyond that is a
// BIP32/44/49/84 wallet-layout detail outside this gateway's concern).
func Derive(params DeriveParams) ([]DerivedAddress, error) {
	if params.Count <= 0 || params.Count > maxDeriveCount {
		return nil, fmt.Errorf("count must be between 1 and %d", maxDeriveCount)
	}

	key, err := hdkeychain.NewKeyFromString(params.Xpub)
	if err != nil {
		return nil, fmt.Errorf("parsing extended public key: %w", err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("expected an extended *public* key")
	}

	receiveBranch, err := key.Derive(0)
	if err != nil {
		return nil, fmt.Errorf("deriving receive branch: %w", err)
	}

	var out []DerivedAddress
	for i := uint32(0); i < uint32(params.Count); i++ {
		idx := params.StartIndex + i
		addr, err := deriveAddress(receiveBranch, idx)
		if err != nil {
			return nil, fmt.Errorf("deriving index %d: %w", idx, err)
		}
		out = append(out, DerivedAddress{
			Index:   idx,
			Path:    fmt.Sprintf("%s/0/%d", params.DerivationPath, idx),
			Address: addr,
		})
	}

	if params.IncludeChange {
		changeBranch, err := key.Derive(1)
		if err != nil {
			return nil, fmt.Errorf("deriving change branch: %w", err)
		}
		for i := uint32(0); i < uint32(params.Count); i++ {
			idx := params.StartIndex + i
			addr, err := deriveAddress(changeBranch, idx)
			if err != nil {
				return nil, fmt.Errorf("deriving change index %d: %w", idx, err)
			}
			out = append(out, DerivedAddress{
				Index:    idx,
				Path:     fmt.Sprintf("%s/1/%d", params.DerivationPath, idx),
				Address:  addr,
				IsChange: true,
			})
		}
	}

	return out, nil
}

func deriveAddress(branch *hdkeychain.ExtendedKey, index uint32) (string, error) {
	child, err := branch.Derive(index)
	if err != nil {
		return "", err
	}
	addr, err := child.Address(&chaincfg.MainNetParams)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
