package chainservice

import (
	"testing"
)

func TestNormalizeTransactionComputesVsizeFromWeight(t *testing.T) {
	body := []byte(`{
		"txid": "abc",
		"version": 2,
		"locktime": 0,
		"size": 250,
		"weight": 998,
		"vin": [{"txid":"prev","vout":0,"prevout":{"scriptpubkey_address":"bc1qsender","scriptpubkey_type":"v0_p2wpkh","value":100000}}],
		"vout": [{"scriptpubkey_address":"bc1qreceiver","scriptpubkey_type":"v0_p2wpkh","value":90000}],
		"status": {"confirmed": true, "block_height": 800000, "block_hash": "hash", "block_time": 1700000000}
	}`)

	tx, err := ParseTransaction(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Vsize != 250 { // ceil(998/4) = 250
		t.Fatalf("expected vsize 250, got %d", tx.Vsize)
	}
	if tx.Fee == nil || *tx.Fee != 10000 {
		t.Fatalf("expected fee 10000 computed from known inputs, got %v", tx.Fee)
	}
	if tx.BlockHeight == nil || *tx.BlockHeight != 800000 {
		t.Fatal("expected confirmed block height to be set")
	}
	if tx.Outputs[0].ScriptType != "P2WPKH" {
		t.Fatalf("expected v0_ prefix stripped to P2WPKH, got %s", tx.Outputs[0].ScriptType)
	}
}

func TestNormalizeTransactionUnconfirmedWhenStatusMissing(t *testing.T) {
	body := []byte(`{"txid":"abc","vin":[],"vout":[{"scriptpubkey_address":"bc1q","value":1000}]}`)

	tx, err := ParseTransaction(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tx.IsMempoolOnly() {
		t.Fatal("expected missing status to normalize to mempool-only")
	}
}

func TestNormalizeTransactionFeeNullWhenInputUnknown(t *testing.T) {
	body := []byte(`{
		"txid": "abc",
		"vin": [{"txid":"prev","vout":0}],
		"vout": [{"scriptpubkey_address":"bc1q","value":1000}]
	}`)

	tx, err := ParseTransaction(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Fee != nil {
		t.Fatalf("expected nil fee when an input's prevout value is unknown, got %v", *tx.Fee)
	}
}

func TestNormalizeOutputGetsPlaceholderWhenAddressless(t *testing.T) {
	body := []byte(`{"txid":"abc","vin":[],"vout":[{"scriptpubkey":"6a0b68656c6c6f776f726c64","value":0}]}`)

	tx, err := ParseTransaction(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Outputs[0].Address != "" {
		t.Fatal("expected empty address for an OP_RETURN-style output")
	}
	if tx.Outputs[0].Placeholder == "" {
		t.Fatal("expected a display placeholder for the addressless output")
	}
}
