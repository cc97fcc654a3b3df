package xpub

import "testing"

func TestDeriveRejectsOversizedCount(t *testing.T) {
	_, err := Derive(DeriveParams{Xpub: "xpub000", Count: maxDeriveCount + 1})
	if err == nil {
		t.Fatal("expected an error for a count above the cap")
	}
}

func TestDeriveRejectsMalformedXpub(t *testing.T) {
	_, err := Derive(DeriveParams{Xpub: "not-an-xpub", Count: 1})
	if err == nil {
		t.Fatal("expected an error for an unparseable extended public key")
	}
}
