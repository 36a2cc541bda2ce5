package wallet

import (
	"bytes"
	"testing"

	"github.com/getcanoe/canoe-sync/pkg/crypto"
)

// testSeed returns a deterministic seed for testing.
func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := ParseSeed(testSeedHex)
	if err != nil {
		t.Fatalf("ParseSeed() error: %v", err)
	}
	return seed
}

func TestNewMasterKey(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}
	if len(master.PrivateKeyBytes()) != 32 {
		t.Errorf("private key length = %d, want 32", len(master.PrivateKeyBytes()))
	}
	if len(master.PublicKeyBytes()) != 33 {
		t.Errorf("public key length = %d, want 33", len(master.PublicKeyBytes()))
	}
}

func TestNewMasterKey_InvalidSeedLength(t *testing.T) {
	for _, n := range []int{0, 16, 64} {
		if _, err := NewMasterKey(make([]byte, n)); err == nil {
			t.Errorf("expected error for %d-byte seed", n)
		}
	}
}

func TestDeriveAccount(t *testing.T) {
	master, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey() error: %v", err)
	}

	k0, err := master.DeriveAccount(0)
	if err != nil {
		t.Fatalf("DeriveAccount(0) error: %v", err)
	}
	k1, err := master.DeriveAccount(1)
	if err != nil {
		t.Fatalf("DeriveAccount(1) error: %v", err)
	}
	if bytes.Equal(k0.PrivateKeyBytes(), k1.PrivateKeyBytes()) {
		t.Error("different indices should produce different keys")
	}

	// Equivalent to stepwise derivation.
	c, _ := master.DeriveChild(PurposeBIP44)
	c, _ = c.DeriveChild(CoinType)
	c, _ = c.DeriveChild(0x80000000)
	if !bytes.Equal(c.PrivateKeyBytes(), k0.PrivateKeyBytes()) {
		t.Error("DeriveAccount(0) should equal m/44'/165'/0'")
	}

	again, _ := master.DeriveAccount(0)
	if !bytes.Equal(again.PrivateKeyBytes(), k0.PrivateKeyBytes()) {
		t.Error("derivation should be deterministic")
	}
}

func TestSigner_MatchesAccount(t *testing.T) {
	master, _ := NewMasterKey(testSeed(t))
	key, err := master.DeriveAccount(3)
	if err != nil {
		t.Fatalf("DeriveAccount() error: %v", err)
	}

	signer, err := key.Signer()
	if err != nil {
		t.Fatalf("Signer() error: %v", err)
	}
	acct, err := key.Account()
	if err != nil {
		t.Fatalf("Account() error: %v", err)
	}
	if signer.Account() != acct {
		t.Fatal("signer account differs from HD public key")
	}

	hash := crypto.Hash([]byte("test message"))
	sig, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !crypto.VerifySignature(hash, sig, acct) {
		t.Error("signature from HD-derived key should verify")
	}
}
