package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// SignatureSize is the length of a serialized Schnorr signature.
const SignatureSize = 64

// Signer signs block hashes on behalf of one account.
type Signer interface {
	// Sign produces a Schnorr signature over a block hash.
	Sign(hash types.Hash) ([]byte, error)
	// Account returns the account (compressed public key) of the signer.
	Account() types.Account
}

// PrivateKey wraps a secp256k1 private key for Schnorr signing.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// GenerateKey creates a new random secp256k1 private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// PrivateKeyFromBytes creates a PrivateKey from a 32-byte secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// Sign produces a Schnorr signature over a block hash.
func (pk *PrivateKey) Sign(hash types.Hash) ([]byte, error) {
	sig, err := schnorr.Sign(pk.key, hash[:])
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// PublicKey returns the compressed 33-byte public key.
func (pk *PrivateKey) PublicKey() []byte {
	return pk.key.PubKey().SerializeCompressed()
}

// Account returns the account owned by this key.
func (pk *PrivateKey) Account() types.Account {
	var a types.Account
	copy(a[:], pk.PublicKey())
	return a
}

// Serialize returns the 32-byte private key scalar.
func (pk *PrivateKey) Serialize() []byte {
	return pk.key.Serialize()
}

// Zero securely zeroes the private key memory.
func (pk *PrivateKey) Zero() {
	pk.key.Zero()
}

// VerifySignature checks a Schnorr signature over hash against the account's
// public key. Returns false on any parse error.
func VerifySignature(hash types.Hash, signature []byte, account types.Account) bool {
	pubKey, err := secp256k1.ParsePubKey(account[:])
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pubKey)
}
