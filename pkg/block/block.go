// Package block defines account-chain blocks, their hashing and JSON encoding.
package block

import (
	"fmt"

	"github.com/getcanoe/canoe-sync/pkg/crypto"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// Kind is the type of an account-chain block.
type Kind uint8

// Block kinds.
const (
	KindOpen Kind = iota + 1
	KindSend
	KindReceive
	KindChange
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindSend:
		return "send"
	case KindReceive:
		return "receive"
	case KindChange:
		return "change"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind parses a wire kind name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "open":
		return KindOpen, nil
	case "send":
		return KindSend, nil
	case "receive":
		return KindReceive, nil
	case "change":
		return KindChange, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Block is one signed entry of an account chain. A block is immutable once
// signed; attaching work produces a copy.
type Block struct {
	Kind           Kind
	Account        types.Account
	Previous       types.Hash    // zero for open
	Source         types.Hash    // open and receive: send being received
	Destination    types.Account // send only
	Representative types.Account // open and change
	Balance        types.Amount  // account balance after this block

	// Amount is informational metadata reported by the ledger node.
	// It is not part of the hash.
	Amount types.Amount

	Work      types.Work
	Signature []byte
}

// Hash computes the block identity. Work, signature and amount are excluded
// so the hash is stable across signing and PoW.
func (b *Block) Hash() types.Hash {
	balance := b.Balance.Bytes32()
	return crypto.HashParts(
		[]byte{byte(b.Kind)},
		b.Account[:],
		b.Previous[:],
		b.Source[:],
		b.Destination[:],
		b.Representative[:],
		balance[:],
	)
}

// Sign computes the hash and attaches the signature.
func (b *Block) Sign(s crypto.Signer) error {
	if s.Account() != b.Account {
		return fmt.Errorf("%w: signer %s, block %s", ErrWrongSigner, s.Account(), b.Account)
	}
	sig, err := s.Sign(b.Hash())
	if err != nil {
		return fmt.Errorf("sign block: %w", err)
	}
	b.Signature = sig
	return nil
}

// Verify checks the signature against the block's account.
func (b *Block) Verify() error {
	if len(b.Signature) == 0 {
		return ErrMissingSignature
	}
	if !crypto.VerifySignature(b.Hash(), b.Signature, b.Account) {
		return ErrBadSignature
	}
	return nil
}

// WithWork returns a copy of the block with work attached.
func (b Block) WithWork(w types.Work) Block {
	b.Work = w
	if b.Signature != nil {
		b.Signature = append([]byte(nil), b.Signature...)
	}
	return b
}

// HasWork reports whether PoW is attached.
func (b *Block) HasWork() bool {
	return !b.Work.IsZero()
}
