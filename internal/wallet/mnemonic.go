// Package wallet implements the wallet: the single root of mutation for the
// ledger, the work pool and the ready queue, plus its keys and persistence.
package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// MnemonicFromSeed encodes the seed as a 24-word BIP-39 backup phrase.
func MnemonicFromSeed(seed []byte) (string, error) {
	if len(seed) != SeedSize {
		return "", fmt.Errorf("%w: seed must be %d bytes, got %d", ErrInvalidSeed, SeedSize, len(seed))
	}
	mnemonic, err := bip39.NewMnemonic(seed)
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// SeedFromMnemonic recovers the seed from a 24-word backup phrase.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", ErrInvalidSeed)
	}
	seed, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: mnemonic encodes %d bytes, want %d", ErrInvalidSeed, len(seed), SeedSize)
	}
	return seed, nil
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39
// (correct word count, valid words, valid checksum).
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}
