package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// SeedSize is the length of a wallet seed in bytes.
const SeedSize = 32

// ErrInvalidSeed is returned for seeds that are not 64 upper-case hex characters.
var ErrInvalidSeed = errors.New("invalid seed")

// ValidateSeed checks that s is exactly 64 upper-case hexadecimal characters.
func ValidateSeed(s string) error {
	if len(s) != SeedSize*2 {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidSeed, len(s), SeedSize*2)
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F') {
			return fmt.Errorf("%w: illegal character %q", ErrInvalidSeed, c)
		}
	}
	return nil
}

// ParseSeed validates and decodes a hex seed.
func ParseSeed(s string) ([]byte, error) {
	if err := ValidateSeed(s); err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, err)
	}
	return seed, nil
}

// GenerateSeed returns a fresh random seed.
func GenerateSeed() ([]byte, error) {
	seed, err := bip39.NewEntropy(SeedSize * 8)
	if err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	return seed, nil
}

// SeedHex encodes a seed in its canonical upper-case hex form.
func SeedHex(seed []byte) string {
	return strings.ToUpper(hex.EncodeToString(seed))
}
