// Package pow generates and checks the proof of work attached to blocks.
package pow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/getcanoe/canoe-sync/pkg/types"
)

// DefaultThreshold is the minimum work value accepted by ledger nodes.
const DefaultThreshold uint64 = 0xffffffc000000000

// PoW errors.
var (
	ErrInsufficientWork = errors.New("work does not meet threshold")
	ErrNonceExhausted   = errors.New("nonce space exhausted")
)

// Value computes the work value of nonce for hash: the 8-byte blake2b
// digest of nonce (little-endian) followed by hash, read little-endian.
func Value(hash types.Hash, nonce types.Work) uint64 {
	var buf [8 + types.HashSize]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(nonce))
	copy(buf[8:], hash[:])
	return value(buf[:])
}

func value(buf []byte) uint64 {
	h, _ := blake2b.New(8, nil)
	h.Write(buf)
	return binary.LittleEndian.Uint64(h.Sum(nil))
}

// Validate checks that work meets threshold for hash.
func Validate(hash types.Hash, work types.Work, threshold uint64) error {
	if v := Value(hash, work); v < threshold {
		return fmt.Errorf("%w: value %016x < %016x", ErrInsufficientWork, v, threshold)
	}
	return nil
}

// ParseThreshold decodes a hex threshold. An empty string yields the default.
func ParseThreshold(s string) (uint64, error) {
	if s == "" {
		return DefaultThreshold, nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse threshold %q: %w", s, err)
	}
	return v, nil
}
