package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/multiformats/go-base32"
	"github.com/zeebo/blake3"
)

// AccountSize is the length of an account key (compressed secp256k1 public key).
const AccountSize = 33

// Address layout: prefix + base32(pubkey || checksum).
const (
	AddressPrefix   = "xrb_"
	checksumSize    = 2
	encodedBodySize = 56
	AddressLength   = len(AddressPrefix) + encodedBodySize
)

const addressAlphabet = "13456789abcdefghijkmnopqrstuwxyz"

var addressEncoding = base32.NewEncoding(addressAlphabet).WithPadding(base32.NoPadding)

// ErrInvalidAddress is returned for malformed account addresses.
var ErrInvalidAddress = errors.New("invalid address")

// Account identifies a wallet account by its public key.
type Account [AccountSize]byte

// IsZero returns true if the account is all zeros.
func (a Account) IsZero() bool {
	return a == Account{}
}

// Bytes returns a copy of the public key.
func (a Account) Bytes() []byte {
	b := make([]byte, AccountSize)
	copy(b, a[:])
	return b
}

// String returns the xrb_ address of the account.
func (a Account) String() string {
	buf := make([]byte, 0, AccountSize+checksumSize)
	buf = append(buf, a[:]...)
	buf = append(buf, accountChecksum(a)...)
	return AddressPrefix + addressEncoding.EncodeToString(buf)
}

// MarshalJSON encodes the account as its address.
func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// MarshalText implements encoding.TextMarshaler.
func (a Account) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Account) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Account{}
		return nil
	}
	parsed, err := ParseAccount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// UnmarshalJSON decodes an address string into an account.
func (a *Account) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}

// AccountFromPubKey builds an account from a compressed public key.
func AccountFromPubKey(pub []byte) (Account, error) {
	if len(pub) != AccountSize {
		return Account{}, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidAddress, AccountSize, len(pub))
	}
	var a Account
	copy(a[:], pub)
	return a, nil
}

// ValidateAddress performs the local syntactic checks on an address:
// prefix, length and alphabet. It does not verify the checksum.
func ValidateAddress(s string) error {
	if !strings.HasPrefix(s, AddressPrefix) {
		return fmt.Errorf("%w: missing %s prefix", ErrInvalidAddress, AddressPrefix)
	}
	if len(s) != AddressLength {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidAddress, len(s), AddressLength)
	}
	for _, c := range s[len(AddressPrefix):] {
		if !strings.ContainsRune(addressAlphabet, c) {
			return fmt.Errorf("%w: illegal character %q", ErrInvalidAddress, c)
		}
	}
	return nil
}

// ParseAccount decodes an xrb_ address and verifies its checksum.
func ParseAccount(s string) (Account, error) {
	if err := ValidateAddress(s); err != nil {
		return Account{}, err
	}
	raw, err := addressEncoding.DecodeString(s[len(AddressPrefix):])
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != AccountSize+checksumSize {
		return Account{}, fmt.Errorf("%w: decoded %d bytes", ErrInvalidAddress, len(raw))
	}
	var a Account
	copy(a[:], raw[:AccountSize])
	if !bytes.Equal(raw[AccountSize:], accountChecksum(a)) {
		return Account{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return a, nil
}

func accountChecksum(a Account) []byte {
	sum := blake3.Sum256(a[:])
	return sum[:checksumSize]
}
