package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Work is a proof-of-work nonce attached to a block. Zero means no work.
type Work uint64

// IsZero returns true if no work is attached.
func (w Work) IsZero() bool {
	return w == 0
}

// String returns the 16 character hex encoding used on the wire.
func (w Work) String() string {
	return fmt.Sprintf("%016x", uint64(w))
}

// ParseWork decodes a hex work value.
func ParseWork(s string) (Work, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) > 16 {
		return 0, fmt.Errorf("work %q longer than 16 hex characters", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse work: %w", err)
	}
	return Work(v), nil
}

// MarshalJSON encodes the work as hex.
func (w Work) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

// UnmarshalJSON decodes hex work.
func (w *Work) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseWork(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
